package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gatepass-bot/internal/allocator"
	"gatepass-bot/internal/approval"
	"gatepass-bot/internal/config"
	"gatepass-bot/internal/database"
	"gatepass-bot/internal/httpapi"
	"gatepass-bot/internal/i18n"
	"gatepass-bot/internal/notify"
	"gatepass-bot/internal/webhook"
	"gatepass-bot/internal/workflow"
	"gatepass-bot/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	// Logger config from env (LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT)
	loggerConfig := &logger.Config{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
		Output: getEnv("LOG_OUTPUT", "stdout"),
	}
	zapLogger, err := logger.New(loggerConfig, logger.DefaultServiceName)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()
	zap.ReplaceGlobals(zapLogger)

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Invalid configuration", zap.Error(err))
	}

	db, err := database.New(database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		zap.L().Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	zap.L().Info("Running database migrations...")
	if err := db.RunMigrations(cfg.MigrationsDir); err != nil {
		zap.L().Fatal("Failed to run migrations", zap.Error(err))
	}

	catalog := i18n.NewCatalog()
	chat := notify.NewClient(cfg.ProviderAPIURL, cfg.ProviderPhoneNumberID, cfg.ProviderToken)
	sms := notify.NewSMS(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromPhone)
	approver := approval.NewService(db)
	buses := allocator.New(db)
	engine := workflow.NewEngine(db, approver, buses, chat, sms, catalog, cfg.BotPhoneNumber)
	gate := webhook.NewHandler(cfg.WebhookVerifyToken, db, engine)
	api := httpapi.NewServer(db, cfg.JWTSecret, cfg.AccessTokenTTL)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	gate.Register(router)
	api.Register(router)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zap.L().Info("Server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zap.L().Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zap.L().Error("Shutdown error", zap.Error(err))
	}
	// Let in-flight webhook processing finish before closing the database.
	gate.Wait()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
