package config

import (
	"fmt"
	"os"
	"time"
)

// Config is assembled from environment variables in main (after godotenv has
// loaded .env, if present).
type Config struct {
	HTTPAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Inbound webhook handshake token (hub.verify_token).
	WebhookVerifyToken string

	// Outbound chat provider (Meta graph style).
	ProviderAPIURL        string
	ProviderPhoneNumberID string
	ProviderToken         string
	// Bot number advertised in guardian SMS deep links.
	BotPhoneNumber string

	// SMS channel for approval codes.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromPhone  string

	JWTSecret      string
	AccessTokenTTL time.Duration

	MigrationsDir string

	LogLevel  string
	LogFormat string
	LogOutput string
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBUser:                os.Getenv("DB_USER"),
		DBPassword:            os.Getenv("DB_PASSWORD"),
		DBName:                os.Getenv("DB_NAME"),
		DBSSLMode:             getEnv("DB_SSLMODE", "disable"),
		WebhookVerifyToken:    os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		ProviderAPIURL:        getEnv("PROVIDER_API_URL", "https://graph.facebook.com/v18.0"),
		ProviderPhoneNumberID: os.Getenv("PROVIDER_PHONE_NUMBER_ID"),
		ProviderToken:         os.Getenv("PROVIDER_TOKEN"),
		BotPhoneNumber:        os.Getenv("BOT_PHONE_NUMBER"),
		TwilioAccountSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromPhone:       os.Getenv("TWILIO_FROM_PHONE"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		AccessTokenTTL:        time.Hour,
		MigrationsDir:         getEnv("MIGRATIONS_DIR", "migrations"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
	}

	if ttl := os.Getenv("ACCESS_TOKEN_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCESS_TOKEN_TTL: %w", err)
		}
		cfg.AccessTokenTTL = d
	}

	if cfg.WebhookVerifyToken == "" {
		return Config{}, fmt.Errorf("WEBHOOK_VERIFY_TOKEN is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
