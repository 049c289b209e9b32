// Package httpapi is the REST surface around the workflow core: login,
// check-out/check-in scanning, and the admin operations needed to register
// students, guardians, and buses.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gatepass-bot/internal/database"
	"gatepass-bot/internal/models"
)

type Server struct {
	db        *database.DB
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewServer(db *database.DB, jwtSecret string, tokenTTL time.Duration) *Server {
	return &Server{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *Server) Register(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		staffRoles := s.requireRole(models.RoleStaff, models.RoleUniversityAdmin, models.RoleAdmin)
		adminRoles := s.requireRole(models.RoleUniversityAdmin, models.RoleAdmin)

		r.With(staffRoles).Post("/scan", s.handleScan)
		r.With(adminRoles).Post("/students", s.handleCreateStudent)
		r.With(adminRoles).Get("/students/{studentID}/requests", s.handleListStudentRequests)
		r.With(adminRoles).Post("/buses", s.handleCreateBus)
		r.With(adminRoles).Get("/buses", s.handleListBuses)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
