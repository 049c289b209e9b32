package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"gatepass-bot/internal/models"
)

type loginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	user, err := s.db.GetUserByPhone(r.Context(), req.PhoneNumber)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := s.signToken(user.ID.String(), user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]string{
			"id":   user.ID.String(),
			"name": user.Name,
			"role": string(user.Role),
		},
	})
}

type scanRequest struct {
	StudentID string `json:"student_id"`
	Action    string `json:"action"`
}

// handleScan verifies check-out and check-in against the student's newest
// exit request: checkout requires an approved request and marks it completed;
// checkin requires a completed request and marks it returned.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Action != "checkout" && req.Action != "checkin" {
		writeError(w, http.StatusBadRequest, "invalid_action")
		return
	}

	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}

	student, err := s.db.GetUserByID(r.Context(), studentID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && student.Role != models.RoleStudent) {
		writeError(w, http.StatusNotFound, "student_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	request, err := s.db.NewestRequestByStudent(r.Context(), studentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	switch req.Action {
	case "checkout":
		if request == nil || request.Status != models.StatusApproved {
			writeJSON(w, http.StatusOK, map[string]string{
				"status": "error", "message": "no valid approved exit request",
			})
			return
		}
		now := time.Now()
		if err := s.db.UpdateRequestStatus(r.Context(), request.ID, models.StatusCompleted, &now); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "success", "message": "student checked out", "method": string(request.Method),
		})

	case "checkin":
		if request == nil || request.Status != models.StatusCompleted {
			writeJSON(w, http.StatusOK, map[string]string{
				"status": "error", "message": "no record of student exiting",
			})
			return
		}
		if err := s.db.UpdateRequestStatus(r.Context(), request.ID, models.StatusReturned, nil); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "success", "message": "student checked in", "method": string(request.Method),
		})
	}
}

type createStudentRequest struct {
	Name            string  `json:"name"`
	PhoneNumber     string  `json:"phone_number"`
	Password        string  `json:"password"`
	UniversityID    *string `json:"university_id"`
	AccommodationID *string `json:"accommodation_id"`
	GuardianName    string  `json:"guardian_name"`
	GuardianPhone   string  `json:"guardian_phone"`
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Name == "" || req.PhoneNumber == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	student := &models.User{
		ID:             uuid.New(),
		Name:           req.Name,
		PhoneNumber:    req.PhoneNumber,
		Role:           models.RoleStudent,
		HashedPassword: string(hash),
		IsActive:       true,
	}
	if student.UniversityID, err = parseOptionalUUID(req.UniversityID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_university_id")
		return
	}
	if student.AccommodationID, err = parseOptionalUUID(req.AccommodationID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_accommodation_id")
		return
	}

	if err := s.db.CreateUser(r.Context(), student); err != nil {
		writeError(w, http.StatusConflict, "user_exists")
		return
	}

	if req.GuardianPhone != "" {
		if err := s.linkOrCreateGuardian(r, student.ID, req.GuardianName, req.GuardianPhone); err != nil {
			writeError(w, http.StatusInternalServerError, "guardian_link_failed")
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": student.ID.String()})
}

func (s *Server) linkOrCreateGuardian(r *http.Request, studentID uuid.UUID, name, phone string) error {
	guardian, err := s.db.GetUserByPhone(r.Context(), phone)
	if errors.Is(err, sql.ErrNoRows) {
		// Guardians created through student registration cannot log in
		// until an admin sets a password; the workflow only needs the
		// phone-to-account mapping.
		guardian = &models.User{
			ID:             uuid.New(),
			Name:           name,
			PhoneNumber:    phone,
			Role:           models.RoleParent,
			HashedPassword: "",
			IsActive:       true,
		}
		if err := s.db.CreateUser(r.Context(), guardian); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return s.db.LinkGuardian(r.Context(), guardian.ID, studentID)
}

func (s *Server) handleListStudentRequests(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}

	requests, err := s.db.ListRequestsByStudent(r.Context(), studentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	type item struct {
		ID           string     `json:"id"`
		Method       string     `json:"method"`
		Status       string     `json:"status"`
		RelativeName string     `json:"relative_name,omitempty"`
		BusID        *string    `json:"bus_id,omitempty"`
		RequestedAt  time.Time  `json:"requested_at"`
		ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	}

	items := make([]item, 0, len(requests))
	for _, req := range requests {
		it := item{
			ID:           req.ID.String(),
			Method:       string(req.Method),
			Status:       string(req.Status),
			RelativeName: req.RelativeName,
			RequestedAt:  req.RequestedAt,
			ApprovedAt:   req.ApprovedAt,
		}
		if req.BusID != nil {
			id := req.BusID.String()
			it.BusID = &id
		}
		items = append(items, it)
	}

	writeJSON(w, http.StatusOK, map[string]any{"requests": items})
}

type createBusRequest struct {
	AccommodationID     string `json:"accommodation_id"`
	UniversityID        string `json:"university_id"`
	Name                string `json:"name"`
	DestinationDistrict string `json:"destination_district"`
	Capacity            int    `json:"capacity"`
}

func (s *Server) handleCreateBus(w http.ResponseWriter, r *http.Request) {
	var req createBusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Name == "" || req.Capacity <= 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	accommodationID, err := uuid.Parse(req.AccommodationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_accommodation_id")
		return
	}
	universityID, err := uuid.Parse(req.UniversityID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_university_id")
		return
	}

	bus := &models.Bus{
		ID:                  uuid.New(),
		AccommodationID:     accommodationID,
		UniversityID:        universityID,
		Name:                req.Name,
		DestinationDistrict: req.DestinationDistrict,
		Capacity:            req.Capacity,
	}
	if err := s.db.CreateBus(r.Context(), bus); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": bus.ID.String()})
}

func (s *Server) handleListBuses(w http.ResponseWriter, r *http.Request) {
	universityID, err := uuid.Parse(r.URL.Query().Get("university_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_university_id")
		return
	}

	buses, err := s.db.ListBuses(r.Context(), universityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	type item struct {
		ID                  string `json:"id"`
		Name                string `json:"name"`
		DestinationDistrict string `json:"destination_district"`
		Capacity            int    `json:"capacity"`
	}

	items := make([]item, 0, len(buses))
	for _, bus := range buses {
		items = append(items, item{
			ID:                  bus.ID.String(),
			Name:                bus.Name,
			DestinationDistrict: bus.DestinationDistrict,
			Capacity:            bus.Capacity,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"buses": items})
}

func parseOptionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
