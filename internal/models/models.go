package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	RoleStudent         UserRole = "student"
	RoleParent          UserRole = "parent"
	RoleAdmin           UserRole = "admin"
	RoleUniversityAdmin UserRole = "university_admin"
	RoleStaff           UserRole = "staff"
)

// Phase is the conversation state machine's current step for a student.
// idle is both the initial state and the rest state after every completed
// or cancelled flow.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseAwaitingExitMethod   Phase = "awaiting_exit_method"
	PhaseAwaitingBus          Phase = "awaiting_bus"
	PhaseAwaitingRelativeName Phase = "awaiting_relative_name"
)

// ParsePhase rejects unknown persisted values instead of letting them
// flow through as opaque strings.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseIdle, PhaseAwaitingExitMethod, PhaseAwaitingBus, PhaseAwaitingRelativeName:
		return p, nil
	}
	return "", fmt.Errorf("unknown conversation phase %q", s)
}

type ExitStatus string

const (
	StatusPending   ExitStatus = "pending"
	StatusApproved  ExitStatus = "approved"
	StatusRejected  ExitStatus = "rejected"
	StatusCompleted ExitStatus = "completed" // student checked out
	StatusReturned  ExitStatus = "returned"  // student checked back in
)

func ParseExitStatus(s string) (ExitStatus, error) {
	switch st := ExitStatus(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusReturned:
		return st, nil
	}
	return "", fmt.Errorf("unknown exit status %q", s)
}

type ExitMethod string

const (
	MethodRelative ExitMethod = "relative"
	MethodBus      ExitMethod = "bus"
	MethodSelf     ExitMethod = "self"
)

type User struct {
	ID              uuid.UUID  `db:"id"`
	Name            string     `db:"name"`
	PhoneNumber     string     `db:"phone_number"`
	Role            UserRole   `db:"role"`
	HashedPassword  string     `db:"hashed_password"`
	AccommodationID *uuid.UUID `db:"accommodation_id"`
	UniversityID    *uuid.UUID `db:"university_id"`
	IsActive        bool       `db:"is_active"`
	CreatedAt       time.Time  `db:"created_at"`
}

// GuardianLink ties a parent account to a student it may approve exits for.
// A parent can be linked to several students and vice versa.
type GuardianLink struct {
	ID        uuid.UUID `db:"id"`
	ParentID  uuid.UUID `db:"parent_id"`
	StudentID uuid.UUID `db:"student_id"`
}

// ConversationState holds the durable per-student machine state. Exactly one
// row per student; an absent row is equivalent to idle. PendingSelection is
// scratch data (comma-joined bus IDs) valid only while in awaiting_bus.
type ConversationState struct {
	ID               uuid.UUID `db:"id"`
	StudentID        uuid.UUID `db:"student_id"`
	Phase            Phase     `db:"phase"`
	Language         string    `db:"language"`
	PendingSelection string    `db:"pending_selection"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type ExitRequest struct {
	ID           uuid.UUID  `db:"id"`
	StudentID    uuid.UUID  `db:"student_id"`
	ParentID     *uuid.UUID `db:"parent_id"`
	BusID        *uuid.UUID `db:"bus_id"`
	Method       ExitMethod `db:"method"`
	RelativeName string     `db:"relative_name"`
	Status       ExitStatus `db:"status"`
	RequestedAt  time.Time  `db:"requested_at"`
	ApprovedAt   *time.Time `db:"approved_at"`
}

// ApprovalCode is a one-time numeric credential proving guardian consent.
// Rows are kept after verification or expiry for audit.
type ApprovalCode struct {
	ID        uuid.UUID `db:"id"`
	ParentID  uuid.UUID `db:"parent_id"`
	Code      string    `db:"code"`
	ExpiresAt time.Time `db:"expires_at"`
	Verified  bool      `db:"verified"`
	CreatedAt time.Time `db:"created_at"`
}

type Bus struct {
	ID                  uuid.UUID `db:"id"`
	AccommodationID     uuid.UUID `db:"accommodation_id"`
	UniversityID        uuid.UUID `db:"university_id"`
	Name                string    `db:"name"`
	DestinationDistrict string    `db:"destination_district"`
	Capacity            int       `db:"capacity"`
	CreatedAt           time.Time `db:"created_at"`
}
