// Package approval issues and verifies the one-time numeric codes that prove
// guardian consent for an exit request.
package approval

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"gatepass-bot/internal/database"
	"gatepass-bot/internal/models"
)

const (
	CodeLength = 6
	CodeTTL    = 5 * time.Minute
)

// ErrNoMatch means no unverified, unexpired code for the guardian equals the
// submission. Callers interpret it as "not an approval attempt", not a
// failure.
var ErrNoMatch = errors.New("no matching approval code")

// Store is the persistence the issuer needs.
type Store interface {
	CreateApprovalCode(ctx context.Context, code *models.ApprovalCode) error
	VerifyCodeAndApprove(ctx context.Context, parentID uuid.UUID, submitted string, now time.Time) (*models.ApprovalCode, []database.ApprovedRequest, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Issue generates a fresh code for the guardian and persists it with a
// five-minute expiry. Multiple unverified codes for the same guardian may
// coexist; verification always matches the newest one.
func (s *Service) Issue(ctx context.Context, parentID uuid.UUID) (*models.ApprovalCode, error) {
	value, err := generateCode(CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate approval code: %w", err)
	}

	code := &models.ApprovalCode{
		ID:        uuid.New(),
		ParentID:  parentID,
		Code:      value,
		ExpiresAt: s.now().Add(CodeTTL),
	}
	if err := s.store.CreateApprovalCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// Verify consumes the newest matching code and approves the pending request
// of every student linked to the guardian, all in one atomic unit. Returns
// ErrNoMatch when nothing matches (including expired codes).
func (s *Service) Verify(ctx context.Context, parentID uuid.UUID, submitted string) (*models.ApprovalCode, []database.ApprovedRequest, error) {
	code, approved, err := s.store.VerifyCodeAndApprove(ctx, parentID, submitted, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNoMatch
	}
	if err != nil {
		return nil, nil, err
	}
	return code, approved, nil
}

func generateCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
