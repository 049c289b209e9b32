package approval

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"gatepass-bot/internal/database"
	"gatepass-bot/internal/models"
)

type fakeStore struct {
	created []*models.ApprovalCode
	noMatch bool
}

func (f *fakeStore) CreateApprovalCode(_ context.Context, code *models.ApprovalCode) error {
	code.CreatedAt = time.Now()
	f.created = append(f.created, code)
	return nil
}

func (f *fakeStore) VerifyCodeAndApprove(_ context.Context, _ uuid.UUID, _ string, _ time.Time) (*models.ApprovalCode, []database.ApprovedRequest, error) {
	if f.noMatch {
		return nil, nil, sql.ErrNoRows
	}
	return &models.ApprovalCode{Verified: true}, nil, nil
}

func TestIssueGeneratesSixDigitCode(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)
	issuedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issuedAt }

	code, err := svc.Issue(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	if len(code.Code) != CodeLength {
		t.Fatalf("code length = %d, want %d", len(code.Code), CodeLength)
	}
	for _, r := range code.Code {
		if r < '0' || r > '9' {
			t.Fatalf("code %q contains non-digit", code.Code)
		}
	}
	if !code.ExpiresAt.Equal(issuedAt.Add(CodeTTL)) {
		t.Fatalf("expiry = %v, want issue time + %v", code.ExpiresAt, CodeTTL)
	}
	if len(store.created) != 1 {
		t.Fatalf("code was not persisted")
	}
}

func TestIssuedCodesAreNotConstant(t *testing.T) {
	svc := NewService(&fakeStore{})

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := svc.Issue(context.Background(), uuid.New())
		if err != nil {
			t.Fatal(err)
		}
		seen[code.Code] = true
	}
	if len(seen) < 2 {
		t.Fatalf("20 issued codes produced %d distinct values", len(seen))
	}
}

func TestVerifyTranslatesNoRowsToNoMatch(t *testing.T) {
	svc := NewService(&fakeStore{noMatch: true})

	_, _, err := svc.Verify(context.Background(), uuid.New(), "123456")
	if err != ErrNoMatch {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}
