package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gatepass-bot/internal/models"
)

func (db *DB) CreateApprovalCode(ctx context.Context, code *models.ApprovalCode) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO approval_codes (id, parent_id, code, expires_at, verified)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at
	`, code.ID, code.ParentID, code.Code, code.ExpiresAt).Scan(&code.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create approval code: %w", err)
	}
	return nil
}

// ApprovedRequest pairs an exit request approved by a code verification with
// the student it belongs to, so the caller can notify them after commit.
type ApprovedRequest struct {
	Request models.ExitRequest
	Student models.User
}

// VerifyCodeAndApprove runs the whole approval protocol as one transaction:
// lock and consume the newest unverified, unexpired code matching the
// submission, then approve the newest pending request of every student linked
// to the guardian. Row locks on the code and the requests make concurrent
// duplicate submissions of the same code approve at most once.
//
// Returns sql.ErrNoRows when no code matches; the caller treats that as "not
// an approval attempt", not a failure.
func (db *DB) VerifyCodeAndApprove(ctx context.Context, parentID uuid.UUID, submitted string, now time.Time) (*models.ApprovalCode, []ApprovedRequest, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin approval transaction: %w", err)
	}
	defer tx.Rollback()

	var code models.ApprovalCode
	err = tx.QueryRowContext(ctx, `
		SELECT id, parent_id, code, expires_at, verified, created_at
		FROM approval_codes
		WHERE parent_id = $1 AND code = $2 AND verified = FALSE AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, parentID, submitted, now).Scan(
		&code.ID, &code.ParentID, &code.Code, &code.ExpiresAt, &code.Verified, &code.CreatedAt,
	)
	if err != nil {
		// sql.ErrNoRows flows through untranslated: no match is a branch,
		// not an error.
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE approval_codes SET verified = TRUE WHERE id = $1
	`, code.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to mark code verified: %w", err)
	}
	code.Verified = true

	// Fan out across every linked student: one code approves the newest
	// pending request of each of the guardian's students.
	rows, err := tx.QueryContext(ctx, `
		SELECT student_id FROM guardian_links WHERE parent_id = $1
	`, parentID)
	if err != nil {
		return nil, nil, err
	}

	var studentIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		studentIDs = append(studentIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var approved []ApprovedRequest
	for _, studentID := range studentIDs {
		req, err := scanExitRequest(tx.QueryRowContext(ctx, `
			SELECT `+requestColumns+` FROM exit_requests
			WHERE student_id = $1 AND status = 'pending'
			ORDER BY requested_at DESC
			LIMIT 1
			FOR UPDATE
		`, studentID))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE exit_requests
			SET parent_id = $1, status = 'approved', approved_at = $2
			WHERE id = $3
		`, parentID, now, req.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to approve exit request: %w", err)
		}
		req.ParentID = &parentID
		req.Status = models.StatusApproved
		approvedAt := now
		req.ApprovedAt = &approvedAt

		student, err := scanUser(tx.QueryRowContext(ctx, `
			SELECT `+userColumns+` FROM users WHERE id = $1
		`, studentID))
		if err != nil {
			return nil, nil, err
		}

		approved = append(approved, ApprovedRequest{Request: *req, Student: *student})
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit approval transaction: %w", err)
	}

	return &code, approved, nil
}
