package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gatepass-bot/internal/models"
)

// ErrBusFull is returned when a conditional bus booking loses the race for
// the last seat.
var ErrBusFull = errors.New("bus is at capacity")

const requestColumns = `id, student_id, parent_id, bus_id, method, relative_name, status, requested_at, approved_at`

func scanExitRequest(row interface{ Scan(...any) error }) (*models.ExitRequest, error) {
	var (
		req       models.ExitRequest
		rawStatus string
	)
	err := row.Scan(
		&req.ID, &req.StudentID, &req.ParentID, &req.BusID, &req.Method,
		&req.RelativeName, &rawStatus, &req.RequestedAt, &req.ApprovedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status, err = models.ParseExitStatus(rawStatus)
	if err != nil {
		return nil, fmt.Errorf("exit request %s: %w", req.ID, err)
	}
	return &req, nil
}

func (db *DB) CreateExitRequest(ctx context.Context, req *models.ExitRequest) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO exit_requests (id, student_id, parent_id, bus_id, method, relative_name, status, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING requested_at
	`, req.ID, req.StudentID, req.ParentID, req.BusID, req.Method,
		req.RelativeName, req.Status, req.ApprovedAt).Scan(&req.RequestedAt)

	if err != nil {
		return fmt.Errorf("failed to create exit request: %w", err)
	}
	return nil
}

// CreateBusExitRequest books a seat with a conditional insert: the capacity
// check and the write are a single statement, so two students racing for the
// last seat cannot both commit. Returns ErrBusFull when the seat is gone.
func (db *DB) CreateBusExitRequest(ctx context.Context, req *models.ExitRequest) error {
	if req.BusID == nil {
		return fmt.Errorf("bus exit request requires a bus id")
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO exit_requests (id, student_id, bus_id, method, status, approved_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE (
			SELECT COUNT(*) FROM exit_requests
			WHERE bus_id = $3 AND status IN ('approved', 'completed')
		) < (SELECT capacity FROM buses WHERE id = $3)
	`, req.ID, req.StudentID, req.BusID, req.Method, req.Status, req.ApprovedAt)

	if err != nil {
		return fmt.Errorf("failed to create bus exit request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBusFull
	}
	return nil
}

// NewestRequestByStudent returns the most recent exit request, which the
// workflow treats as authoritative for check-out and check-in eligibility.
func (db *DB) NewestRequestByStudent(ctx context.Context, studentID uuid.UUID) (*models.ExitRequest, error) {
	return scanExitRequest(db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM exit_requests
		WHERE student_id = $1
		ORDER BY requested_at DESC
		LIMIT 1
	`, studentID))
}

func (db *DB) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.ExitStatus, approvedAt *time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE exit_requests
		SET status = $1,
		    approved_at = COALESCE($2, approved_at)
		WHERE id = $3
	`, status, approvedAt, id)

	if err != nil {
		return fmt.Errorf("failed to update exit request status: %w", err)
	}
	return nil
}

func (db *DB) ListRequestsByStudent(ctx context.Context, studentID uuid.UUID) ([]models.ExitRequest, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM exit_requests
		WHERE student_id = $1
		ORDER BY requested_at DESC
	`, studentID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.ExitRequest
	for rows.Next() {
		req, err := scanExitRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}

	return requests, rows.Err()
}
