package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"gatepass-bot/internal/models"
)

const userColumns = `id, name, phone_number, role, hashed_password, accommodation_id, university_id, is_active, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Name, &user.PhoneNumber, &user.Role, &user.HashedPassword,
		&user.AccommodationID, &user.UniversityID, &user.IsActive, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, phone_number, role, hashed_password, accommodation_id, university_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Name, user.PhoneNumber, user.Role, user.HashedPassword,
		user.AccommodationID, user.UniversityID, user.IsActive)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id))
}

func (db *DB) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return scanUser(db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE phone_number = $1
	`, phone))
}

func (db *DB) LinkGuardian(ctx context.Context, parentID, studentID uuid.UUID) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO guardian_links (id, parent_id, student_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (parent_id, student_id) DO NOTHING
	`, uuid.New(), parentID, studentID)

	if err != nil {
		return fmt.Errorf("failed to link guardian: %w", err)
	}
	return nil
}

// GetGuardian returns the first guardian linked to the student, or
// sql.ErrNoRows when the student has no linked guardian.
func (db *DB) GetGuardian(ctx context.Context, studentID uuid.UUID) (*models.User, error) {
	return scanUser(db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id = (
			SELECT parent_id FROM guardian_links
			WHERE student_id = $1
			ORDER BY id
			LIMIT 1
		)
	`, studentID))
}

func (db *DB) GetLinkedStudents(ctx context.Context, parentID uuid.UUID) ([]models.User, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id IN (SELECT student_id FROM guardian_links WHERE parent_id = $1)
		ORDER BY name
	`, parentID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, *user)
	}

	return students, rows.Err()
}
