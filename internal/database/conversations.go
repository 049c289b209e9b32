package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gatepass-bot/internal/models"
)

func scanConversationState(row interface{ Scan(...any) error }) (*models.ConversationState, error) {
	var (
		state    models.ConversationState
		rawPhase string
	)
	err := row.Scan(
		&state.ID, &state.StudentID, &rawPhase, &state.Language,
		&state.PendingSelection, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.Phase, err = models.ParsePhase(rawPhase)
	if err != nil {
		return nil, fmt.Errorf("conversation state %s: %w", state.ID, err)
	}
	return &state, nil
}

// GetOrCreateConversationState returns the student's conversation row,
// creating an idle row with the given language on first contact. The insert
// tolerates a concurrent creation and re-reads the winner.
func (db *DB) GetOrCreateConversationState(ctx context.Context, studentID uuid.UUID, language string) (*models.ConversationState, error) {
	state, err := scanConversationState(db.QueryRowContext(ctx, `
		SELECT id, student_id, phase, language, pending_selection, updated_at
		FROM conversation_state
		WHERE student_id = $1
	`, studentID))
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO conversation_state (id, student_id, phase, language)
		VALUES ($1, $2, 'idle', $3)
		ON CONFLICT (student_id) DO NOTHING
	`, uuid.New(), studentID, language)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation state: %w", err)
	}

	return scanConversationState(db.QueryRowContext(ctx, `
		SELECT id, student_id, phase, language, pending_selection, updated_at
		FROM conversation_state
		WHERE student_id = $1
	`, studentID))
}

func (db *DB) UpdateConversationState(ctx context.Context, state *models.ConversationState) error {
	_, err := db.ExecContext(ctx, `
		UPDATE conversation_state
		SET phase = $1,
		    language = $2,
		    pending_selection = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE student_id = $4
	`, state.Phase, state.Language, state.PendingSelection, state.StudentID)

	if err != nil {
		return fmt.Errorf("failed to update conversation state: %w", err)
	}
	return nil
}
