package database

import (
	"context"
	"fmt"
)

// MarkEventProcessed records the provider message ID and reports whether this
// is its first sighting. The insert and the dedup check are one statement, so
// concurrent redeliveries of the same event see exactly one true result.
func (db *DB) MarkEventProcessed(ctx context.Context, messageID string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO processed_events (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, messageID)

	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
