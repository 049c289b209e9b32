// Package allocator lists capacity-aware transport options and resolves a
// student's selection against the list they were actually offered.
package allocator

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"gatepass-bot/internal/models"
)

// Store is the persistence the allocator reads from.
type Store interface {
	ListAvailableBuses(ctx context.Context, universityID uuid.UUID) ([]models.Bus, error)
}

type Allocator struct {
	store Store
}

func New(store Store) *Allocator {
	return &Allocator{store: store}
}

// ListAvailable returns the university's buses with remaining seats, in
// stable insertion order so displayed positions stay meaningful.
func (a *Allocator) ListAvailable(ctx context.Context, universityID uuid.UUID) ([]models.Bus, error) {
	return a.store.ListAvailableBuses(ctx, universityID)
}

// Resolve matches a selection against the previously offered list, not a
// fresh query, so a listing change between offer and reply cannot shift the
// indexes. Numeric input is a 1-based index; anything else is matched against
// bus names case-insensitively. Returns nil when nothing resolves.
func Resolve(selection string, offered []models.Bus) *models.Bus {
	cleaned := strings.ToLower(strings.TrimSpace(selection))
	if cleaned == "" {
		return nil
	}

	if index, err := strconv.Atoi(cleaned); err == nil {
		if index >= 1 && index <= len(offered) {
			return &offered[index-1]
		}
		return nil
	}

	for i := range offered {
		if cleaned == strings.ToLower(offered[i].Name) {
			return &offered[i]
		}
	}
	return nil
}
