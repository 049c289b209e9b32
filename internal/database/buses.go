package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gatepass-bot/internal/models"
)

const busColumns = `id, accommodation_id, university_id, name, destination_district, capacity, created_at`

func scanBus(row interface{ Scan(...any) error }) (*models.Bus, error) {
	var bus models.Bus
	err := row.Scan(
		&bus.ID, &bus.AccommodationID, &bus.UniversityID, &bus.Name,
		&bus.DestinationDistrict, &bus.Capacity, &bus.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &bus, nil
}

func (db *DB) CreateBus(ctx context.Context, bus *models.Bus) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO buses (id, accommodation_id, university_id, name, destination_district, capacity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, bus.ID, bus.AccommodationID, bus.UniversityID, bus.Name,
		bus.DestinationDistrict, bus.Capacity).Scan(&bus.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create bus: %w", err)
	}
	return nil
}

// ListAvailableBuses returns the university's buses that still have seats:
// buses whose count of approved or completed requests is below capacity.
// Insertion order is kept stable because students select by displayed
// position.
func (db *DB) ListAvailableBuses(ctx context.Context, universityID uuid.UUID) ([]models.Bus, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+busColumns+` FROM buses b
		WHERE b.university_id = $1
		  AND (
			SELECT COUNT(*) FROM exit_requests r
			WHERE r.bus_id = b.id AND r.status IN ('approved', 'completed')
		  ) < b.capacity
		ORDER BY b.created_at, b.id
	`, universityID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBuses(rows)
}

func (db *DB) ListBuses(ctx context.Context, universityID uuid.UUID) ([]models.Bus, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+busColumns+` FROM buses
		WHERE university_id = $1
		ORDER BY created_at, id
	`, universityID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBuses(rows)
}

// GetBusesByIDs fetches the given buses and returns them in the order of the
// id slice, so a stashed offer list keeps its original positions.
func (db *DB) GetBusesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Bus, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+busColumns+` FROM buses WHERE id = ANY($1::uuid[])
	`, pq.Array(raw))

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fetched, err := collectBuses(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]models.Bus, len(fetched))
	for _, bus := range fetched {
		byID[bus.ID] = bus
	}

	ordered := make([]models.Bus, 0, len(ids))
	for _, id := range ids {
		if bus, ok := byID[id]; ok {
			ordered = append(ordered, bus)
		}
	}

	return ordered, nil
}

func collectBuses(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]models.Bus, error) {
	var buses []models.Bus
	for rows.Next() {
		bus, err := scanBus(rows)
		if err != nil {
			return nil, err
		}
		buses = append(buses, *bus)
	}
	return buses, rows.Err()
}
