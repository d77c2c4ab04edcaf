package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/flamecaster/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Event is one recorded connectivity transition.
type Event struct {
	ID          int64     `json:"id"`
	DeviceID    device.ID `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	Connected   bool      `json:"connected"`
	OutboundFPS float64   `json:"outbound_fps"`
	SendErrors  uint64    `json:"send_errors"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store reads and writes the device_events table.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert appends an event. A zero CreatedAt is stamped with the current time.
func (s *Store) Insert(ctx context.Context, e Event) error {
	if e.DeviceID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDevice, e.DeviceID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_events (device_id, device_name, connected, outbound_fps, send_errors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		int(e.DeviceID),
		e.DeviceName,
		e.Connected,
		e.OutboundFPS,
		int64(e.SendErrors), //nolint:gosec // per-interval count
		e.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

// History returns a device's most recent events, newest first. The limit
// defaults to 50 and is capped at 500.
func (s *Store) History(ctx context.Context, id device.ID, limit int) ([]Event, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDevice, id)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, device_name, connected, outbound_fps, send_errors, created_at
		 FROM device_events
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		int(id),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e         Event
			deviceID  int
			errs      int64
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &deviceID, &e.DeviceName, &e.Connected, &e.OutboundFPS, &errs, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		e.DeviceID = device.ID(deviceID)
		e.SendErrors = uint64(max(errs, 0))
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the given age and returns how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().Add(-olderThan).UTC().UnixMilli()
	result, err := s.db.ExecContext(ctx, "DELETE FROM device_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting device events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
