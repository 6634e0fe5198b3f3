package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Swap persistence errors
var (
	ErrSwapNotFound = errors.New("swap not found")
)

// SwapRecord is a persisted swap. Data holds the coordinator's JSON encoding
// of the record; the other fields are indexed copies.
type SwapRecord struct {
	ID        string
	Direction string
	Status    string
	Archived  bool
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveSwap creates or updates a swap record.
func (s *Storage) SaveSwap(rec *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO swaps (id, direction, status, archived, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			archived = excluded.archived,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Direction, rec.Status, rec.Archived, string(rec.Data),
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save swap: %w", err)
	}
	return nil
}

// GetSwap loads one swap by ID.
func (s *Storage) GetSwap(id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, direction, status, archived, data, created_at, updated_at
		FROM swaps WHERE id = ?`, id)
	rec, err := scanSwap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSwapNotFound
	}
	return rec, err
}

// ListSwaps returns swaps, newest first. When activeOnly is set archived
// swaps are skipped.
func (s *Storage) ListSwaps(activeOnly bool) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, direction, status, archived, data, created_at, updated_at FROM swaps`
	if activeOnly {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	defer rows.Close()

	var out []*SwapRecord
	for rows.Next() {
		rec, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSwap(row scanner) (*SwapRecord, error) {
	var (
		rec              SwapRecord
		data             string
		created, updated int64
	)
	if err := row.Scan(&rec.ID, &rec.Direction, &rec.Status, &rec.Archived, &data, &created, &updated); err != nil {
		return nil, err
	}
	rec.Data = json.RawMessage(data)
	rec.CreatedAt = fromUnix(created)
	rec.UpdatedAt = fromUnix(updated)
	return &rec, nil
}
