package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrOrderNotFound is returned when an order or its progress is missing.
var ErrOrderNotFound = errors.New("order not found")

// OrderRecord is a persisted cross-chain order.
type OrderRecord struct {
	ID            string
	SwapID        string
	Direction     string
	Stage         string
	UserAddress   string
	Archived      bool
	FailureReason string
	Data          json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProgressRecord is the last observed execution progress of an order.
type ProgressRecord struct {
	OrderID         string
	OrderHash       string
	Stage           string
	Percent         int
	SrcEscrow       string
	DstEscrow       string
	SecretSubmitted bool
	LastUpdate      time.Time
}

// SaveOrder creates or updates an order.
func (s *Storage) SaveOrder(rec *OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO orders (id, swap_id, direction, stage, user_address, archived,
			failure_reason, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			archived = excluded.archived,
			failure_reason = excluded.failure_reason,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		rec.ID, rec.SwapID, rec.Direction, rec.Stage, rec.UserAddress, rec.Archived,
		nullString(rec.FailureReason), string(rec.Data), rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// GetOrder loads one order by ID.
func (s *Storage) GetOrder(id string) (*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, swap_id, direction, stage, user_address, archived, failure_reason,
			data, created_at, updated_at
		FROM orders WHERE id = ?`, id)
	rec, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return rec, err
}

// ListOrders returns orders, newest first.
func (s *Storage) ListOrders(activeOnly bool) ([]*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, swap_id, direction, stage, user_address, archived, failure_reason,
		data, created_at, updated_at FROM orders`
	if activeOnly {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []*OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOrder(row scanner) (*OrderRecord, error) {
	var (
		rec              OrderRecord
		failure          sql.NullString
		data             string
		created, updated int64
	)
	err := row.Scan(&rec.ID, &rec.SwapID, &rec.Direction, &rec.Stage, &rec.UserAddress,
		&rec.Archived, &failure, &data, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.FailureReason = failure.String
	rec.Data = json.RawMessage(data)
	rec.CreatedAt = fromUnix(created)
	rec.UpdatedAt = fromUnix(updated)
	return &rec, nil
}

// SaveProgress records the latest progress of an order.
func (s *Storage) SaveProgress(p *ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.LastUpdate.IsZero() {
		p.LastUpdate = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO order_progress (order_id, order_hash, stage, percent, src_escrow,
			dst_escrow, secret_submitted, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			order_hash = excluded.order_hash,
			stage = excluded.stage,
			percent = excluded.percent,
			src_escrow = excluded.src_escrow,
			dst_escrow = excluded.dst_escrow,
			secret_submitted = excluded.secret_submitted,
			last_update = excluded.last_update`,
		p.OrderID, p.OrderHash, p.Stage, p.Percent, nullString(p.SrcEscrow),
		nullString(p.DstEscrow), p.SecretSubmitted, unixOrZero(p.LastUpdate),
	)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// GetProgress returns the recorded progress for an order.
func (s *Storage) GetProgress(orderID string) (*ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p        ProgressRecord
		src, dst sql.NullString
		updated  int64
	)
	err := s.db.QueryRow(`
		SELECT order_id, order_hash, stage, percent, src_escrow, dst_escrow,
			secret_submitted, last_update
		FROM order_progress WHERE order_id = ?`, orderID).Scan(
		&p.OrderID, &p.OrderHash, &p.Stage, &p.Percent, &src, &dst, &p.SecretSubmitted, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	p.SrcEscrow = src.String
	p.DstEscrow = dst.String
	p.LastUpdate = fromUnix(updated)
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
