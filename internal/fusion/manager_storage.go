package fusion

import (
	"encoding/json"
	"errors"

	"github.com/klingon-exchange/xrpfusion/internal/storage"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
)

// persistOrder writes the order to the store. Failures are logged.
// NOTE: Caller must hold m.mu.
func (m *Manager) persistOrder(o *Order) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(o)
	if err != nil {
		m.log.Error("Failed to encode order", "order", o.ID, "error", err)
		return
	}
	err = m.store.SaveOrder(&storage.OrderRecord{
		ID:            o.ID,
		SwapID:        o.SwapID,
		Direction:     string(o.Direction),
		Stage:         string(o.Stage),
		UserAddress:   o.UserAddress,
		Archived:      o.Stage.IsTerminal(),
		FailureReason: o.FailureReason,
		Data:          data,
		CreatedAt:     o.CreatedAt,
	})
	if err != nil {
		m.log.Error("Failed to persist order", "order", o.ID, "error", err)
	}
}

// persistProgress writes the order progress to the store.
// NOTE: Caller must hold m.mu.
func (m *Manager) persistProgress(orderID string, p *Progress) {
	if m.store == nil {
		return
	}
	err := m.store.SaveProgress(&storage.ProgressRecord{
		OrderID:         orderID,
		OrderHash:       p.OrderHash,
		Stage:           string(p.Stage),
		Percent:         p.Percent,
		SrcEscrow:       p.SourceEscrow,
		DstEscrow:       p.DestinationEscrow,
		SecretSubmitted: p.SecretSubmitted,
		LastUpdate:      p.LastUpdate,
	})
	if err != nil {
		m.log.Error("Failed to persist progress", "order", orderID, "error", err)
	}
}

// LoadOrders restores every stored order and its progress. It returns the
// number of orders still in flight.
func (m *Manager) LoadOrders() (int, error) {
	if m.store == nil {
		return 0, nil
	}
	rows, err := m.store.ListOrders(false)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, row := range rows {
		var o Order
		if err := json.Unmarshal(row.Data, &o); err != nil {
			m.log.Warn("Skipping unreadable order", "order", row.ID, "error", err)
			continue
		}
		m.orders[o.ID] = &o
		if !o.Stage.IsTerminal() {
			active++
		}

		p, err := m.store.GetProgress(o.ID)
		switch {
		case err == nil:
			m.progress[o.ID] = &Progress{
				OrderHash:         p.OrderHash,
				SourceEscrow:      p.SrcEscrow,
				DestinationEscrow: p.DstEscrow,
				Stage:             swap.Stage(p.Stage),
				Percent:           p.Percent,
				SecretSubmitted:   p.SecretSubmitted,
				LastUpdate:        p.LastUpdate,
			}
		case errors.Is(err, storage.ErrOrderNotFound):
		default:
			m.log.Warn("Failed to load progress", "order", o.ID, "error", err)
		}
	}
	return active, nil
}
