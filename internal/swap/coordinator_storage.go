package swap

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klingon-exchange/xrpfusion/internal/storage"
)

// persist writes rec to the store. Storage failures are logged; the in-memory
// record stays authoritative for the running process.
// NOTE: Caller must hold c.mu.
func (c *Coordinator) persist(rec *Record) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		c.log.Error("Failed to encode swap", "swap_id", rec.ID, "error", err)
		return
	}
	err = c.store.SaveSwap(&storage.SwapRecord{
		ID:        rec.ID,
		Direction: string(rec.Direction),
		Status:    string(rec.Status),
		Archived:  rec.Status.IsTerminal(),
		Data:      data,
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		c.log.Error("Failed to persist swap", "swap_id", rec.ID, "error", err)
	}
}

func decodeRecord(row *storage.SwapRecord) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(row.Data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode swap %s: %w", row.ID, err)
	}
	return &rec, nil
}

func (c *Coordinator) loadRecord(swapID string) (*Record, error) {
	row, err := c.store.GetSwap(swapID)
	if err != nil {
		return nil, err
	}
	return decodeRecord(row)
}

// LoadActive restores in-flight swaps, and their sealed secrets when a vault
// is configured, from storage. It returns the number of swaps restored.
func (c *Coordinator) LoadActive() (int, error) {
	if c.store == nil {
		return 0, nil
	}

	rows, err := c.store.ListSwaps(true)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for _, row := range rows {
		rec, err := decodeRecord(row)
		if err != nil {
			c.log.Warn("Skipping unreadable swap", "swap_id", row.ID, "error", err)
			continue
		}
		if _, ok := c.active[rec.ID]; ok {
			continue
		}
		c.active[rec.ID] = rec

		secret, err := c.store.LoadSecret(rec.ID)
		switch {
		case err == nil:
			c.secrets[rec.ID] = secret
		case errors.Is(err, storage.ErrNoVault), errors.Is(err, storage.ErrSecretNotFound):
			c.log.Warn("Swap restored without secret", "swap_id", rec.ID)
		default:
			c.log.Error("Failed to unseal secret", "swap_id", rec.ID, "error", err)
		}
		loaded++
	}

	if loaded > 0 {
		c.log.Info("Restored active swaps", "count", loaded)
	}
	return loaded, nil
}
