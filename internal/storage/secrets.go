package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoVault is returned when secret persistence is requested without a Sealer.
	ErrNoVault = errors.New("no vault configured for secret storage")
	// ErrSecretNotFound is returned when no sealed secret exists for a swap.
	ErrSecretNotFound = errors.New("secret not found")
)

// HasVault reports whether secrets can be persisted.
func (s *Storage) HasVault() bool {
	return s.sealer != nil
}

// SaveSecret seals and stores the preimage of a swap.
func (s *Storage) SaveSecret(swapID string, secret []byte) error {
	if s.sealer == nil {
		return ErrNoVault
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO swap_secrets (swap_id, sealed, created_at) VALUES (?, ?, ?)
		ON CONFLICT(swap_id) DO UPDATE SET sealed = excluded.sealed`,
		swapID, sealed, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

// LoadSecret returns the unsealed preimage of a swap.
func (s *Storage) LoadSecret(swapID string) ([]byte, error) {
	if s.sealer == nil {
		return nil, ErrNoVault
	}

	s.mu.RLock()
	var sealed []byte
	err := s.db.QueryRow(`SELECT sealed FROM swap_secrets WHERE swap_id = ?`, swapID).Scan(&sealed)
	s.mu.RUnlock()

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret: %w", err)
	}
	return s.sealer.Open(sealed)
}

// DeleteSecret removes the sealed preimage. Deleting a missing secret is not an error.
func (s *Storage) DeleteSecret(swapID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM swap_secrets WHERE swap_id = ?`, swapID); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
