package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

// VaultSaltFile is the name of the vault salt file in the data directory.
const VaultSaltFile = "vault.salt"

// ErrVaultSealed is returned when ciphertext cannot be opened.
var ErrVaultSealed = errors.New("vault: cannot open sealed data")

// Vault seals small secrets (swap preimages) with a key derived once from a
// password. The key lives in memory for the life of the process.
type Vault struct {
	key []byte
}

// NewVault derives the vault key from password and salt.
func NewVault(password string, salt []byte, params KDFParams) (*Vault, error) {
	if password == "" {
		return nil, fmt.Errorf("vault password is empty")
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("vault salt too short")
	}
	return &Vault{key: deriveKey(password, salt, params)}, nil
}

// OpenVault loads (or creates on first run) the salt in dataDir and derives
// the vault key.
func OpenVault(dataDir, password string, params KDFParams) (*Vault, error) {
	path := filepath.Join(dataDir, VaultSaltFile)
	salt, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		salt, err = helpers.GenerateSecureRandom(saltLen)
		if err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		if err := os.WriteFile(path, salt, 0600); err != nil {
			return nil, fmt.Errorf("failed to write salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	return NewVault(password, salt, params)
}

// Seal encrypts plaintext; the output is nonce || ciphertext.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(v.key)
	if err != nil {
		return nil, err
	}
	nonce, err := helpers.GenerateSecureRandom(gcm.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	gcm, err := newGCM(v.key)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(sealed) < ns+gcm.Overhead() {
		return nil, ErrVaultSealed
	}
	plaintext, err := gcm.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrVaultSealed
	}
	return plaintext, nil
}

// Close wipes the key.
func (v *Vault) Close() {
	helpers.SecureClear(v.key)
}
