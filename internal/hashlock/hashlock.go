// Package hashlock implements the hash commitments and time windows that gate
// escrow release on both ledgers. Everything here is pure apart from RNG use.
package hashlock

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

// ErrConfiguration is returned for invalid algorithms, secret sizes and
// timelock orderings. It is never retried.
var ErrConfiguration = errors.New("configuration error")

// Secret size bounds in bytes.
const (
	MinSecretSize     = 16
	MaxSecretSize     = 64
	DefaultSecretSize = 32
)

// Algorithm names the digest used to bind a secret to its hash.
type Algorithm string

const (
	SHA256 Algorithm = "SHA256"
	SHA512 Algorithm = "SHA512"
)

// Valid reports whether the algorithm is supported.
func (a Algorithm) Valid() bool {
	return a == SHA256 || a == SHA512
}

// Digest hashes data with the algorithm.
func (a Algorithm) Digest(data []byte) ([]byte, error) {
	switch a {
	case SHA256:
		h := sha256.Sum256(data)
		return h[:], nil
	case SHA512:
		h := sha512.Sum512(data)
		return h[:], nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfiguration, a)
	}
}

// Commitment binds a private secret to its public hash.
// Hash always equals Algorithm.Digest(Secret) until the secret is erased.
type Commitment struct {
	Secret    []byte
	Hash      []byte
	Algorithm Algorithm
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Lock is the public half of a commitment, safe to hand to ledgers and peers.
type Lock struct {
	Hash       []byte    `json:"hash"`
	Algorithm  Algorithm `json:"algorithm"`
	SecretSize int       `json:"secret_size"`
}

// GenerateCommitment draws a fresh secret of secretLen bytes and hashes it.
func GenerateCommitment(alg Algorithm, secretLen int) (*Commitment, error) {
	if !alg.Valid() {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfiguration, alg)
	}
	if secretLen < MinSecretSize || secretLen > MaxSecretSize {
		return nil, fmt.Errorf("%w: secret length %d outside [%d, %d]",
			ErrConfiguration, secretLen, MinSecretSize, MaxSecretSize)
	}

	secret, err := helpers.GenerateSecureRandom(secretLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	hash, err := alg.Digest(secret)
	if err != nil {
		return nil, err
	}

	return &Commitment{
		Secret:    secret,
		Hash:      hash,
		Algorithm: alg,
		CreatedAt: time.Now(),
	}, nil
}

// Lock returns the public part of the commitment.
func (c *Commitment) Lock() Lock {
	size := len(c.Secret)
	if size == 0 {
		size = DefaultSecretSize
	}
	return Lock{
		Hash:       helpers.CloneBytes(c.Hash),
		Algorithm:  c.Algorithm,
		SecretSize: size,
	}
}

// HasSecret reports whether the secret is still held.
func (c *Commitment) HasSecret() bool {
	return len(c.Secret) > 0 && !helpers.IsZeroBytes(c.Secret)
}

// Erase zeroes the secret in place and drops it.
func (c *Commitment) Erase() {
	helpers.SecureClear(c.Secret)
	c.Secret = nil
}

// VerifySecret reports whether secret hashes to expectedHash. Any malformed
// input yields false.
func VerifySecret(secret, expectedHash []byte, alg Algorithm) bool {
	if len(secret) == 0 || len(expectedHash) == 0 {
		return false
	}
	got, err := alg.Digest(secret)
	if err != nil {
		return false
	}
	return helpers.ConstantTimeCompare(got, expectedHash)
}
