package hashlock

import (
	"fmt"

	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

// Ledger selects a native condition format.
type Ledger string

const (
	LedgerXRPL Ledger = "xrpl"
	LedgerEVM  Ledger = "evm"
)

// Encoded is the ledger native form of a commitment. Fulfillment is empty
// when the secret has already been erased.
type Encoded struct {
	Condition   string `json:"condition"`
	Fulfillment string `json:"fulfillment,omitempty"`
}

// EncodeForLedger formats a commitment for the given ledger.
//
// XRPL escrows take PREIMAGE-SHA-256 crypto-conditions (DER, uppercase hex).
// EVM HTLCs take 0x prefixed bytes32 values.
func EncodeForLedger(c *Commitment, ledger Ledger) (Encoded, error) {
	switch ledger {
	case LedgerXRPL:
		cond, err := ConditionForLock(c.Lock())
		if err != nil {
			return Encoded{}, err
		}
		enc := Encoded{Condition: cond}
		if c.HasSecret() {
			ful, err := Fulfillment(c.Secret)
			if err != nil {
				return Encoded{}, err
			}
			enc.Fulfillment = ful
		}
		return enc, nil

	case LedgerEVM:
		if len(c.Hash) != 32 {
			return Encoded{}, fmt.Errorf("%w: EVM hashlock needs a 32-byte hash, got %d", ErrConfiguration, len(c.Hash))
		}
		enc := Encoded{Condition: helpers.BytesToHex(c.Hash)}
		if c.HasSecret() {
			if len(c.Secret) != 32 {
				return Encoded{}, fmt.Errorf("%w: EVM hashlock needs a 32-byte secret, got %d", ErrConfiguration, len(c.Secret))
			}
			enc.Fulfillment = helpers.BytesToHex(c.Secret)
		}
		return enc, nil

	default:
		return Encoded{}, fmt.Errorf("%w: unknown ledger %q", ErrConfiguration, ledger)
	}
}

// ConditionForLock builds the XRPL PREIMAGE-SHA-256 condition from the public
// lock alone: A0 25 80 20 <sha256> 81 01 <preimage length>.
func ConditionForLock(l Lock) (string, error) {
	if l.Algorithm != SHA256 {
		return "", fmt.Errorf("%w: XRPL conditions only support SHA256, got %s", ErrConfiguration, l.Algorithm)
	}
	if len(l.Hash) != 32 {
		return "", fmt.Errorf("%w: condition fingerprint must be 32 bytes, got %d", ErrConfiguration, len(l.Hash))
	}
	if l.SecretSize <= 0 || l.SecretSize > 127 {
		return "", fmt.Errorf("%w: preimage length %d not encodable", ErrConfiguration, l.SecretSize)
	}

	der := make([]byte, 0, 39)
	der = append(der, 0xA0, 0x25, 0x80, 0x20)
	der = append(der, l.Hash...)
	der = append(der, 0x81, 0x01, byte(l.SecretSize))
	return helpers.UpperHex(der), nil
}

// Fulfillment builds the XRPL PREIMAGE-SHA-256 fulfillment for a secret:
// A0 <n+2> 80 <n> <secret>.
func Fulfillment(secret []byte) (string, error) {
	n := len(secret)
	if n == 0 || n > 125 {
		return "", fmt.Errorf("%w: preimage length %d not encodable", ErrConfiguration, n)
	}
	der := make([]byte, 0, n+4)
	der = append(der, 0xA0, byte(n+2), 0x80, byte(n))
	der = append(der, secret...)
	return helpers.UpperHex(der), nil
}
