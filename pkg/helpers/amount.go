// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals of the assets the daemon moves.
const (
	ETHDecimals = 18
	XRPDecimals = 6
)

// ParseAmount parses a decimal amount string such as "0.01" or "50".
// Negative values are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %s", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount: %s", s)
	}
	return d, nil
}

// ToBaseUnits converts a decimal amount to integer base units (wei, drops).
// Amounts with more precision than the asset supports are rejected.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits converts integer base units back to a decimal amount.
func FromBaseUnits(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}

// XRPToDrops formats an XRP amount as a drops string for ledger transactions.
func XRPToDrops(amount decimal.Decimal) (string, error) {
	drops, err := ToBaseUnits(amount, XRPDecimals)
	if err != nil {
		return "", err
	}
	return drops.String(), nil
}

// ETHToWei converts an ETH amount to wei.
func ETHToWei(amount decimal.Decimal) (*big.Int, error) {
	return ToBaseUnits(amount, ETHDecimals)
}
