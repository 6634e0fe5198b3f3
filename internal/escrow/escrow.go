// Package escrow defines the contract between the swap coordinator and the
// ledgers that hold funds, plus adapters for the XRP Ledger and EVM HTLCs.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
)

// ErrEscrowFailed wraps every ledger side failure. The coordinator does not
// retry these.
var ErrEscrowFailed = errors.New("escrow operation failed")

// Chain identifies a ledger.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainXRP      Chain = "xrp"
)

// Asset returns the native asset symbol of the chain.
func (c Chain) Asset() string {
	switch c {
	case ChainEthereum:
		return "ETH"
	case ChainXRP:
		return "XRP"
	default:
		return ""
	}
}

// Ref locates an escrow on its ledger.
//
// On XRPL an escrow is addressed by (Owner, Sequence); on the EVM HTLC by the
// bytes32 swap ID held in ID.
type Ref struct {
	Chain    Chain  `json:"chain"`
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Sequence uint32 `json:"sequence,omitempty"`
	TxHash   string `json:"tx_hash"`
}

// Adapter creates, finishes and cancels hash/time locked escrows on one chain.
type Adapter interface {
	Chain() Chain

	// CreateEscrow locks amount for destination under lock. Funds become
	// claimable at finishAfter and reclaimable at cancelAfter.
	CreateEscrow(ctx context.Context, destination string, amount decimal.Decimal,
		lock hashlock.Lock, finishAfter, cancelAfter time.Time) (Ref, error)

	// FinishEscrow releases the escrow by revealing secret.
	FinishEscrow(ctx context.Context, owner string, ref Ref, lock hashlock.Lock, secret []byte) (string, error)

	// CancelEscrow returns expired funds to owner.
	CancelEscrow(ctx context.Context, owner string, ref Ref) (string, error)
}
