package rpc

import (
	"time"

	"github.com/klingon-exchange/xrpfusion/internal/escrow"
	"github.com/klingon-exchange/xrpfusion/internal/fusion"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

// NodeStatusResult is the response for node_status.
type NodeStatusResult struct {
	Running       bool   `json:"running"`
	Network       string `json:"network"`
	Version       string `json:"version"`
	DataDir       string `json:"data_dir,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WSClients     int    `json:"ws_clients"`
	Orders        int    `json:"orders"`
	ActiveOrders  int    `json:"active_orders"`
	Swaps         int    `json:"swaps"`
	Polling       int    `json:"polling"`
}

// FeeInfo is a fee quote with amounts as strings.
type FeeInfo struct {
	Network           string `json:"network"`
	Protocol          string `json:"protocol"`
	ResolverIncentive string `json:"resolver_incentive"`
	Priority          string `json:"priority"`
	Total             string `json:"total"`
}

// ProgressInfo is the latest observed progress of an order.
type ProgressInfo struct {
	OrderHash         string `json:"order_hash,omitempty"`
	SourceEscrow      string `json:"source_escrow,omitempty"`
	DestinationEscrow string `json:"destination_escrow,omitempty"`
	Stage             string `json:"stage"`
	Percent           int    `json:"percent"`
	SecretSubmitted   bool   `json:"secret_submitted"`
	LastUpdate        int64  `json:"last_update,omitempty"`
}

// OrderInfo is the wire form of a fusion order.
type OrderInfo struct {
	ID            string        `json:"id"`
	SwapID        string        `json:"swap_id"`
	Direction     string        `json:"direction"`
	SourceAmount  string        `json:"source_amount"`
	TargetAmount  string        `json:"target_amount"`
	SourceChain   string        `json:"source_chain"`
	TargetChain   string        `json:"target_chain"`
	UserAddress   string        `json:"user_address"`
	Hashlock      string        `json:"hashlock"`
	Algorithm     string        `json:"algorithm"`
	FinishAfter   int64         `json:"finish_after"`
	CancelAfter   int64         `json:"cancel_after"`
	Fees          FeeInfo       `json:"fees"`
	QuoteID       string        `json:"quote_id,omitempty"`
	Stage         string        `json:"stage"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     int64         `json:"created_at"`
	UpdatedAt     int64         `json:"updated_at"`
	Polling       bool          `json:"polling"`
	Progress      *ProgressInfo `json:"progress,omitempty"`
}

// EscrowInfo is the wire form of an escrow reference.
type EscrowInfo struct {
	Chain    string `json:"chain"`
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Sequence uint32 `json:"sequence,omitempty"`
	TxHash   string `json:"tx_hash"`
}

// SwapInfo is the wire form of a swap record.
type SwapInfo struct {
	ID                string      `json:"id"`
	Direction         string      `json:"direction"`
	Status            string      `json:"status"`
	Stage             string      `json:"stage"`
	FromAmount        string      `json:"from_amount"`
	ToAmount          string      `json:"to_amount"`
	FromAsset         string      `json:"from_asset"`
	ToAsset           string      `json:"to_asset"`
	Hashlock          string      `json:"hashlock"`
	MakerAddress      string      `json:"maker_address"`
	TakerAddress      string      `json:"taker_address,omitempty"`
	ReceiverAddress   string      `json:"receiver_address"`
	SourceEscrow      *EscrowInfo `json:"source_escrow,omitempty"`
	DestinationEscrow *EscrowInfo `json:"destination_escrow,omitempty"`
	RevealTx          string      `json:"reveal_tx,omitempty"`
	FailureReason     string      `json:"failure_reason,omitempty"`
	SourceRefundTx    string      `json:"source_refund_tx,omitempty"`
	DestRefundTx      string      `json:"destination_refund_tx,omitempty"`
	CreatedAt         int64       `json:"created_at"`
	CompletedAt       int64       `json:"completed_at,omitempty"`
}

// OrderStatusEvent is broadcast for each poll update.
type OrderStatusEvent struct {
	OrderID         string `json:"order_id"`
	OrderHash       string `json:"order_hash"`
	Status          string `json:"status,omitempty"`
	Stage           string `json:"stage"`
	Percent         int    `json:"percent"`
	SecretSubmitted bool   `json:"secret_submitted"`
	Error           string `json:"error,omitempty"`
}

// OrderProgressEvent is broadcast while an order executes.
type OrderProgressEvent struct {
	OrderID string         `json:"order_id"`
	Stage   string         `json:"stage"`
	Percent int            `json:"percent"`
	Details map[string]any `json:"details,omitempty"`
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func orderToInfo(o *fusion.Order) *OrderInfo {
	return &OrderInfo{
		ID:           o.ID,
		SwapID:       o.SwapID,
		Direction:    string(o.Direction),
		SourceAmount: o.SourceAmount.String(),
		TargetAmount: o.TargetAmount.String(),
		SourceChain:  string(o.SourceChain),
		TargetChain:  string(o.TargetChain),
		UserAddress:  o.UserAddress,
		Hashlock:     helpers.BytesToHex(o.Lock.Hash),
		Algorithm:    string(o.Lock.Algorithm),
		FinishAfter:  unixOrZero(o.Window.FinishAfter),
		CancelAfter:  unixOrZero(o.Window.CancelAfter),
		Fees: FeeInfo{
			Network:           o.Fees.Network.String(),
			Protocol:          o.Fees.Protocol.String(),
			ResolverIncentive: o.Fees.ResolverIncentive.String(),
			Priority:          o.Fees.Priority.String(),
			Total:             o.Fees.Total.String(),
		},
		QuoteID:       o.QuoteID,
		Stage:         string(o.Stage),
		FailureReason: o.FailureReason,
		CreatedAt:     unixOrZero(o.CreatedAt),
		UpdatedAt:     unixOrZero(o.UpdatedAt),
	}
}

func progressToInfo(p *fusion.Progress) *ProgressInfo {
	return &ProgressInfo{
		OrderHash:         p.OrderHash,
		SourceEscrow:      p.SourceEscrow,
		DestinationEscrow: p.DestinationEscrow,
		Stage:             string(p.Stage),
		Percent:           p.Percent,
		SecretSubmitted:   p.SecretSubmitted,
		LastUpdate:        unixOrZero(p.LastUpdate),
	}
}

func escrowToInfo(ref *escrow.Ref) *EscrowInfo {
	if ref == nil {
		return nil
	}
	return &EscrowInfo{
		Chain:    string(ref.Chain),
		ID:       ref.ID,
		Owner:    ref.Owner,
		Sequence: ref.Sequence,
		TxHash:   ref.TxHash,
	}
}

func swapToInfo(rec *swap.Record) *SwapInfo {
	info := &SwapInfo{
		ID:                rec.ID,
		Direction:         string(rec.Direction),
		Status:            string(rec.Status),
		Stage:             string(swap.StageFromStatus(rec.Status)),
		FromAmount:        rec.FromAmount.String(),
		ToAmount:          rec.ToAmount.String(),
		FromAsset:         rec.FromAsset,
		ToAsset:           rec.ToAsset,
		Hashlock:          helpers.BytesToHex(rec.Lock.Hash),
		MakerAddress:      rec.MakerAddress,
		TakerAddress:      rec.TakerAddress,
		ReceiverAddress:   rec.ReceiverAddress,
		SourceEscrow:      escrowToInfo(rec.SourceEscrow),
		DestinationEscrow: escrowToInfo(rec.DestinationEscrow),
		RevealTx:          rec.RevealTx,
		FailureReason:     rec.FailureReason,
		SourceRefundTx:    rec.SourceRefundTx,
		DestRefundTx:      rec.DestinationRefundTx,
		CreatedAt:         unixOrZero(rec.CreatedAt),
	}
	if rec.CompletedAt != nil {
		info.CompletedAt = rec.CompletedAt.Unix()
	}
	return info
}
