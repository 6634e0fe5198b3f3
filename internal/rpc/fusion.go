package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/xrpfusion/internal/fusion"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
)

// ========================================
// Node Handlers
// ========================================

func (s *Server) nodeStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	result := &NodeStatusResult{
		Running:       true,
		Network:       s.network,
		Version:       Version,
		DataDir:       s.dataDir,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		WSClients:     s.wsHub.ClientCount(),
	}
	if s.manager != nil {
		for _, o := range s.manager.ListOrders() {
			result.Orders++
			if !o.Stage.IsTerminal() {
				result.ActiveOrders++
			}
			if s.poller != nil && s.poller.Active(o.ID) {
				result.Polling++
			}
		}
	}
	if s.swaps != nil {
		result.Swaps = len(s.swaps.List())
	}
	return result, nil
}

// ========================================
// Order Handlers
// ========================================

// CreateOrderParams is the request for fusion_createOrder.
type CreateOrderParams struct {
	Direction    string          `json:"direction"`
	SourceAmount string          `json:"sourceAmount"`
	TargetAmount string          `json:"targetAmount"`
	UserAddress  string          `json:"userAddress"`
	Options      *fusion.Options `json:"options,omitempty"`
}

// CreateOrderResult is the response for fusion_createOrder. Validation and
// relayer failures are reported with Success false rather than as an RPC error.
type CreateOrderResult struct {
	Success             bool       `json:"success"`
	Order               *OrderInfo `json:"order,omitempty"`
	AtomicSwap          *SwapInfo  `json:"atomicSwap,omitempty"`
	EstimatedCompletion int64      `json:"estimatedCompletion,omitempty"`
	Error               string     `json:"error,omitempty"`
}

func (s *Server) fusionCreateOrder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CreateOrderParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}

	dir, err := swap.ParseDirection(p.Direction)
	if err != nil {
		return &CreateOrderResult{Success: false, Error: err.Error()}, nil
	}

	res, err := s.manager.CreateOrder(ctx, dir, p.SourceAmount, p.TargetAmount, p.UserAddress, p.Options)
	if err != nil {
		return &CreateOrderResult{Success: false, Error: err.Error()}, nil
	}

	s.wsHub.Broadcast(EventOrderCreated, map[string]interface{}{
		"order_id": res.Order.ID,
		"swap_id":  res.Order.SwapID,
	})

	return &CreateOrderResult{
		Success:             true,
		Order:               orderToInfo(res.Order),
		AtomicSwap:          swapToInfo(res.AtomicSwap),
		EstimatedCompletion: res.EstimatedCompletion.Unix(),
	}, nil
}

// OrderIDParams identifies an order.
type OrderIDParams struct {
	OrderID string `json:"orderId"`
}

// MonitorOrderResult is the response for fusion_monitorOrder.
type MonitorOrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// fusionMonitorOrder starts executing a created order in the background.
// Progress is reported over WebSocket.
func (s *Server) fusionMonitorOrder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p OrderIDParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", errInvalidParams)
	}

	order, err := s.manager.GetOrder(p.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Stage != fusion.StageCreated {
		return nil, fmt.Errorf("%w: cannot execute a %s order", fusion.ErrInvalidStage, order.Stage)
	}

	// Execution outlives the request.
	go s.execute(p.OrderID)

	return &MonitorOrderResult{OrderID: p.OrderID, Status: "monitoring"}, nil
}

func (s *Server) execute(orderID string) {
	progress := func(stage string, percent int, details map[string]any) {
		s.wsHub.Broadcast(EventOrderProgress, OrderProgressEvent{
			OrderID: orderID,
			Stage:   stage,
			Percent: percent,
			Details: details,
		})
	}

	exec, err := s.manager.MonitorAndExecute(context.Background(), orderID, progress)
	if err != nil {
		if errors.Is(err, fusion.ErrAlreadyExecuting) {
			return
		}
		s.log.Warn("Order execution failed", "order", orderID, "error", err)
		s.wsHub.Broadcast(EventOrderFailed, map[string]interface{}{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return
	}

	s.wsHub.Broadcast(EventOrderCompleted, map[string]interface{}{
		"order_id":     orderID,
		"order":        orderToInfo(exec.CompletedOrder),
		"source_tx":    exec.TransactionHashes.Source,
		"target_tx":    exec.TransactionHashes.Target,
		"completed_at": time.Now().Unix(),
	})
}

// PollingParams is the request for fusion_startPolling and fusion_stopPolling.
type PollingParams struct {
	OrderID   string `json:"orderId"`
	OrderHash string `json:"orderHash,omitempty"`
}

// PollingResult reports whether an order is being polled.
type PollingResult struct {
	OrderID string `json:"order_id"`
	Polling bool   `json:"polling"`
}

func (s *Server) fusionStartPolling(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PollingParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", errInvalidParams)
	}

	order, err := s.manager.GetOrder(p.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Stage.IsTerminal() {
		return nil, fmt.Errorf("%w: order already %s", fusion.ErrInvalidStage, order.Stage)
	}

	hash := p.OrderHash
	if hash == "" {
		hash = p.OrderID
	}
	s.poller.Start(context.Background(), p.OrderID, hash)

	return &PollingResult{OrderID: p.OrderID, Polling: true}, nil
}

func (s *Server) fusionStopPolling(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PollingParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", errInvalidParams)
	}

	s.poller.Stop(p.OrderID)
	return &PollingResult{OrderID: p.OrderID, Polling: false}, nil
}

func (s *Server) orderInfo(o *fusion.Order) *OrderInfo {
	info := orderToInfo(o)
	if p, err := s.manager.Progress(o.ID); err == nil {
		info.Progress = progressToInfo(p)
	}
	if s.poller != nil {
		info.Polling = s.poller.Active(o.ID)
	}
	return info
}

func (s *Server) fusionGetOrder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p OrderIDParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", errInvalidParams)
	}

	order, err := s.manager.GetOrder(p.OrderID)
	if err != nil {
		return nil, err
	}
	return s.orderInfo(order), nil
}

// ListOrdersParams is the request for fusion_listOrders.
type ListOrdersParams struct {
	ActiveOnly bool `json:"activeOnly,omitempty"`
	Limit      int  `json:"limit,omitempty"`
}

// ListOrdersResult is the response for fusion_listOrders.
type ListOrdersResult struct {
	Orders []*OrderInfo `json:"orders"`
	Count  int          `json:"count"`
}

func (s *Server) fusionListOrders(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ListOrdersParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}

	result := &ListOrdersResult{Orders: make([]*OrderInfo, 0)}
	for _, o := range s.manager.ListOrders() {
		if p.ActiveOnly && o.Stage.IsTerminal() {
			continue
		}
		result.Orders = append(result.Orders, s.orderInfo(o))
		if p.Limit > 0 && len(result.Orders) >= p.Limit {
			break
		}
	}
	result.Count = len(result.Orders)
	return result, nil
}

// CancelOrderParams is the request for fusion_cancelOrder.
type CancelOrderParams struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) fusionCancelOrder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CancelOrderParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", errInvalidParams)
	}

	if s.poller != nil {
		s.poller.Stop(p.OrderID)
	}
	order, err := s.manager.CancelOrder(ctx, p.OrderID, p.Reason)
	if err != nil {
		return nil, err
	}
	return s.orderInfo(order), nil
}

// ========================================
// Swap Handlers
// ========================================

// SwapIDParams identifies a swap.
type SwapIDParams struct {
	SwapID string `json:"swapId"`
}

// SwapStatusResult is the response for swap_status.
type SwapStatusResult struct {
	SwapID    string         `json:"swap_id"`
	Status    string         `json:"status"`
	Timestamp int64          `json:"timestamp"`
	Details   map[string]any `json:"details"`
}

func (s *Server) swapStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapIDParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.SwapID == "" {
		return nil, fmt.Errorf("%w: swapId is required", errInvalidParams)
	}

	report, err := s.swaps.Status(p.SwapID)
	if err != nil {
		return nil, err
	}
	return &SwapStatusResult{
		SwapID:    p.SwapID,
		Status:    string(report.Status),
		Timestamp: report.Timestamp.Unix(),
		Details:   report.Details,
	}, nil
}

// SwapListResult is the response for swap_list.
type SwapListResult struct {
	Swaps []*SwapInfo `json:"swaps"`
	Count int         `json:"count"`
}

func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	records := s.swaps.List()
	result := &SwapListResult{Swaps: make([]*SwapInfo, 0, len(records))}
	for _, rec := range records {
		result.Swaps = append(result.Swaps, swapToInfo(rec))
	}
	result.Count = len(result.Swaps)
	return result, nil
}

// EscrowRefundResult is one escrow refund attempt.
type EscrowRefundResult struct {
	Chain       string `json:"chain"`
	Escrow      string `json:"escrow"`
	CancelAfter int64  `json:"cancel_after"`
	RefundTx    string `json:"refund_tx,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SwapRefundResult is the response for swap_refund.
type SwapRefundResult struct {
	Swap    *SwapInfo             `json:"swap"`
	Refunds []*EscrowRefundResult `json:"refunds"`
}

func (s *Server) swapRefund(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapIDParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.SwapID == "" {
		return nil, fmt.Errorf("%w: swapId is required", errInvalidParams)
	}

	results, err := s.swaps.ForceRefund(ctx, p.SwapID)
	if err != nil {
		return nil, err
	}
	rec, err := s.swaps.Get(p.SwapID)
	if err != nil {
		return nil, err
	}

	out := &SwapRefundResult{Swap: swapToInfo(rec), Refunds: make([]*EscrowRefundResult, 0, len(results))}
	for _, res := range results {
		r := &EscrowRefundResult{
			Chain:       string(res.Chain),
			Escrow:      res.Escrow,
			CancelAfter: unixOrZero(res.CancelAfter),
			RefundTx:    res.RefundTx,
		}
		if res.Error != nil {
			r.Error = res.Error.Error()
		}
		out.Refunds = append(out.Refunds, r)
	}
	return out, nil
}
