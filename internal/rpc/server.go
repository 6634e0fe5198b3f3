// Package rpc provides a JSON-RPC 2.0 server for the xrpfusion daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klingon-exchange/xrpfusion/internal/escrow"
	"github.com/klingon-exchange/xrpfusion/internal/fusion"
	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
	"github.com/klingon-exchange/xrpfusion/internal/poller"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
	"github.com/klingon-exchange/xrpfusion/pkg/logging"
)

// Version of the daemon
const Version = "0.1.0-dev"

// Config holds the services exposed by the server.
type Config struct {
	Manager *fusion.Manager
	Swaps   *swap.Coordinator
	Poller  *poller.Poller
	Network string
	DataDir string
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	manager *fusion.Manager
	swaps   *swap.Coordinator
	poller  *poller.Poller
	network string
	dataDir string
	started time.Time
	log     *logging.Logger
	wsHub   *WSHub

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application error codes.
const (
	ValidationFailed    = -32001
	NotFound            = -32004
	CounterpartyTimeout = -32008
	InvalidState        = -32009
	CoordinationFailed  = -32010
)

var errInvalidParams = errors.New("invalid params")

// NewServer creates a new JSON-RPC server. Swap and poll events are
// forwarded to WebSocket clients from here on.
func NewServer(cfg *Config) *Server {
	s := &Server{
		manager:  cfg.Manager,
		swaps:    cfg.Swaps,
		poller:   cfg.Poller,
		network:  cfg.Network,
		dataDir:  cfg.DataDir,
		started:  time.Now(),
		log:      logging.GetDefault().Component("rpc"),
		wsHub:    NewWSHub(),
		handlers: make(map[string]Handler),
	}
	go s.wsHub.Run()

	s.registerHandlers()
	s.forwardEvents()

	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Node methods
	s.handlers["node_status"] = s.nodeStatus

	// Order methods
	s.handlers["fusion_createOrder"] = s.fusionCreateOrder
	s.handlers["fusion_monitorOrder"] = s.fusionMonitorOrder
	s.handlers["fusion_startPolling"] = s.fusionStartPolling
	s.handlers["fusion_stopPolling"] = s.fusionStopPolling
	s.handlers["fusion_getOrder"] = s.fusionGetOrder
	s.handlers["fusion_listOrders"] = s.fusionListOrders
	s.handlers["fusion_cancelOrder"] = s.fusionCancelOrder

	// Swap methods
	s.handlers["swap_status"] = s.swapStatus
	s.handlers["swap_list"] = s.swapList
	s.handlers["swap_refund"] = s.swapRefund
}

// Handler returns the HTTP handler serving JSON-RPC and WebSocket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Stop stops the RPC server and disconnects WebSocket clients.
func (s *Server) Stop() error {
	defer s.wsHub.Stop()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// forwardEvents relays coordinator and poller events to WebSocket clients.
func (s *Server) forwardEvents() {
	if s.swaps != nil {
		s.swaps.OnEvent(func(ev swap.SwapEvent) {
			data := map[string]interface{}{"swap_id": ev.SwapID}
			switch d := ev.Data.(type) {
			case *swap.Record:
				data["swap"] = swapToInfo(d)
			case swap.TimeoutCheckResult:
				data["chain"] = d.Chain
				data["escrow"] = d.Escrow
				data["refund_tx"] = d.RefundTx
			}
			s.wsHub.Broadcast(EventType(ev.EventType), data)
		})
	}
	if s.poller != nil {
		s.poller.OnUpdate(func(u poller.Update) {
			event := OrderStatusEvent{
				OrderID:         u.OrderID,
				OrderHash:       u.OrderHash,
				Status:          u.Status,
				Stage:           string(u.Stage),
				Percent:         u.Percent,
				SecretSubmitted: u.SecretSubmitted,
			}
			if u.Err != nil {
				event.Error = u.Err.Error()
			}
			switch {
			case u.Done && u.Stage == swap.StageCompleted:
				s.wsHub.Broadcast(EventOrderCompleted, event)
			case u.Done:
				s.wsHub.Broadcast(EventOrderFailed, event)
			default:
				s.wsHub.Broadcast(EventOrderStatus, event)
			}
		})
	}
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.log.Debug("RPC call failed", "method", req.Method, "error", err)
		s.writeError(w, req.ID, errorCode(err), err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// errorCode maps domain errors onto JSON-RPC error codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, errInvalidParams):
		return InvalidParams
	case errors.Is(err, fusion.ErrValidation), errors.Is(err, hashlock.ErrConfiguration):
		return ValidationFailed
	case errors.Is(err, fusion.ErrOrderNotFound), errors.Is(err, swap.ErrSwapNotFound):
		return NotFound
	case errors.Is(err, fusion.ErrCounterpartyTimeout):
		return CounterpartyTimeout
	case errors.Is(err, fusion.ErrInvalidStage), errors.Is(err, swap.ErrInvalidTransition),
		errors.Is(err, fusion.ErrAlreadyExecuting):
		return InvalidState
	case errors.Is(err, swap.ErrCoordination), errors.Is(err, escrow.ErrEscrowFailed):
		return CoordinationFailed
	default:
		return InternalError
	}
}

// parseParams decodes params into v.
func parseParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
