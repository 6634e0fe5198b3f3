package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
	"github.com/klingon-exchange/xrpfusion/pkg/logging"
)

// RippleEpochOffset is the unix time of 2000-01-01T00:00:00Z, the XRP Ledger epoch.
const RippleEpochOffset = 946684800

// Engine results.
const (
	resultSuccess = "tesSUCCESS"
	resultQueued  = "terQUEUED"
)

// ToRippleTime converts a wall clock time to seconds since the Ripple epoch.
func ToRippleTime(t time.Time) uint32 {
	return uint32(t.Unix() - RippleEpochOffset)
}

// FromRippleTime converts seconds since the Ripple epoch to wall clock time.
func FromRippleTime(v uint32) time.Time {
	return time.Unix(int64(v)+RippleEpochOffset, 0).UTC()
}

// EscrowFinishFee is the fee in drops for an EscrowFinish carrying a
// fulfillment of fulfillmentLen bytes: 10 * (33 + ceil(len/16)).
func EscrowFinishFee(fulfillmentLen int) uint64 {
	return 330 + 10*uint64((fulfillmentLen+15)/16)
}

// XRPLConfig configures the XRP Ledger adapter.
type XRPLConfig struct {
	URL     string // rippled JSON-RPC endpoint
	Account string // classic address that owns escrows
	Seed    string // family seed used for server-side signing

	ValidationTimeout time.Duration
	PollInterval      time.Duration
}

// XRPLAdapter drives escrows through a rippled JSON-RPC endpoint. Transactions
// are signed by the server (sign-and-submit), so the node must be trusted.
type XRPLAdapter struct {
	cfg        XRPLConfig
	httpClient *http.Client
	requestID  atomic.Uint64
	log        *logging.Logger
}

// NewXRPLAdapter creates an adapter for the configured account.
func NewXRPLAdapter(cfg XRPLConfig) *XRPLAdapter {
	if cfg.ValidationTimeout == 0 {
		cfg.ValidationTimeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &XRPLAdapter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.GetDefault().Component("xrpl"),
	}
}

func (x *XRPLAdapter) Chain() Chain { return ChainXRP }

// Account returns the escrow owning account.
func (x *XRPLAdapter) Account() string { return x.cfg.Account }

func (x *XRPLAdapter) CreateEscrow(ctx context.Context, destination string, amount decimal.Decimal,
	lock hashlock.Lock, finishAfter, cancelAfter time.Time) (Ref, error) {
	if !cancelAfter.After(finishAfter) {
		return Ref{}, fmt.Errorf("%w: cancelAfter must follow finishAfter", ErrEscrowFailed)
	}
	drops, err := helpers.XRPToDrops(amount)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}
	condition, err := hashlock.ConditionForLock(lock)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}

	tx := map[string]interface{}{
		"TransactionType": "EscrowCreate",
		"Account":         x.cfg.Account,
		"Destination":     destination,
		"Amount":          drops,
		"Condition":       condition,
		"FinishAfter":     ToRippleTime(finishAfter),
		"CancelAfter":     ToRippleTime(cancelAfter),
	}

	res, err := x.submitAndWait(ctx, tx)
	if err != nil {
		return Ref{}, err
	}

	x.log.Info("XRPL escrow created", "sequence", res.Sequence, "tx", res.Hash, "drops", drops)
	return Ref{
		Chain:    ChainXRP,
		ID:       fmt.Sprintf("%s:%d", x.cfg.Account, res.Sequence),
		Owner:    x.cfg.Account,
		Sequence: res.Sequence,
		TxHash:   res.Hash,
	}, nil
}

func (x *XRPLAdapter) FinishEscrow(ctx context.Context, owner string, ref Ref, lock hashlock.Lock, secret []byte) (string, error) {
	condition, err := hashlock.ConditionForLock(lock)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}
	fulfillment, err := hashlock.Fulfillment(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}

	tx := map[string]interface{}{
		"TransactionType": "EscrowFinish",
		"Account":         x.cfg.Account,
		"Owner":           owner,
		"OfferSequence":   ref.Sequence,
		"Condition":       condition,
		"Fulfillment":     fulfillment,
		"Fee":             strconv.FormatUint(EscrowFinishFee(len(fulfillment)/2), 10),
	}

	res, err := x.submitAndWait(ctx, tx)
	if err != nil {
		return "", err
	}
	x.log.Info("XRPL escrow finished", "owner", owner, "sequence", ref.Sequence, "tx", res.Hash)
	return res.Hash, nil
}

func (x *XRPLAdapter) CancelEscrow(ctx context.Context, owner string, ref Ref) (string, error) {
	tx := map[string]interface{}{
		"TransactionType": "EscrowCancel",
		"Account":         x.cfg.Account,
		"Owner":           owner,
		"OfferSequence":   ref.Sequence,
	}

	res, err := x.submitAndWait(ctx, tx)
	if err != nil {
		return "", err
	}
	x.log.Info("XRPL escrow cancelled", "owner", owner, "sequence", ref.Sequence, "tx", res.Hash)
	return res.Hash, nil
}

// Balance returns the XRP balance of account.
func (x *XRPLAdapter) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	raw, err := x.call(ctx, "account_info", map[string]interface{}{
		"account":      account,
		"ledger_index": "validated",
	})
	if err != nil {
		return decimal.Zero, err
	}

	var info struct {
		AccountData struct {
			Balance string `json:"Balance"`
		} `json:"account_data"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse account_info: %w", err)
	}
	drops, err := decimal.NewFromString(info.AccountData.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance %q: %w", info.AccountData.Balance, err)
	}
	return drops.Shift(-helpers.XRPDecimals), nil
}

type submitResult struct {
	Hash     string
	Sequence uint32
}

// submitAndWait signs and submits tx, then waits until it is validated with
// tesSUCCESS.
func (x *XRPLAdapter) submitAndWait(ctx context.Context, tx map[string]interface{}) (*submitResult, error) {
	raw, err := x.call(ctx, "submit", map[string]interface{}{
		"tx_json": tx,
		"secret":  x.cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: submit %s: %v", ErrEscrowFailed, tx["TransactionType"], err)
	}

	var sub struct {
		EngineResult        string `json:"engine_result"`
		EngineResultMessage string `json:"engine_result_message"`
		TxJSON              struct {
			Hash     string `json:"hash"`
			Sequence uint32 `json:"Sequence"`
		} `json:"tx_json"`
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: failed to parse submit result: %v", ErrEscrowFailed, err)
	}
	if sub.EngineResult != resultSuccess && sub.EngineResult != resultQueued {
		return nil, fmt.Errorf("%w: %s rejected: %s %s", ErrEscrowFailed,
			tx["TransactionType"], sub.EngineResult, sub.EngineResultMessage)
	}

	if err := x.waitValidated(ctx, sub.TxJSON.Hash); err != nil {
		return nil, err
	}
	return &submitResult{Hash: sub.TxJSON.Hash, Sequence: sub.TxJSON.Sequence}, nil
}

func (x *XRPLAdapter) waitValidated(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.ValidationTimeout)
	defer cancel()

	ticker := time.NewTicker(x.cfg.PollInterval)
	defer ticker.Stop()

	for {
		raw, err := x.call(ctx, "tx", map[string]interface{}{"transaction": hash})
		if err == nil {
			var res struct {
				Validated bool `json:"validated"`
				Meta      struct {
					TransactionResult string `json:"TransactionResult"`
				} `json:"meta"`
			}
			if jerr := json.Unmarshal(raw, &res); jerr == nil && res.Validated {
				if res.Meta.TransactionResult != resultSuccess {
					return fmt.Errorf("%w: tx %s validated with %s", ErrEscrowFailed, hash, res.Meta.TransactionResult)
				}
				return nil
			}
		} else {
			x.log.Debug("tx lookup pending", "tx", hash, "error", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: tx %s not validated: %v", ErrEscrowFailed, hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// call performs one rippled JSON-RPC request and returns the result object.
func (x *XRPLAdapter) call(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	request := map[string]interface{}{
		"method": method,
		"params": []interface{}{params},
		"id":     x.requestID.Add(1),
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var response struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var status struct {
		Status       string `json:"status"`
		Error        string `json:"error"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(response.Result, &status); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	if status.Status == "error" {
		msg := status.ErrorMessage
		if msg == "" {
			msg = status.Error
		}
		return nil, fmt.Errorf("rippled %s error: %s", method, msg)
	}

	return response.Result, nil
}

var _ Adapter = (*XRPLAdapter)(nil)
