package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeRippled struct {
	mu          sync.Mutex
	submitted   []map[string]interface{}
	engine      string
	finalResult string
	lookups     int
	validateAt  int
}

func (f *fakeRippled) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string                   `json:"method"`
		Params []map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var result interface{}
	switch req.Method {
	case "submit":
		tx, _ := req.Params[0]["tx_json"].(map[string]interface{})
		f.submitted = append(f.submitted, tx)
		result = map[string]interface{}{
			"status":                "success",
			"engine_result":         f.engine,
			"engine_result_message": "msg",
			"tx_json": map[string]interface{}{
				"hash":     "ABCDEF",
				"Sequence": 42,
			},
		}
	case "tx":
		f.lookups++
		result = map[string]interface{}{
			"status":    "success",
			"validated": f.lookups >= f.validateAt,
			"meta":      map[string]interface{}{"TransactionResult": f.finalResult},
		}
	case "account_info":
		result = map[string]interface{}{
			"status":       "success",
			"account_data": map[string]interface{}{"Balance": "123456789"},
		}
	default:
		result = map[string]interface{}{"status": "error", "error": "unknownCmd"}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
}

func newTestXRPL(f *fakeRippled) (*XRPLAdapter, func()) {
	srv := httptest.NewServer(f)
	a := NewXRPLAdapter(XRPLConfig{
		URL:               srv.URL,
		Account:           "rOwnerAccount",
		Seed:              "sSeed",
		PollInterval:      time.Millisecond,
		ValidationTimeout: 2 * time.Second,
	})
	return a, srv.Close
}

func TestXRPLCreateEscrow(t *testing.T) {
	f := &fakeRippled{engine: "tesSUCCESS", finalResult: "tesSUCCESS", validateAt: 2}
	a, done := newTestXRPL(f)
	defer done()
	_, lock := newTestLock(t)

	finish := time.Unix(RippleEpochOffset+1000, 0)
	cancel := finish.Add(time.Hour)
	ref, err := a.CreateEscrow(context.Background(), "rDest", decimal.RequireFromString("50.5"), lock, finish, cancel)
	if err != nil {
		t.Fatalf("CreateEscrow() error = %v", err)
	}
	if ref.Sequence != 42 || ref.TxHash != "ABCDEF" || ref.Owner != "rOwnerAccount" {
		t.Errorf("unexpected ref %+v", ref)
	}

	tx := f.submitted[0]
	if tx["TransactionType"] != "EscrowCreate" {
		t.Errorf("TransactionType = %v", tx["TransactionType"])
	}
	if tx["Amount"] != "50500000" {
		t.Errorf("Amount = %v, want 50500000 drops", tx["Amount"])
	}
	if tx["FinishAfter"].(float64) != 1000 {
		t.Errorf("FinishAfter = %v, want 1000", tx["FinishAfter"])
	}
	if cond, _ := tx["Condition"].(string); len(cond) != 78 {
		t.Errorf("Condition length = %d, want 78", len(cond))
	}
	if f.lookups < 2 {
		t.Errorf("expected validation polling, got %d lookups", f.lookups)
	}
}

func TestXRPLFinishEscrowFee(t *testing.T) {
	f := &fakeRippled{engine: "tesSUCCESS", finalResult: "tesSUCCESS", validateAt: 1}
	a, done := newTestXRPL(f)
	defer done()
	c, lock := newTestLock(t)

	_, err := a.FinishEscrow(context.Background(), "rOwnerAccount", Ref{Sequence: 42}, lock, c.Secret)
	if err != nil {
		t.Fatalf("FinishEscrow() error = %v", err)
	}
	tx := f.submitted[0]
	// 36-byte fulfillment: 330 + 10*3.
	if tx["Fee"] != "360" {
		t.Errorf("Fee = %v, want 360", tx["Fee"])
	}
	if tx["OfferSequence"].(float64) != 42 {
		t.Errorf("OfferSequence = %v", tx["OfferSequence"])
	}
}

func TestXRPLRejectedAndFailedResults(t *testing.T) {
	_, lock := newTestLock(t)
	now := time.Now()

	f := &fakeRippled{engine: "tecNO_DST", finalResult: "tesSUCCESS", validateAt: 1}
	a, done := newTestXRPL(f)
	_, err := a.CreateEscrow(context.Background(), "rDest", decimal.NewFromInt(1), lock, now, now.Add(time.Hour))
	done()
	if !errors.Is(err, ErrEscrowFailed) {
		t.Errorf("rejected submit: expected ErrEscrowFailed, got %v", err)
	}

	f = &fakeRippled{engine: "tesSUCCESS", finalResult: "tecNO_PERMISSION", validateAt: 1}
	a, done = newTestXRPL(f)
	_, err = a.CancelEscrow(context.Background(), "rOwnerAccount", Ref{Sequence: 7})
	done()
	if !errors.Is(err, ErrEscrowFailed) {
		t.Errorf("failed validation: expected ErrEscrowFailed, got %v", err)
	}
}

func TestXRPLBalance(t *testing.T) {
	f := &fakeRippled{}
	a, done := newTestXRPL(f)
	defer done()

	bal, err := a.Balance(context.Background(), "rOwnerAccount")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("123.456789")) {
		t.Errorf("balance = %s, want 123.456789", bal)
	}
}

func TestRippleTime(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := FromRippleTime(ToRippleTime(ts)); !got.Equal(ts) {
		t.Errorf("round trip = %s, want %s", got, ts)
	}
	if EscrowFinishFee(36) != 360 || EscrowFinishFee(32) != 350 {
		t.Error("unexpected finish fee")
	}
}
