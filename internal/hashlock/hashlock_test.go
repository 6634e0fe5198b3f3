package hashlock

import (
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateCommitment(t *testing.T) {
	tests := []struct {
		name    string
		alg     Algorithm
		size    int
		wantErr bool
	}{
		{"sha256 default", SHA256, 32, false},
		{"sha512 max", SHA512, 64, false},
		{"min size", SHA256, 16, false},
		{"too short", SHA256, 15, true},
		{"too long", SHA256, 65, true},
		{"unknown algorithm", Algorithm("MD5"), 32, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := GenerateCommitment(tt.alg, tt.size)
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateCommitment() error = %v", err)
			}
			if len(c.Secret) != tt.size {
				t.Errorf("secret length = %d, want %d", len(c.Secret), tt.size)
			}
			if !VerifySecret(c.Secret, c.Hash, tt.alg) {
				t.Error("generated secret does not verify")
			}
		})
	}
}

func TestVerifySecretBitFlip(t *testing.T) {
	c, err := GenerateCommitment(SHA256, 32)
	if err != nil {
		t.Fatalf("GenerateCommitment() error = %v", err)
	}

	for i := 0; i < len(c.Secret)*8; i += 7 {
		flipped := append([]byte(nil), c.Secret...)
		flipped[i/8] ^= 1 << (i % 8)
		if VerifySecret(flipped, c.Hash, SHA256) {
			t.Fatalf("bit %d flipped secret verified", i)
		}
	}
}

func TestVerifySecretMalformed(t *testing.T) {
	c, _ := GenerateCommitment(SHA256, 32)

	if VerifySecret(nil, c.Hash, SHA256) {
		t.Error("nil secret verified")
	}
	if VerifySecret(c.Secret, nil, SHA256) {
		t.Error("nil hash verified")
	}
	if VerifySecret(c.Secret, c.Hash, SHA512) {
		t.Error("wrong algorithm verified")
	}
	if VerifySecret(c.Secret, c.Hash, Algorithm("bogus")) {
		t.Error("unknown algorithm verified")
	}
	if VerifySecret(c.Secret, c.Hash[:16], SHA256) {
		t.Error("truncated hash verified")
	}
}

func TestEraseKeepsLock(t *testing.T) {
	c, _ := GenerateCommitment(SHA256, 24)
	secret := c.Secret
	c.Erase()

	if c.HasSecret() {
		t.Error("secret still present after Erase")
	}
	for _, b := range secret {
		if b != 0 {
			t.Fatal("backing array not zeroed")
		}
	}
	if len(c.Lock().Hash) != 32 {
		t.Error("hash lost after Erase")
	}
}

func TestWindowOrdering(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	w, err := BuildWindow(now, 7200*time.Second, 1800*time.Second)
	if err != nil {
		t.Fatalf("BuildWindow() error = %v", err)
	}
	if !w.CancelAfter.After(w.FinishAfter) {
		t.Error("cancelAfter not after finishAfter")
	}
	if got := w.FinishAfter.Sub(now); got != PreparationBuffer {
		t.Errorf("finishAfter offset = %s, want %s", got, PreparationBuffer)
	}
	if got := w.CancelAfter.Sub(now); got != 9000*time.Second {
		t.Errorf("cancelAfter offset = %s, want 9000s", got)
	}

	if _, err := BuildWindow(now, 100*time.Second, 100*time.Second); !errors.Is(err, ErrConfiguration) {
		t.Errorf("short window: expected ErrConfiguration, got %v", err)
	}
	if _, err := NewWindow(now, now); !errors.Is(err, ErrConfiguration) {
		t.Errorf("equal bounds: expected ErrConfiguration, got %v", err)
	}
}

func TestEvaluateTimelockBoundaries(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	w, err := NewWindow(base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}

	tests := []struct {
		name      string
		now       time.Time
		status    string
		want      State
		execute   bool
		cancel    bool
		remaining time.Duration
	}{
		{"before finish", w.FinishAfter.Add(-time.Second), "", StateLocked, false, false, time.Second},
		{"at finish", w.FinishAfter, "", StateExecutable, true, false, 2 * time.Hour},
		{"before cancel", w.CancelAfter.Add(-time.Second), "", StateExecutable, true, false, time.Second},
		{"at cancel", w.CancelAfter, "", StateExpired, false, true, 0},
		{"completed overrides", w.FinishAfter, ExternalCompleted, StateCompleted, false, false, 0},
		{"cancelled overrides", base, ExternalCancelled, StateCancelled, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := EvaluateTimelock(w, tt.status, tt.now)
			if ev.State != tt.want {
				t.Errorf("state = %s, want %s", ev.State, tt.want)
			}
			if ev.CanExecute != tt.execute || ev.CanCancel != tt.cancel {
				t.Errorf("flags = (%v,%v), want (%v,%v)", ev.CanExecute, ev.CanCancel, tt.execute, tt.cancel)
			}
			if ev.TimeRemaining != tt.remaining {
				t.Errorf("remaining = %s, want %s", ev.TimeRemaining, tt.remaining)
			}
		})
	}
}

func TestEvaluateTimelockReferenceTime(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	w, _ := NewWindow(base.Add(time.Hour), base.Add(2*time.Hour))
	ref := base.Add(90 * time.Minute)
	w.ReferenceTime = &ref

	if ev := EvaluateTimelock(w, "", base); ev.State != StateExecutable {
		t.Errorf("state = %s, want EXECUTABLE from reference time", ev.State)
	}
}

func TestEncodeForLedgerXRPL(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	sum := sha256.Sum256(secret)
	c := &Commitment{Secret: secret, Hash: sum[:], Algorithm: SHA256}

	enc, err := EncodeForLedger(c, LedgerXRPL)
	if err != nil {
		t.Fatalf("EncodeForLedger() error = %v", err)
	}
	if !strings.HasPrefix(enc.Condition, "A0258020") || !strings.HasSuffix(enc.Condition, "810120") {
		t.Errorf("condition framing wrong: %s", enc.Condition)
	}
	if len(enc.Condition) != 39*2 {
		t.Errorf("condition length = %d, want 78", len(enc.Condition))
	}
	if !strings.HasPrefix(enc.Fulfillment, "A0228020000102") {
		t.Errorf("fulfillment framing wrong: %s", enc.Fulfillment)
	}
	if enc.Condition != strings.ToUpper(enc.Condition) {
		t.Error("condition not uppercase")
	}

	c.Erase()
	enc, err = EncodeForLedger(c, LedgerXRPL)
	if err != nil {
		t.Fatalf("EncodeForLedger() after erase error = %v", err)
	}
	if enc.Fulfillment != "" {
		t.Error("fulfillment produced without secret")
	}
}

func TestEncodeForLedgerErrors(t *testing.T) {
	c512, _ := GenerateCommitment(SHA512, 32)
	if _, err := EncodeForLedger(c512, LedgerXRPL); !errors.Is(err, ErrConfiguration) {
		t.Errorf("SHA512 on XRPL: expected ErrConfiguration, got %v", err)
	}
	if _, err := EncodeForLedger(c512, LedgerEVM); !errors.Is(err, ErrConfiguration) {
		t.Errorf("64-byte hash on EVM: expected ErrConfiguration, got %v", err)
	}

	c, _ := GenerateCommitment(SHA256, 32)
	enc, err := EncodeForLedger(c, LedgerEVM)
	if err != nil {
		t.Fatalf("EncodeForLedger(EVM) error = %v", err)
	}
	if len(enc.Condition) != 66 || len(enc.Fulfillment) != 66 {
		t.Errorf("EVM encoding lengths = %d/%d, want 66", len(enc.Condition), len(enc.Fulfillment))
	}
	if _, err := EncodeForLedger(c, Ledger("btc")); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unknown ledger: expected ErrConfiguration, got %v", err)
	}
}
