package swap

import (
	"errors"
	"testing"

	"github.com/klingon-exchange/xrpfusion/internal/escrow"
)

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		wantSrc escrow.Chain
		wantDst escrow.Chain
		wantErr bool
	}{
		{"ETH_to_XRP", escrow.ChainEthereum, escrow.ChainXRP, false},
		{"XRP_to_ETH", escrow.ChainXRP, escrow.ChainEthereum, false},
		{"BTC_to_XRP", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDirection(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDirection) {
					t.Fatalf("expected ErrInvalidDirection, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			src, dst := d.Chains()
			if src != tt.wantSrc || dst != tt.wantDst {
				t.Errorf("Chains() = %s, %s; want %s, %s", src, dst, tt.wantSrc, tt.wantDst)
			}
		})
	}
}

func TestRecordTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		wantErr bool
	}{
		{StatusPending, StatusLocked, false},
		{StatusPending, StatusCancelled, false},
		{StatusPending, StatusExpired, false},
		{StatusPending, StatusCompleted, true},
		{StatusLocked, StatusCompleted, false},
		{StatusLocked, StatusCancelled, false},
		{StatusLocked, StatusPending, true},
		{StatusLocked, StatusRefunding, false},
		{StatusPending, StatusRefunding, false},
		{StatusRefunding, StatusCancelled, false},
		{StatusRefunding, StatusExpired, false},
		{StatusRefunding, StatusLocked, true},
		{StatusRefunding, StatusCompleted, true},
		{StatusCompleted, StatusCancelled, true},
		{StatusCancelled, StatusLocked, true},
		{StatusExpired, StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			r := &Record{Status: tt.from}
			err := r.TransitionTo(tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				if r.Status != tt.from {
					t.Errorf("status changed to %s on rejected transition", r.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Status != tt.to {
				t.Errorf("status = %s, want %s", r.Status, tt.to)
			}
		})
	}
}

func TestRecordClone(t *testing.T) {
	r := &Record{ID: "a", SourceEscrow: &escrow.Ref{ID: "src"}}
	r.Lock.Hash = []byte{1, 2, 3}

	cp := r.Clone()
	cp.SourceEscrow.ID = "changed"
	cp.Lock.Hash[0] = 9

	if r.SourceEscrow.ID != "src" || r.Lock.Hash[0] != 1 {
		t.Error("Clone shares memory with the original")
	}
}
