package fusion

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/swap"
)

func TestAddressFormats(t *testing.T) {
	tests := []struct {
		addr string
		eth  bool
		xrp  bool
	}{
		{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8", true, false},
		{"0x70997970c51812dc3a010c7d01b50e0d17dc79c8", true, false},
		{"0x70997970C51812dc3A010C7d01b50e0d17dc79C", false, false},
		{"70997970C51812dc3A010C7d01b50e0d17dc79C8", false, false},
		{"rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY", false, true},
		{"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", false, true},
		{"rHb9CJAWyB4rj91VRWn96DkukG4bwdty0h", false, false},
		{"xHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := IsETHAddress(tt.addr); got != tt.eth {
			t.Errorf("IsETHAddress(%q) = %v, want %v", tt.addr, got, tt.eth)
		}
		if got := IsXRPAddress(tt.addr); got != tt.xrp {
			t.Errorf("IsXRPAddress(%q) = %v, want %v", tt.addr, got, tt.xrp)
		}
	}
}

func TestImpliedRate(t *testing.T) {
	tests := []struct {
		dir    swap.Direction
		source string
		target string
		want   string
	}{
		{swap.ETHToXRP, "0.5", "2000", "4000"},
		{swap.XRPToETH, "4000", "1", "0.00025"},
	}
	for _, tt := range tests {
		got := ImpliedRate(tt.dir, decimal.RequireFromString(tt.source), decimal.RequireFromString(tt.target))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ImpliedRate(%s, %s, %s) = %s, want %s", tt.dir, tt.source, tt.target, got, tt.want)
		}
	}
}

func TestCheckReceiver(t *testing.T) {
	tests := []struct {
		dir      swap.Direction
		receiver string
		ok       bool
	}{
		{swap.ETHToXRP, "", true},
		{swap.ETHToXRP, "rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY", true},
		{swap.ETHToXRP, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", false},
		{swap.XRPToETH, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", true},
		{swap.XRPToETH, "rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY", false},
	}
	for _, tt := range tests {
		err := checkReceiver(tt.dir, tt.receiver)
		if tt.ok != (err == nil) {
			t.Errorf("checkReceiver(%s, %q) = %v, want ok=%v", tt.dir, tt.receiver, err, tt.ok)
		}
	}
}

func TestFeeQuote(t *testing.T) {
	q := DefaultConfiguration().Fees.quote(decimal.NewFromInt(2), decimal.RequireFromString("0.01"))
	if !q.Total.Equal(decimal.RequireFromString("0.019")) {
		t.Errorf("Total = %s, want 0.019", q.Total)
	}
}
