package helpers

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsZeroBytes(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want bool
	}{
		{"all zeros", []byte{0, 0, 0}, true},
		{"has non-zero", []byte{0, 1, 0}, false},
		{"empty", []byte{}, true},
		{"single non-zero", []byte{1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsZeroBytes(tt.b); got != tt.want {
				t.Errorf("IsZeroBytes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSecureClear(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	SecureClear(b)
	if !IsZeroBytes(b) {
		t.Errorf("SecureClear left %v", b)
	}
}

func TestConstantTimeCompare(t *testing.T) {
	if !ConstantTimeCompare([]byte{1, 2}, []byte{1, 2}) {
		t.Error("equal slices compared unequal")
	}
	if ConstantTimeCompare([]byte{1, 2}, []byte{1, 3}) {
		t.Error("different slices compared equal")
	}
	if ConstantTimeCompare([]byte{1, 2}, []byte{1, 2, 3}) {
		t.Error("different lengths compared equal")
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom() error = %v", err)
	}
	b, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom() error = %v", err)
	}
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("unexpected lengths %d %d", len(a), len(b))
	}
	if ConstantTimeCompare(a, b) {
		t.Error("two random draws are identical")
	}
}

func TestHexHelpers(t *testing.T) {
	b, err := HexToBytes("0xdeadBEEF")
	if err != nil {
		t.Fatalf("HexToBytes() error = %v", err)
	}
	if got := BytesToHex(b); got != "0xdeadbeef" {
		t.Errorf("BytesToHex = %s, want 0xdeadbeef", got)
	}
	if got := UpperHex(b); got != "DEADBEEF" {
		t.Errorf("UpperHex = %s, want DEADBEEF", got)
	}
	if got := ShortHex(b, 4); got != "dead" {
		t.Errorf("ShortHex = %s, want dead", got)
	}
	if got := PadLeft([]byte{1}, 3); len(got) != 3 || got[2] != 1 {
		t.Errorf("PadLeft = %v", got)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"0.01", "0.01", false},
		{"50", "50", false},
		{" 1.5 ", "1.5", false},
		{"", "", true},
		{"abc", "", true},
		{"-1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestBaseUnits(t *testing.T) {
	drops, err := XRPToDrops(decimal.RequireFromString("50.5"))
	if err != nil {
		t.Fatalf("XRPToDrops() error = %v", err)
	}
	if drops != "50500000" {
		t.Errorf("XRPToDrops = %s, want 50500000", drops)
	}

	wei, err := ETHToWei(decimal.RequireFromString("0.01"))
	if err != nil {
		t.Fatalf("ETHToWei() error = %v", err)
	}
	if wei.Cmp(big.NewInt(10_000_000_000_000_000)) != 0 {
		t.Errorf("ETHToWei = %s", wei)
	}

	if _, err := XRPToDrops(decimal.RequireFromString("0.0000001")); err == nil {
		t.Error("expected error for sub-drop precision")
	}

	back := FromBaseUnits(wei, ETHDecimals)
	if !back.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("FromBaseUnits = %s, want 0.01", back)
	}
}
