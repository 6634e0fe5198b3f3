package wallet

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// Cheap parameters keep tests fast.
var testKDF = KDFParams{Time: 1, Memory: 1024, Parallelism: 1}

func TestDeriveEVMKeyVector(t *testing.T) {
	key, err := DeriveEVMKey(testMnemonic, "", 0)
	if err != nil {
		t.Fatalf("DeriveEVMKey() error = %v", err)
	}
	want := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	if got := Address(key).Hex(); got != want {
		t.Errorf("address = %s, want %s", got, want)
	}

	other, err := DeriveEVMKey(testMnemonic, "", 1)
	if err != nil {
		t.Fatalf("DeriveEVMKey(1) error = %v", err)
	}
	if Address(other) == Address(key) {
		t.Error("index 1 derived the same address as index 0")
	}

	if _, err := DeriveEVMKey("not a mnemonic", "", 0); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
}

func TestParseHexKey(t *testing.T) {
	hexKey := "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	key, err := ParseHexKey(hexKey)
	if err != nil {
		t.Fatalf("ParseHexKey() error = %v", err)
	}
	if got := Address(key).Hex(); got != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("address = %s", got)
	}
	if _, err := ParseHexKey("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestLoadEVMKeyFromSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	enc, err := EncryptMnemonic(testMnemonic, "Correct-Horse-9", testKDF)
	if err != nil {
		t.Fatalf("EncryptMnemonic() error = %v", err)
	}
	if err := SaveEncryptedSeed(enc, path); err != nil {
		t.Fatalf("SaveEncryptedSeed() error = %v", err)
	}

	key, err := LoadEVMKey(KeySource{SeedFile: path, Password: "Correct-Horse-9"})
	if err != nil {
		t.Fatalf("LoadEVMKey() error = %v", err)
	}
	if Address(key).Hex() != "0x9858EfFD232B4033E47d90003D41EC34EcaEda94" {
		t.Errorf("unexpected address %s", Address(key).Hex())
	}

	if _, err := LoadEVMKey(KeySource{SeedFile: path, Password: "Wrong-Horse-9"}); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, err := LoadEVMKey(KeySource{}); err == nil {
		t.Error("expected error for empty key source")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"short1A", true},
		{"alllowercase", true},
		{"Lower1234", false},
		{"lower-1234", false},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestVaultSealOpen(t *testing.T) {
	dir := t.TempDir()
	v, err := OpenVault(dir, "vault-pass", testKDF)
	if err != nil {
		t.Fatalf("OpenVault() error = %v", err)
	}

	secret := []byte("0123456789abcdef0123456789abcdef")
	sealed, err := v.Seal(secret)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, secret) {
		t.Fatal("sealed data contains plaintext")
	}

	// Reopening with the same password reuses the salt file.
	v2, err := OpenVault(dir, "vault-pass", testKDF)
	if err != nil {
		t.Fatalf("OpenVault() second time error = %v", err)
	}
	got, err := v2.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("Open() = %x, want %x", got, secret)
	}

	wrong, _ := OpenVault(dir, "other-pass", testKDF)
	if _, err := wrong.Open(sealed); !errors.Is(err, ErrVaultSealed) {
		t.Errorf("wrong password: expected ErrVaultSealed, got %v", err)
	}
	if _, err := v.Open([]byte{1, 2}); !errors.Is(err, ErrVaultSealed) {
		t.Errorf("short input: expected ErrVaultSealed, got %v", err)
	}
}
