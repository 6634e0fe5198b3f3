package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// BIP44 coin type for Ethereum.
const coinTypeETH = 60

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// DeriveEVMKey derives the signing key at m/44'/60'/0'/0/index.
func DeriveEVMKey(mnemonic, passphrase string, index uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("address index %d out of range", index)
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + coinTypeETH,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
	key := master
	for _, step := range path {
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
	}

	var priv *btcec.PrivateKey
	priv, err = key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return priv.ToECDSA(), nil
}

// ParseHexKey parses a hex private key, with or without 0x prefix.
func ParseHexKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Address returns the EVM address of key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// KeySource describes where the EVM signing key comes from. Exactly one of
// PrivateKey, Mnemonic or SeedFile should be set.
type KeySource struct {
	PrivateKey string
	Mnemonic   string
	Passphrase string
	SeedFile   string // encrypted mnemonic written by SaveEncryptedSeed
	Password   string
	Index      uint32
}

// LoadEVMKey resolves a KeySource to a signing key.
func LoadEVMKey(src KeySource) (*ecdsa.PrivateKey, error) {
	switch {
	case src.PrivateKey != "":
		return ParseHexKey(src.PrivateKey)
	case src.Mnemonic != "":
		return DeriveEVMKey(src.Mnemonic, src.Passphrase, src.Index)
	case src.SeedFile != "":
		enc, err := LoadEncryptedSeed(src.SeedFile)
		if err != nil {
			return nil, err
		}
		mnemonic, err := DecryptMnemonic(enc, src.Password)
		if err != nil {
			return nil, err
		}
		return DeriveEVMKey(mnemonic, src.Passphrase, src.Index)
	default:
		return nil, fmt.Errorf("no EVM key configured")
	}
}
