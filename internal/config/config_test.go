package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/swap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Network != Mainnet {
		t.Errorf("expected mainnet, got %s", cfg.Network)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Swap.TimeoutHours != 24 {
		t.Errorf("expected 24 hour timeout, got %d", cfg.Swap.TimeoutHours)
	}
	if cfg.Swap.MonitorInterval != time.Minute {
		t.Errorf("expected 1 minute monitor interval, got %s", cfg.Swap.MonitorInterval)
	}
	if cfg.Poller.Interval != 15*time.Second || cfg.Poller.MaxErrors != 3 || cfg.Poller.SecretTrigger != 60 {
		t.Errorf("unexpected poller defaults %+v", cfg.Poller)
	}
	if cfg.Fusion.RateTolerance != "0.05" {
		t.Errorf("expected rate tolerance 0.05, got %s", cfg.Fusion.RateTolerance)
	}
	if cfg.Fusion.DefaultTimelock != 2*time.Hour || cfg.Fusion.SafetyMargin != 30*time.Minute {
		t.Errorf("unexpected timelock defaults %s / %s", cfg.Fusion.DefaultTimelock, cfg.Fusion.SafetyMargin)
	}
}

func TestApplyNetworkDefaults(t *testing.T) {
	tests := []struct {
		network NetworkType
		chainID uint64
		xrpl    string
	}{
		{Mainnet, 1, "https://s1.ripple.com:51234"},
		{Testnet, 11155111, "https://s.altnet.rippletest.net:51234"},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Network = tt.network
		cfg.ApplyNetworkDefaults()

		if cfg.EVM.ChainID != tt.chainID {
			t.Errorf("%s: chain id = %d, want %d", tt.network, cfg.EVM.ChainID, tt.chainID)
		}
		if cfg.XRPL.URL != tt.xrpl {
			t.Errorf("%s: xrpl url = %s, want %s", tt.network, cfg.XRPL.URL, tt.xrpl)
		}
		if cfg.EVM.RPCURL == "" {
			t.Errorf("%s: empty evm rpc url", tt.network)
		}
	}

	cfg := DefaultConfig()
	cfg.Network = Testnet
	cfg.XRPL.URL = "http://localhost:5005"
	cfg.ApplyNetworkDefaults()
	if cfg.XRPL.URL != "http://localhost:5005" {
		t.Errorf("explicit url overwritten: %s", cfg.XRPL.URL)
	}
}

func TestLoadConfigCreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("data dir = %s, want %s", cfg.Storage.DataDir, dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "# xrpfusion") {
		t.Error("missing header comment")
	}
	if !strings.Contains(string(data), "interval: 15s") {
		t.Errorf("durations not written as strings:\n%s", data)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Network = Testnet
	cfg.RPC.Listen = "0.0.0.0:9000"
	cfg.Poller.Interval = 5 * time.Second
	cfg.Fusion.MinimumXRP = "25"
	if err := cfg.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !loaded.IsTestnet() {
		t.Error("expected testnet")
	}
	if loaded.RPC.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %s", loaded.RPC.Listen)
	}
	if loaded.Poller.Interval != 5*time.Second {
		t.Errorf("poller interval = %s", loaded.Poller.Interval)
	}
	if loaded.Fusion.MinimumXRP != "25" {
		t.Errorf("minimum xrp = %s", loaded.Fusion.MinimumXRP)
	}
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	yml := "network: testnet\nlogging:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Network != Testnet {
		t.Errorf("overrides not applied: %+v", cfg.Logging)
	}
	if cfg.Swap.TimeoutHours != 24 || cfg.Poller.MaxErrors != 3 {
		t.Error("defaults lost for sections missing from the file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("rpc: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestOrderPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fusion.RateTolerance = "0.02"
	cfg.Fusion.MinimumETH = "0.5"
	cfg.Swap.TimeoutHours = 12

	policy, err := cfg.OrderPolicy()
	if err != nil {
		t.Fatalf("OrderPolicy() error = %v", err)
	}
	if !policy.RateTolerance.Equal(decimal.RequireFromString("0.02")) {
		t.Errorf("tolerance = %s", policy.RateTolerance)
	}
	if !policy.MinimumAmount[swap.ETHToXRP].Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("minimum = %s", policy.MinimumAmount[swap.ETHToXRP])
	}
	if policy.SwapTimeoutHours != 12 {
		t.Errorf("timeout hours = %d", policy.SwapTimeoutHours)
	}

	for _, bad := range []string{"abc", "0", "-0.1"} {
		cfg.Fusion.RateTolerance = bad
		if _, err := cfg.OrderPolicy(); err == nil {
			t.Errorf("tolerance %q accepted", bad)
		}
	}
}

func TestPollerSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Poller.MaxErrors = 5
	ps := cfg.PollerSettings()
	if ps.MaxErrors != 5 || ps.Interval != 15*time.Second {
		t.Errorf("poller settings = %+v", ps)
	}
}

func TestHTLCRegistry(t *testing.T) {
	sepolia := common.HexToAddress("0x628c677e7b8889e64564d3f381565a9e6656aade")
	if got := GetHTLCContract(11155111); got != sepolia {
		t.Errorf("sepolia contract = %s", got.Hex())
	}
	if !IsHTLCDeployed(11155111) {
		t.Error("sepolia should be deployed")
	}
	if IsHTLCDeployed(1) {
		t.Error("mainnet should not be deployed")
	}
	if IsHTLCDeployed(999) {
		t.Error("unknown chain should not be deployed")
	}

	custom := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	SetHTLCContract(31337, custom)
	defer delete(htlcRegistry, 31337)
	if !IsHTLCDeployed(31337) {
		t.Error("registered chain not deployed")
	}

	cfg := DefaultConfig()
	cfg.EVM.ChainID = 11155111
	if cfg.HTLCAddress() != sepolia {
		t.Error("HTLCAddress should fall back to the registry")
	}
	cfg.EVM.HTLCContract = custom.Hex()
	if cfg.HTLCAddress() != custom {
		t.Error("HTLCAddress should prefer the override")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("XRPFUSION_XRPL_SEED", "sEdTestSeed")
	t.Setenv("XRPFUSION_API_KEY", "key")
	t.Setenv("XRPFUSION_VAULT_PASSWORD", "vault-pass")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.XRPL.Seed != "sEdTestSeed" || cfg.Fusion.APIKey != "key" {
		t.Errorf("env not applied: seed=%q key=%q", cfg.XRPL.Seed, cfg.Fusion.APIKey)
	}
	if cfg.Storage.VaultPassword != "vault-pass" {
		t.Errorf("vault password = %q", cfg.Storage.VaultPassword)
	}

	// Passwords never reach the config file.
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "vault-pass") {
		t.Error("vault password written to config file")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandPath("~/.xrpfusion"); got != filepath.Join(home, ".xrpfusion") {
		t.Errorf("ExpandPath = %s", got)
	}
	if got := ExpandPath("/tmp/x"); got != "/tmp/x" {
		t.Errorf("ExpandPath = %s", got)
	}
}
