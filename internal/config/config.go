// Package config holds the daemon configuration and per-network chain
// parameters.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/xrpfusion/internal/fusion"
	"github.com/klingon-exchange/xrpfusion/internal/poller"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
)

// NetworkType represents mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds all daemon configuration.
type Config struct {
	// Network selects chain defaults for endpoints left empty.
	Network NetworkType `yaml:"network"`

	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	RPC     RPCConfig     `yaml:"rpc"`
	XRPL    XRPLConfig    `yaml:"xrpl"`
	EVM     EVMConfig     `yaml:"evm"`
	Fusion  FusionConfig  `yaml:"fusion"`
	Swap    SwapConfig    `yaml:"swap"`
	Poller  PollerConfig  `yaml:"poller"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the database and sealed secrets.
	DataDir string `yaml:"data_dir"`

	// VaultPassword unlocks secret persistence. Only read from
	// XRPFUSION_VAULT_PASSWORD; without it secrets stay in memory.
	VaultPassword string `yaml:"-"`
}

// RPCConfig holds API server settings.
type RPCConfig struct {
	// Listen is the HTTP listen address for JSON-RPC and WebSocket.
	Listen string `yaml:"listen"`
}

// XRPLConfig holds XRP Ledger settings.
type XRPLConfig struct {
	// URL is the rippled JSON-RPC endpoint. Empty uses the network default.
	URL string `yaml:"url"`

	// Account is the classic address that owns our escrows.
	Account string `yaml:"account"`

	// Seed is the family seed used for server-side signing. Prefer the
	// XRPFUSION_XRPL_SEED environment variable.
	Seed string `yaml:"seed,omitempty"`

	ValidationTimeout time.Duration `yaml:"validation_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// EVMConfig holds Ethereum settings.
type EVMConfig struct {
	// ChainID is the EVM chain. Zero uses the network default.
	ChainID uint64 `yaml:"chain_id"`

	// RPCURL is the JSON-RPC endpoint. Empty uses the network default.
	RPCURL string `yaml:"rpc_url"`

	// HTLCContract overrides the registered HTLC deployment.
	HTLCContract string `yaml:"htlc_contract,omitempty"`

	// Key source: a hex private key, a mnemonic, or an encrypted seed file.
	PrivateKey string `yaml:"private_key,omitempty"`
	Mnemonic   string `yaml:"mnemonic,omitempty"`
	SeedFile   string `yaml:"seed_file,omitempty"`
	KeyIndex   uint32 `yaml:"key_index"`

	// SeedPassword decrypts SeedFile. Only read from XRPFUSION_SEED_PASSWORD.
	SeedPassword string `yaml:"-"`
}

// FusionConfig holds relayer and order policy settings.
type FusionConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`

	DefaultTimelock   time.Duration `yaml:"default_timelock"`
	SafetyMargin      time.Duration `yaml:"safety_margin"`
	MinimumETH        string        `yaml:"minimum_eth"`
	MinimumXRP        string        `yaml:"minimum_xrp"`
	RateTolerance     string        `yaml:"rate_tolerance"`
	ResolverWait      time.Duration `yaml:"resolver_wait"`
	MatchPollInterval time.Duration `yaml:"match_poll_interval"`

	// ResolverETH and ResolverXRP are the default takers paid by the source
	// escrow when an order does not name one.
	ResolverETH string `yaml:"resolver_eth"`
	ResolverXRP string `yaml:"resolver_xrp"`
}

// SwapConfig holds atomic swap timing.
type SwapConfig struct {
	// TimeoutHours is the source escrow lifetime.
	TimeoutHours int `yaml:"timeout_hours"`

	// FinishDelay is how long after locking the escrows become claimable.
	FinishDelay time.Duration `yaml:"finish_delay"`

	// MonitorInterval is how often abandoned swaps are checked for refunds.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// PollerConfig holds order polling settings.
type PollerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	MaxErrors     int           `yaml:"max_errors"`
	SecretTrigger int           `yaml:"secret_trigger"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	def := fusion.DefaultConfiguration()
	pol := poller.DefaultConfig()
	return &Config{
		Network: Mainnet,
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: "~/.xrpfusion",
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:8645",
		},
		XRPL: XRPLConfig{
			ValidationTimeout: 60 * time.Second,
			PollInterval:      2 * time.Second,
		},
		Fusion: FusionConfig{
			BaseURL:           fusion.DefaultBaseURL,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			DefaultTimelock:   def.DefaultTimelock,
			SafetyMargin:      def.SafetyMargin,
			MinimumETH:        def.MinimumAmount[swap.ETHToXRP].String(),
			MinimumXRP:        def.MinimumAmount[swap.XRPToETH].String(),
			RateTolerance:     def.RateTolerance.String(),
			ResolverWait:      def.ResolverWait,
			MatchPollInterval: def.MatchPollInterval,
		},
		Swap: SwapConfig{
			TimeoutHours:    swap.DefaultTimeoutHours,
			FinishDelay:     swap.DefaultFinishDelay,
			MonitorInterval: swap.DefaultMonitorInterval,
		},
		Poller: PollerConfig{
			Interval:      pol.Interval,
			MaxErrors:     pol.MaxErrors,
			SecretTrigger: pol.SecretTrigger,
		},
	}
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.Network == Testnet
}

// ApplyNetworkDefaults fills empty chain endpoints from the network
// parameters.
func (c *Config) ApplyNetworkDefaults() {
	params := NetworkParams(c.Network)
	if c.EVM.ChainID == 0 {
		c.EVM.ChainID = params.Ethereum.ChainID
	}
	if c.EVM.RPCURL == "" {
		c.EVM.RPCURL = params.Ethereum.RPCEndpoint
	}
	if c.XRPL.URL == "" {
		c.XRPL.URL = params.XRPL.RPCEndpoint
	}
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("XRPFUSION_EVM_KEY"); v != "" {
		c.EVM.PrivateKey = v
	}
	if v := os.Getenv("XRPFUSION_MNEMONIC"); v != "" {
		c.EVM.Mnemonic = v
	}
	if v := os.Getenv("XRPFUSION_XRPL_SEED"); v != "" {
		c.XRPL.Seed = v
	}
	if v := os.Getenv("XRPFUSION_API_KEY"); v != "" {
		c.Fusion.APIKey = v
	}
	if v := os.Getenv("XRPFUSION_SEED_PASSWORD"); v != "" {
		c.EVM.SeedPassword = v
	}
	if v := os.Getenv("XRPFUSION_VAULT_PASSWORD"); v != "" {
		c.Storage.VaultPassword = v
	}
}

// OrderPolicy converts the fusion section into the order manager policy.
func (c *Config) OrderPolicy() (*fusion.Configuration, error) {
	policy := fusion.DefaultConfiguration()
	f := c.Fusion

	minETH, err := decimal.NewFromString(f.MinimumETH)
	if err != nil {
		return nil, fmt.Errorf("invalid fusion.minimum_eth %q: %w", f.MinimumETH, err)
	}
	minXRP, err := decimal.NewFromString(f.MinimumXRP)
	if err != nil {
		return nil, fmt.Errorf("invalid fusion.minimum_xrp %q: %w", f.MinimumXRP, err)
	}
	tolerance, err := decimal.NewFromString(f.RateTolerance)
	if err != nil {
		return nil, fmt.Errorf("invalid fusion.rate_tolerance %q: %w", f.RateTolerance, err)
	}
	if !tolerance.IsPositive() {
		return nil, fmt.Errorf("fusion.rate_tolerance must be positive, got %s", f.RateTolerance)
	}

	policy.MinimumAmount[swap.ETHToXRP] = minETH
	policy.MinimumAmount[swap.XRPToETH] = minXRP
	policy.RateTolerance = tolerance
	if f.DefaultTimelock > 0 {
		policy.DefaultTimelock = f.DefaultTimelock
	}
	if f.SafetyMargin > 0 {
		policy.SafetyMargin = f.SafetyMargin
	}
	if f.ResolverWait > 0 {
		policy.ResolverWait = f.ResolverWait
	}
	if f.MatchPollInterval > 0 {
		policy.MatchPollInterval = f.MatchPollInterval
	}
	if c.Swap.TimeoutHours > 0 {
		policy.SwapTimeoutHours = c.Swap.TimeoutHours
	}
	return policy, nil
}

// PollerSettings converts the poller section.
func (c *Config) PollerSettings() poller.Config {
	return poller.Config{
		Interval:      c.Poller.Interval,
		MaxErrors:     c.Poller.MaxErrors,
		SecretTrigger: c.Poller.SecretTrigger,
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# xrpfusion daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
