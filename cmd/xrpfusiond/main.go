// Package main provides the xrpfusiond daemon: cross-chain ETH <-> XRP orders
// backed by hash/time locked escrows on both chains.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/xrpfusion/internal/config"
	"github.com/klingon-exchange/xrpfusion/internal/contracts/htlc"
	"github.com/klingon-exchange/xrpfusion/internal/escrow"
	"github.com/klingon-exchange/xrpfusion/internal/fusion"
	"github.com/klingon-exchange/xrpfusion/internal/poller"
	"github.com/klingon-exchange/xrpfusion/internal/rpc"
	"github.com/klingon-exchange/xrpfusion/internal/storage"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
	"github.com/klingon-exchange/xrpfusion/internal/wallet"
	"github.com/klingon-exchange/xrpfusion/pkg/logging"
)

var (
	version = rpc.Version
	commit  = "unknown"
)

const simulatedXRPAccount = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.xrpfusion", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		testnet     = flag.Bool("testnet", false, "Run on testnet (Sepolia + XRPL altnet)")
		simulate    = flag.Bool("simulate", false, "Use in-memory escrows and a simulated relayer")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("xrpfusiond %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Determine data directory (testnet uses subdirectory)
	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = config.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *testnet {
		cfg.Network = config.Testnet
	}
	cfg.Storage.DataDir = effectiveDataDir
	cfg.ApplyEnv()
	cfg.ApplyNetworkDefaults()

	// Re-create the logger with the configured level and sink
	logCfg := &logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly}
	if cfg.Logging.File != "" {
		f, err := logging.OpenFile(config.ExpandPath(cfg.Logging.File))
		if err != nil {
			log.Fatal("Failed to open log file", "error", err)
		}
		defer f.Close()
		logCfg.Output = f
	}
	log = logging.New(logCfg)
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(effectiveDataDir), "network", cfg.Network)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Secret vault and storage
	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	storeCfg := &storage.Config{DataDir: dataPath}
	if cfg.Storage.VaultPassword != "" {
		vault, err := wallet.OpenVault(dataPath, cfg.Storage.VaultPassword, wallet.DefaultKDFParams)
		if err != nil {
			log.Fatal("Failed to open secret vault", "error", err)
		}
		defer vault.Close()
		storeCfg.Sealer = vault
		log.Info("Secret vault unlocked")
	} else {
		log.Warn("No vault password set, swap secrets are kept in memory only")
	}
	store, err := storage.New(storeCfg)
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", store.Path())

	// Signing key
	key, err := loadKey(cfg, *simulate)
	if err != nil {
		log.Fatal("Failed to load EVM key", "error", err)
	}
	log.Info("EVM key loaded", "address", wallet.Address(key).Hex())

	// Escrow adapters
	adapters, closeAdapters, err := buildAdapters(ctx, cfg, key, *simulate)
	if err != nil {
		log.Fatal("Failed to initialize escrow adapters", "error", err)
	}
	defer closeAdapters()

	// Swap coordinator
	finishDelay := cfg.Swap.FinishDelay
	coordinator := swap.NewCoordinator(&swap.CoordinatorConfig{
		Adapters:     adapters,
		Store:        store,
		TimeoutHours: cfg.Swap.TimeoutHours,
		FinishDelay:  &finishDelay,
	})
	if n, err := coordinator.LoadActive(); err != nil {
		log.Warn("Failed to load active swaps", "error", err)
	} else {
		log.Info("Active swaps loaded", "count", n)
	}
	monitorInterval := cfg.Swap.MonitorInterval
	if monitorInterval <= 0 {
		monitorInterval = swap.DefaultMonitorInterval
	}
	coordinator.StartTimeoutMonitor(ctx, monitorInterval)

	// Relayer endpoint
	var endpoint fusion.Endpoint
	if *simulate {
		endpoint = fusion.NewSimulatedEndpoint(nil, true, 2)
		log.Warn("Using simulated relayer")
	} else {
		endpoint = fusion.NewClient(fusion.ClientConfig{
			BaseURL:    cfg.Fusion.BaseURL,
			APIKey:     cfg.Fusion.APIKey,
			Timeout:    cfg.Fusion.Timeout,
			MaxRetries: cfg.Fusion.MaxRetries,
		})
	}

	// Order manager
	policy, err := cfg.OrderPolicy()
	if err != nil {
		log.Fatal("Invalid order policy", "error", err)
	}
	manager := fusion.NewManager(&fusion.ManagerConfig{
		Configuration: policy,
		Endpoint:      endpoint,
		Oracle:        fusion.NewStaticOracle(),
		Signer:        fusion.NewEIP712Signer(key, int64(cfg.EVM.ChainID)),
		Swaps:         coordinator,
		Store:         store,
		Takers: map[escrow.Chain]string{
			escrow.ChainEthereum: cfg.Fusion.ResolverETH,
			escrow.ChainXRP:      cfg.Fusion.ResolverXRP,
		},
	})
	if n, err := manager.LoadOrders(); err != nil {
		log.Warn("Failed to load orders", "error", err)
	} else {
		log.Info("Orders loaded", "count", n)
	}

	// Order poller; resume orders whose execution was interrupted
	orderPoller := poller.New(endpoint, manager, cfg.PollerSettings())
	resumed := 0
	for _, o := range manager.ListOrders() {
		if o.Stage == fusion.StageLocked || o.Stage == fusion.StageExecuting {
			orderPoller.Start(ctx, o.ID, o.ID)
			resumed++
		}
	}
	if resumed > 0 {
		log.Info("Resumed order polling", "orders", resumed)
	}

	// RPC server
	rpcServer := rpc.NewServer(&rpc.Config{
		Manager: manager,
		Swaps:   coordinator,
		Poller:  orderPoller,
		Network: string(cfg.Network),
		DataDir: dataPath,
	})
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, wallet.Address(key).Hex(), *simulate)

	// Status ticker
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				active := 0
				for _, o := range manager.ListOrders() {
					if !o.Stage.IsTerminal() {
						active++
					}
				}
				log.Info("Status", "active_orders", active, "ws_clients", rpcServer.WSHub().ClientCount())
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	cancel()
	orderPoller.StopAll()
	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

// loadKey resolves the EVM signing key. Simulation without a configured key
// uses a throwaway one.
func loadKey(cfg *config.Config, simulate bool) (*ecdsa.PrivateKey, error) {
	src := wallet.KeySource{
		PrivateKey: cfg.EVM.PrivateKey,
		Mnemonic:   cfg.EVM.Mnemonic,
		SeedFile:   config.ExpandPath(cfg.EVM.SeedFile),
		Password:   cfg.EVM.SeedPassword,
		Index:      cfg.EVM.KeyIndex,
	}
	if simulate && src.PrivateKey == "" && src.Mnemonic == "" && src.SeedFile == "" {
		return crypto.GenerateKey()
	}
	return wallet.LoadEVMKey(src)
}

// buildAdapters wires the escrow adapters for both chains.
func buildAdapters(ctx context.Context, cfg *config.Config, key *ecdsa.PrivateKey, simulate bool) ([]escrow.Adapter, func(), error) {
	if simulate {
		account := cfg.XRPL.Account
		if account == "" {
			account = simulatedXRPAccount
		}
		return []escrow.Adapter{
			escrow.NewMockAdapter(escrow.ChainEthereum, wallet.Address(key).Hex()),
			escrow.NewMockAdapter(escrow.ChainXRP, account),
		}, func() {}, nil
	}

	htlcAddr := cfg.HTLCAddress()
	if htlcAddr == (common.Address{}) {
		return nil, nil, fmt.Errorf("no HTLC contract deployed on chain %d; set evm.htlc_contract", cfg.EVM.ChainID)
	}
	if cfg.XRPL.Account == "" {
		return nil, nil, fmt.Errorf("xrpl.account is required")
	}

	client, err := htlc.Dial(ctx, cfg.EVM.RPCURL, htlcAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", cfg.EVM.RPCURL, err)
	}
	if got := client.ChainID().Uint64(); got != cfg.EVM.ChainID {
		client.Close()
		return nil, nil, fmt.Errorf("RPC endpoint is on chain %d, expected %d", got, cfg.EVM.ChainID)
	}

	xrpl := escrow.NewXRPLAdapter(escrow.XRPLConfig{
		URL:               cfg.XRPL.URL,
		Account:           cfg.XRPL.Account,
		Seed:              cfg.XRPL.Seed,
		ValidationTimeout: cfg.XRPL.ValidationTimeout,
		PollInterval:      cfg.XRPL.PollInterval,
	})

	return []escrow.Adapter{escrow.NewEVMAdapter(client, key), xrpl}, client.Close, nil
}

func printBanner(log *logging.Logger, cfg *config.Config, evmAddress string, simulate bool) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}
	mode := "live"
	if simulate {
		mode = "SIMULATED"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  xrpfusion daemon (%s, %s)", networkLabel, mode)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  EVM chain: %d | address: %s", cfg.EVM.ChainID, evmAddress)
	log.Infof("  XRPL: %s | account: %s", cfg.XRPL.URL, cfg.XRPL.Account)
	log.Infof("  Relayer: %s", cfg.Fusion.BaseURL)
	log.Info("")
	log.Infof("  API: http://%s", cfg.RPC.Listen)
	log.Infof("  WS:  ws://%s/ws", cfg.RPC.Listen)
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
