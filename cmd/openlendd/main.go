package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"openlend/bank"
	"openlend/config"
	"openlend/journal"
	"openlend/lending"
	"openlend/observability"
	"openlend/observability/logging"
	telemetry "openlend/observability/otel"
	"openlend/oracle"
	"openlend/rpc"
	"openlend/state"
	"openlend/storage"
)

func main() {
	configFile := flag.String("config", "./openlend.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OPENLEND_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Setup("openlendd", env).Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.Setup("openlendd", env)
	if file := strings.TrimSpace(cfg.Logging.File); file != "" {
		rotating, closer := logging.SetupRotating("openlendd", env, logging.RotationConfig{
			Path:       file,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		defer closer.Close()
		logger = rotating
	}

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "openlendd",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("Failed to init telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to prepare data directory", slog.Any("error", err))
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	var priceOracle lending.ValueOracle
	if path := strings.TrimSpace(cfg.OracleRatesFile); path != "" {
		rates, err := oracle.Load(path)
		if err != nil {
			logger.Error("Failed to load oracle rates", slog.Any("error", err))
			os.Exit(1)
		}
		priceOracle = rates
	} else {
		logger.Warn("No oracle rates file configured, valuing every asset 1:1")
		priceOracle = lending.IdentityOracle{}
	}

	ledger := lending.NewState()
	vault := bank.NewVault()
	snap, err := state.Load(db)
	switch {
	case err == nil:
		ledger = snap.Ledger
		vault = snap.Vault
		logger.Info("Restored ledger checkpoint", slog.Int64("timestamp", snap.Timestamp))
	case errors.Is(err, state.ErrNoCheckpoint):
		logger.Info("No checkpoint found, starting from genesis")
	default:
		logger.Error("Failed to load checkpoint", slog.Any("error", err))
		os.Exit(1)
	}

	engine := lending.NewEngine(cfg.RiskParameters())
	engine.SetState(ledger)
	engine.SetOracle(priceOracle)
	engine.SetTransfer(vault)

	journalDB, err := journal.Open(cfg.JournalDSN)
	if err != nil {
		logger.Error("Failed to open journal", slog.Any("error", err))
		os.Exit(1)
	}
	ledgerJournal, err := journal.New(journalDB, logger)
	if err != nil {
		logger.Error("Failed to migrate journal", slog.Any("error", err))
		os.Exit(1)
	}

	authToken := cfg.RPCAuthToken()
	if authToken != "" {
		logger.Info("RPC admin authentication enabled", logging.MaskField("token", authToken))
	} else {
		logger.Warn("RPC auth token not configured, admin methods fail closed")
	}

	collector := observability.NewCollector()
	srv := rpc.NewServer(engine, vault, db, rpc.ServerConfig{
		AuthToken:      authToken,
		DevMode:        cfg.DevMode,
		TrustedProxies: cfg.TrustedProxies,
	})
	engine.SetEmitter(lending.MultiEmitter{ledgerJournal, collector, srv.Hub()})

	if err := ensureMarkets(engine, cfg.Markets); err != nil {
		logger.Error("Failed to onboard configured markets", slog.Any("error", err))
		os.Exit(1)
	}
	syncMarketGauges(engine, collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runAccrual(ctx, engine, collector, cfg.AccrualInterval(), logger)
	go runCheckpoints(ctx, db, engine, vault, cfg.CheckpointInterval(), logger)

	httpSrv := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("RPC server listening", slog.String("address", cfg.RPCAddress))
		serverErr <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("RPC shutdown failed", slog.Any("error", err))
	}
	if digest, err := saveCheckpoint(db, engine, vault); err != nil {
		logger.Error("Final checkpoint failed", slog.Any("error", err))
	} else {
		logger.Info("Final checkpoint written", slog.String("digest", shortDigest(digest)))
	}
	logger.Info("Node stopped")
}

// ensureMarkets onboards configured markets that the ledger does not know
// yet. Restored checkpoints keep their existing markets untouched.
func ensureMarkets(engine *lending.Engine, markets []config.MarketConfig) error {
	for _, market := range markets {
		if _, err := engine.GetMarket(market.Asset); err == nil {
			continue
		} else if !errors.Is(err, lending.ErrMarketNotFound) {
			return err
		}
		if _, err := engine.CreateMarket(market.Asset, market.Params()); err != nil {
			return err
		}
	}
	return nil
}

func syncMarketGauges(engine *lending.Engine, collector *observability.Collector, logger *slog.Logger) {
	markets, err := engine.Markets()
	if err != nil {
		logger.Warn("Failed to read markets for gauge sync", slog.Any("error", err))
		return
	}
	collector.SyncMarkets(markets)
}

func runAccrual(ctx context.Context, engine *lending.Engine, collector *observability.Collector, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			assets, err := engine.Assets()
			if err != nil {
				logger.Warn("Accrual sweep failed to list assets", slog.Any("error", err))
				continue
			}
			for _, asset := range assets {
				if _, err := engine.Accrue(asset); err != nil {
					logger.Warn("Accrual failed", slog.String("asset", asset), slog.Any("error", err))
				}
			}
			syncMarketGauges(engine, collector, logger)
		}
	}
}

func runCheckpoints(ctx context.Context, db storage.Database, engine *lending.Engine, vault *bank.Vault, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			digest, err := saveCheckpoint(db, engine, vault)
			if err != nil {
				logger.Error("Checkpoint failed", slog.Any("error", err))
				continue
			}
			logger.Info("Checkpoint written", slog.String("digest", shortDigest(digest)))
		}
	}
}

func saveCheckpoint(db storage.Database, engine *lending.Engine, vault *bank.Vault) ([]byte, error) {
	return state.Save(db, state.Snapshot{
		Ledger:    engine.State(),
		Vault:     vault,
		Timestamp: time.Now().Unix(),
	})
}

func shortDigest(digest []byte) string {
	encoded := hex.EncodeToString(digest)
	if len(encoded) > 12 {
		return encoded[:12]
	}
	return encoded
}
