// Package config loads the node configuration from TOML, writing a default
// file on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"openlend/lending"
)

// MarketConfig describes one market onboarded at genesis.
type MarketConfig struct {
	Asset               string `toml:"Asset"`
	CollateralFactorBps uint64 `toml:"CollateralFactorBps"`
	BorrowRateBps       uint64 `toml:"BorrowRateBps"`
	SupplyRateBps       uint64 `toml:"SupplyRateBps"`
}

// RiskConfig overrides the protocol-wide liquidation limits.
type RiskConfig struct {
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	MinHealthFactorBps      uint64 `toml:"MinHealthFactorBps"`
}

// TelemetryConfig points the OTLP exporters at a collector.
type TelemetryConfig struct {
	Enabled     bool   `toml:"Enabled"`
	Endpoint    string `toml:"Endpoint"`
	Environment string `toml:"Environment"`
	Insecure    bool   `toml:"Insecure"`
	Metrics     bool   `toml:"Metrics"`
	Traces      bool   `toml:"Traces"`
}

// LoggingConfig sizes the optional rotating file sink.
type LoggingConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Config is the full node configuration document.
type Config struct {
	RPCAddress                string          `toml:"RPCAddress"`
	DataDir                   string          `toml:"DataDir"`
	NetworkName               string          `toml:"NetworkName"`
	DevMode                   bool            `toml:"DevMode"`
	RPCToken                  string          `toml:"RPCToken"`
	RPCTokenEnv               string          `toml:"RPCTokenEnv"`
	TrustedProxies            []string        `toml:"TrustedProxies"`
	JournalDSN                string          `toml:"JournalDSN"`
	OracleRatesFile           string          `toml:"OracleRatesFile"`
	AccrualIntervalSeconds    int64           `toml:"AccrualIntervalSeconds"`
	CheckpointIntervalSeconds int64           `toml:"CheckpointIntervalSeconds"`
	Risk                      RiskConfig      `toml:"Risk"`
	Markets                   []MarketConfig  `toml:"Markets"`
	Telemetry                 TelemetryConfig `toml:"Telemetry"`
	Logging                   LoggingConfig   `toml:"Logging"`
}

// Load reads the configuration at path. A missing file is created with
// defaults and returned.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, strings.Join(undecoded, "."))
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./openlend-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "openlend-local"
	}
	if strings.TrimSpace(cfg.RPCTokenEnv) == "" {
		cfg.RPCTokenEnv = "OPENLEND_RPC_TOKEN"
	}
	if cfg.TrustedProxies == nil {
		cfg.TrustedProxies = []string{}
	}
	if strings.TrimSpace(cfg.JournalDSN) == "" {
		cfg.JournalDSN = filepath.Join(cfg.DataDir, "journal.db")
	}
	if cfg.AccrualIntervalSeconds <= 0 {
		cfg.AccrualIntervalSeconds = 3600
	}
	if cfg.CheckpointIntervalSeconds <= 0 {
		cfg.CheckpointIntervalSeconds = 300
	}
	if cfg.Risk.LiquidationThresholdBps == 0 {
		cfg.Risk.LiquidationThresholdBps = lending.DefaultLiquidationThresholdBps
	}
	if cfg.Risk.LiquidationBonusBps == 0 {
		cfg.Risk.LiquidationBonusBps = lending.DefaultLiquidationBonusBps
	}
	if cfg.Risk.MinHealthFactorBps == 0 {
		cfg.Risk.MinHealthFactorBps = lending.DefaultMinHealthFactorBps
	}
	if !cfg.Telemetry.Enabled {
		return
	}
	if strings.TrimSpace(cfg.Telemetry.Environment) == "" {
		cfg.Telemetry.Environment = cfg.NetworkName
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Markets = []MarketConfig{
		{Asset: "OLT", CollateralFactorBps: 7_500, BorrowRateBps: 500, SupplyRateBps: 200},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if err := c.RiskParameters().Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for _, market := range c.Markets {
		asset := lending.NormalizeAsset(market.Asset)
		if asset == "" {
			return fmt.Errorf("market entry missing Asset")
		}
		if _, ok := seen[asset]; ok {
			return fmt.Errorf("market %s listed twice", asset)
		}
		seen[asset] = struct{}{}
		if err := market.Params().Validate(); err != nil {
			return fmt.Errorf("market %s: %w", asset, err)
		}
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("Telemetry.Endpoint required when telemetry is enabled")
	}
	return nil
}

// RiskParameters converts the configured limits into engine parameters.
func (c *Config) RiskParameters() lending.RiskParameters {
	return lending.RiskParameters{
		LiquidationThresholdBps: c.Risk.LiquidationThresholdBps,
		LiquidationBonusBps:     c.Risk.LiquidationBonusBps,
		MinHealthFactorBps:      c.Risk.MinHealthFactorBps,
	}
}

// Params converts a market entry into engine onboarding parameters.
func (m MarketConfig) Params() lending.MarketParams {
	return lending.MarketParams{
		CollateralFactorBps: m.CollateralFactorBps,
		BorrowRateBps:       m.BorrowRateBps,
		SupplyRateBps:       m.SupplyRateBps,
	}
}

// RPCAuthToken resolves the admin token, preferring the inline value over
// the environment indirection.
func (c *Config) RPCAuthToken() string {
	if token := strings.TrimSpace(c.RPCToken); token != "" {
		return token
	}
	if env := strings.TrimSpace(c.RPCTokenEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// AccrualInterval returns the pooled interest settlement cadence.
func (c *Config) AccrualInterval() time.Duration {
	return time.Duration(c.AccrualIntervalSeconds) * time.Second
}

// CheckpointInterval returns the snapshot persistence cadence.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSeconds) * time.Second
}
