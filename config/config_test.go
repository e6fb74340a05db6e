package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openlend.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node", "openlend.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if cfg.RPCAddress != ":8545" || cfg.NetworkName != "openlend-local" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Asset != "OLT" {
		t.Fatalf("unexpected default markets %+v", cfg.Markets)
	}
	if cfg.Risk.LiquidationThresholdBps != 8_000 {
		t.Fatalf("unexpected default risk %+v", cfg.Risk)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPCAddress != cfg.RPCAddress || len(reloaded.Markets) != 1 {
		t.Fatalf("reload mismatch %+v", reloaded)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		`RPCAddress = ":9000"`,
		`DataDir = "/var/lib/openlend"`,
		`DevMode = true`,
		`AccrualIntervalSeconds = 60`,
		``,
		`[Risk]`,
		`LiquidationThresholdBps = 7000`,
		``,
		`[[Markets]]`,
		`Asset = "olt"`,
		`CollateralFactorBps = 7500`,
		`BorrowRateBps = 500`,
		`SupplyRateBps = 200`,
		``,
		`[[Markets]]`,
		`Asset = "OUSD"`,
		`CollateralFactorBps = 7000`,
		`BorrowRateBps = 900`,
		`SupplyRateBps = 300`,
	}, "\n"))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":9000" || !cfg.DevMode {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.JournalDSN != filepath.Join("/var/lib/openlend", "journal.db") {
		t.Fatalf("journal dsn = %q", cfg.JournalDSN)
	}
	if cfg.AccrualInterval() != time.Minute {
		t.Fatalf("accrual interval = %v", cfg.AccrualInterval())
	}
	if cfg.CheckpointInterval() != 5*time.Minute {
		t.Fatalf("checkpoint interval = %v", cfg.CheckpointInterval())
	}
	risk := cfg.RiskParameters()
	if risk.LiquidationThresholdBps != 7_000 || risk.LiquidationBonusBps != 500 {
		t.Fatalf("unexpected risk %+v", risk)
	}
	if len(cfg.Markets) != 2 {
		t.Fatalf("markets = %+v", cfg.Markets)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "Paymaster = \"nobody\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown field Paymaster") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadRejectsDuplicateMarkets(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		`[[Markets]]`,
		`Asset = "OLT"`,
		``,
		`[[Markets]]`,
		`Asset = " olt "`,
	}, "\n"))
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "listed twice") {
		t.Fatalf("expected duplicate market error, got %v", err)
	}
}

func TestLoadRejectsBadRisk(t *testing.T) {
	path := writeConfig(t, "[Risk]\nLiquidationThresholdBps = 20000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected risk validation error")
	}
}

func TestLoadRejectsTelemetryWithoutEndpoint(t *testing.T) {
	path := writeConfig(t, "[Telemetry]\nEnabled = true\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Telemetry.Endpoint") {
		t.Fatalf("expected telemetry error, got %v", err)
	}
}

func TestRPCAuthTokenResolution(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	t.Setenv("OPENLEND_RPC_TOKEN", "from-env")
	if got := cfg.RPCAuthToken(); got != "from-env" {
		t.Fatalf("token = %q", got)
	}
	cfg.RPCToken = " inline "
	if got := cfg.RPCAuthToken(); got != "inline" {
		t.Fatalf("token = %q", got)
	}
}
