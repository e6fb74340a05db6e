package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"openlend/bank"
	"openlend/journal"
	"openlend/lending"
)

// Anomaly types emitted by the auditor.
const (
	AnomalyAggregateDrift = "aggregate_drift"
	AnomalyPoolOverdrawn  = "pool_overdrawn"
	AnomalyVaultShortfall = "vault_shortfall"
)

// AlertFunc is invoked for every anomaly detected during a run.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// Config captures the dependencies required to construct an Auditor.
type Config struct {
	Ledger    *lending.State
	Oracle    lending.ValueOracle
	Params    lending.RiskParameters
	Vault     *bank.Vault      // optional, enables custody checks
	Journal   *journal.Journal // optional, adds operation tallies
	OutputDir string
	DryRun    bool
	Now       func() time.Time
	Alert     AlertFunc
	Logger    *slog.Logger
}

// Auditor cross-checks the cached per-user aggregates against a full rescan
// and verifies pool level invariants, then materialises the findings as CSV
// and Parquet reports.
type Auditor struct {
	ledger    *lending.State
	oracle    lending.ValueOracle
	params    lending.RiskParameters
	vault     *bank.Vault
	journal   *journal.Journal
	outputDir string
	dryRun    bool
	now       func() time.Time
	alert     AlertFunc
	logger    *slog.Logger
}

// Anomaly captures a ledger inconsistency requiring operator review.
type Anomaly struct {
	Type    string
	User    string
	Asset   string
	Details string
}

// MarketRow summarises one market's pooled accounting.
type MarketRow struct {
	Asset           string
	TotalDeposited  string
	TotalBorrowed   string
	Utilization     string
	PoolBalance     string
	InterestResidue string
	Active          bool
	Operations      int64
}

// UserRow compares a user's cached aggregates against the recomputed truth.
type UserRow struct {
	User             string
	CachedCollateral string
	CachedBorrowed   string
	ActualCollateral string
	ActualBorrowed   string
	HealthFactor     string
	Drift            bool
}

// ReportFiles references the artefacts written for a run.
type ReportFiles struct {
	MarketsCSV     string
	MarketsParquet string
	UsersCSV       string
	UsersParquet   string
}

// Result summarises an audit run.
type Result struct {
	RunID     uuid.UUID
	Timestamp time.Time
	Markets   []MarketRow
	Users     []UserRow
	Anomalies []Anomaly
	Files     ReportFiles
}

// New builds a configured auditor.
func New(cfg Config) (*Auditor, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("audit: ledger is required")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("audit: oracle is required")
	}
	params := cfg.Params
	if params.Validate() != nil {
		params = lending.DefaultRiskParameters()
	}
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join("openlend-data", "audit")
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(context.Context, Anomaly) error { return nil }
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		ledger:    cfg.Ledger,
		oracle:    cfg.Oracle,
		params:    params,
		vault:     cfg.Vault,
		journal:   cfg.Journal,
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		now:       nowFn,
		alert:     alert,
		logger:    logger,
	}, nil
}

// Run executes a full reconciliation pass over the ledger.
func (a *Auditor) Run(ctx context.Context) (*Result, error) {
	result := &Result{RunID: uuid.New(), Timestamp: a.now()}

	operations := map[string]int64{}
	if a.journal != nil {
		counts, err := a.journal.CountByAsset()
		if err != nil {
			return nil, fmt.Errorf("audit: operation tallies: %w", err)
		}
		operations = counts
	}

	for _, market := range a.ledger.Markets() {
		row := MarketRow{
			Asset:          market.Asset,
			TotalDeposited: market.TotalDeposited.String(),
			TotalBorrowed:  market.TotalBorrowed.String(),
			Utilization:    utilization(market.TotalBorrowed, market.TotalDeposited),
			Active:         market.Active,
			Operations:     operations[market.Asset],
		}
		if market.TotalBorrowed.Cmp(market.TotalDeposited) > 0 {
			anomaly := Anomaly{
				Type:    AnomalyPoolOverdrawn,
				Asset:   market.Asset,
				Details: fmt.Sprintf("totalBorrowed=%s exceeds totalDeposited=%s", market.TotalBorrowed, market.TotalDeposited),
			}
			result.Anomalies = append(result.Anomalies, anomaly)
			a.raise(ctx, anomaly)
		}
		if a.vault != nil {
			custody := a.vault.PoolBalance(market.Asset)
			required := new(big.Int).Sub(market.TotalDeposited, market.TotalBorrowed)
			row.PoolBalance = custody.String()
			row.InterestResidue = new(big.Int).Sub(custody, required).String()
			if custody.Cmp(required) < 0 {
				anomaly := Anomaly{
					Type:    AnomalyVaultShortfall,
					Asset:   market.Asset,
					Details: fmt.Sprintf("custody=%s below required liquidity=%s", custody, required),
				}
				result.Anomalies = append(result.Anomalies, anomaly)
				a.raise(ctx, anomaly)
			}
		}
		result.Markets = append(result.Markets, row)
	}

	for _, user := range a.ledger.Users() {
		cachedCollateral := a.ledger.CollateralValue(user)
		cachedBorrowed := a.ledger.BorrowValue(user)
		actualCollateral, actualBorrowed, err := a.ledger.Recompute(user, a.oracle)
		if err != nil {
			return nil, fmt.Errorf("audit: recompute %s: %w", user, err)
		}
		row := UserRow{
			User:             user.String(),
			CachedCollateral: cachedCollateral.String(),
			CachedBorrowed:   cachedBorrowed.String(),
			ActualCollateral: actualCollateral.String(),
			ActualBorrowed:   actualBorrowed.String(),
			HealthFactor:     a.healthFactor(cachedCollateral, cachedBorrowed),
			Drift:            cachedCollateral.Cmp(actualCollateral) != 0 || cachedBorrowed.Cmp(actualBorrowed) != 0,
		}
		if row.Drift {
			anomaly := Anomaly{
				Type: AnomalyAggregateDrift,
				User: row.User,
				Details: fmt.Sprintf("cached collateral=%s borrowed=%s, actual collateral=%s borrowed=%s",
					cachedCollateral, cachedBorrowed, actualCollateral, actualBorrowed),
			}
			result.Anomalies = append(result.Anomalies, anomaly)
			a.raise(ctx, anomaly)
		}
		result.Users = append(result.Users, row)
	}

	if a.dryRun {
		return result, nil
	}
	files, err := a.writeReports(result)
	if err != nil {
		return nil, err
	}
	result.Files = files
	a.logger.Info("audit: run complete",
		"run_id", result.RunID.String(),
		"markets", len(result.Markets),
		"users", len(result.Users),
		"anomalies", len(result.Anomalies))
	return result, nil
}

func (a *Auditor) raise(ctx context.Context, anomaly Anomaly) {
	a.logger.Warn("audit: anomaly detected",
		"type", anomaly.Type,
		"user", anomaly.User,
		"asset", anomaly.Asset,
		"details", anomaly.Details)
	if err := a.alert(ctx, anomaly); err != nil {
		a.logger.Error("audit: alert hook failed", "type", anomaly.Type, "error", err)
	}
}

// healthFactor renders the cached position health as a decimal, empty when
// the user carries no debt.
func (a *Auditor) healthFactor(collateral, borrowed *big.Int) string {
	if borrowed == nil || borrowed.Sign() == 0 {
		return ""
	}
	num := new(big.Int).Mul(collateral, new(big.Int).SetUint64(a.params.LiquidationThresholdBps))
	num.Quo(num, borrowed)
	return decimal.NewFromBigInt(num, -4).String()
}

func utilization(borrowed, deposited *big.Int) string {
	if deposited == nil || deposited.Sign() == 0 {
		return "0"
	}
	ratio := decimal.NewFromBigInt(borrowed, 0).DivRound(decimal.NewFromBigInt(deposited, 0), 4)
	return ratio.String()
}

func (a *Auditor) writeReports(result *Result) (ReportFiles, error) {
	runDir := filepath.Join(a.outputDir, result.Timestamp.UTC().Format("2006-01-02"), result.RunID.String())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return ReportFiles{}, fmt.Errorf("audit: create report dir: %w", err)
	}
	files := ReportFiles{
		MarketsCSV:     filepath.Join(runDir, "markets.csv"),
		MarketsParquet: filepath.Join(runDir, "markets.parquet"),
		UsersCSV:       filepath.Join(runDir, "users.csv"),
		UsersParquet:   filepath.Join(runDir, "users.parquet"),
	}
	if err := writeMarketsCSV(files.MarketsCSV, result.Markets); err != nil {
		return ReportFiles{}, err
	}
	if err := writeMarketsParquet(files.MarketsParquet, result.Markets); err != nil {
		return ReportFiles{}, err
	}
	if err := writeUsersCSV(files.UsersCSV, result.Users); err != nil {
		return ReportFiles{}, err
	}
	if err := writeUsersParquet(files.UsersParquet, result.Users); err != nil {
		return ReportFiles{}, err
	}
	return files, nil
}
