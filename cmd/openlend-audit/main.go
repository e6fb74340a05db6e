package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"openlend/audit"
	"openlend/config"
	"openlend/integrations/exports"
	"openlend/integrations/webhooks"
	"openlend/journal"
	"openlend/lending"
	"openlend/observability/logging"
	"openlend/oracle"
	"openlend/state"
	"openlend/storage"
)

type anomalyReport struct {
	Type    string `json:"type"`
	User    string `json:"user,omitempty"`
	Asset   string `json:"asset,omitempty"`
	Details string `json:"details"`
}

type fileReport struct {
	MarketsCSV     string `json:"marketsCsv"`
	MarketsParquet string `json:"marketsParquet"`
	UsersCSV       string `json:"usersCsv"`
	UsersParquet   string `json:"usersParquet"`
}

type journalExportReport struct {
	CSV           string `json:"csv"`
	CSVChecksum   string `json:"csvChecksum"`
	JSONL         string `json:"jsonl"`
	JSONLChecksum string `json:"jsonlChecksum"`
	Entries       int    `json:"entries"`
}

type auditReport struct {
	RunID          string               `json:"runId"`
	Timestamp      string               `json:"timestamp"`
	Checkpoint     string               `json:"checkpointDigest"`
	CheckpointTime string               `json:"checkpointTime"`
	Markets        int                  `json:"markets"`
	Users          int                  `json:"users"`
	Anomalies      []anomalyReport      `json:"anomalies"`
	Reports        *fileReport          `json:"reports,omitempty"`
	JournalExport  *journalExportReport `json:"journalExport,omitempty"`
}

func main() {
	configPath := flag.String("config", "./openlend.toml", "Path to node configuration file")
	outputDir := flag.String("out", "", "Report directory (defaults to <dataDir>/audit)")
	dryRun := flag.Bool("dry-run", false, "Detect anomalies without writing report files")
	journalLimit := flag.Int("journal-limit", 1000, "Maximum journal entries to export alongside the reports")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OPENLEND_ENV"))
	logger := logging.Setup("openlend-audit", env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open ledger database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	snap, err := state.Load(db)
	if err != nil {
		if errors.Is(err, state.ErrNoCheckpoint) {
			fmt.Fprintln(os.Stderr, "no checkpoint recorded; run the node before auditing")
		} else {
			fmt.Fprintf(os.Stderr, "failed to load checkpoint: %v\n", err)
		}
		os.Exit(1)
	}
	digest, err := state.LatestDigest(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read checkpoint digest: %v\n", err)
		os.Exit(1)
	}

	var valuer lending.ValueOracle = lending.IdentityOracle{}
	if cfg.OracleRatesFile != "" {
		rates, err := oracle.Load(cfg.OracleRatesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load oracle rates: %v\n", err)
			os.Exit(1)
		}
		valuer = rates
	}

	var ledgerJournal *journal.Journal
	if cfg.JournalDSN != "" {
		journalDB, err := journal.Open(cfg.JournalDSN)
		if err != nil {
			logger.Warn("Journal unavailable, skipping operation tallies", "error", err)
		} else if ledgerJournal, err = journal.New(journalDB, logger); err != nil {
			logger.Warn("Journal unavailable, skipping operation tallies", "error", err)
			ledgerJournal = nil
		}
	}

	outDir := strings.TrimSpace(*outputDir)
	if outDir == "" {
		outDir = filepath.Join(cfg.DataDir, "audit")
	}

	// Close drains queued deliveries, so it must run before any exit path
	// that follows a flagged anomaly.
	closeAlerts := func() {}
	var alert audit.AlertFunc
	webhookURL := strings.TrimSpace(os.Getenv("OPENLEND_ALERT_WEBHOOK"))
	if webhookURL != "" {
		secret := strings.TrimSpace(os.Getenv("OPENLEND_ALERT_SECRET"))
		if secret == "" {
			fmt.Fprintln(os.Stderr, "OPENLEND_ALERT_SECRET is required when OPENLEND_ALERT_WEBHOOK is set")
			os.Exit(1)
		}
		dispatcher, err := webhooks.NewDispatcher(webhookURL, []byte(secret))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to configure alert webhook: %v\n", err)
			os.Exit(1)
		}
		closeAlerts = dispatcher.Close
		alert = func(_ context.Context, anomaly audit.Anomaly) error {
			return dispatcher.EnqueueAnomaly(webhooks.AnomalyPayload{
				AnomalyType: anomaly.Type,
				User:        anomaly.User,
				Asset:       anomaly.Asset,
				Details:     anomaly.Details,
			})
		}
	}

	auditor, err := audit.New(audit.Config{
		Ledger:    snap.Ledger,
		Oracle:    valuer,
		Params:    cfg.RiskParameters(),
		Vault:     snap.Vault,
		Journal:   ledgerJournal,
		OutputDir: outDir,
		DryRun:    *dryRun,
		Alert:     alert,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure auditor: %v\n", err)
		os.Exit(1)
	}

	result, err := auditor.Run(context.Background())
	if err != nil {
		closeAlerts()
		fmt.Fprintf(os.Stderr, "audit run failed: %v\n", err)
		os.Exit(1)
	}

	report := auditReport{
		RunID:          result.RunID.String(),
		Timestamp:      result.Timestamp.UTC().Format(time.RFC3339),
		Checkpoint:     "0x" + hex.EncodeToString(digest),
		CheckpointTime: time.Unix(snap.Timestamp, 0).UTC().Format(time.RFC3339),
		Markets:        len(result.Markets),
		Users:          len(result.Users),
		Anomalies:      make([]anomalyReport, 0, len(result.Anomalies)),
	}
	for _, anomaly := range result.Anomalies {
		report.Anomalies = append(report.Anomalies, anomalyReport{
			Type:    anomaly.Type,
			User:    anomaly.User,
			Asset:   anomaly.Asset,
			Details: anomaly.Details,
		})
	}
	if !*dryRun {
		report.Reports = &fileReport{
			MarketsCSV:     result.Files.MarketsCSV,
			MarketsParquet: result.Files.MarketsParquet,
			UsersCSV:       result.Files.UsersCSV,
			UsersParquet:   result.Files.UsersParquet,
		}
		if ledgerJournal != nil {
			runDir := filepath.Dir(result.Files.MarketsCSV)
			export, err := exportJournal(ledgerJournal, runDir, *journalLimit)
			if err != nil {
				closeAlerts()
				fmt.Fprintf(os.Stderr, "failed to export journal: %v\n", err)
				os.Exit(1)
			}
			report.JournalExport = export
		}
	}

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		closeAlerts()
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))

	closeAlerts()
	if len(result.Anomalies) > 0 {
		os.Exit(1)
	}
}

func exportJournal(ledgerJournal *journal.Journal, runDir string, limit int) (*journalExportReport, error) {
	entries, err := ledgerJournal.Recent(limit)
	if err != nil {
		return nil, err
	}
	csvData, csvChecksum, err := exports.JournalCSV(entries)
	if err != nil {
		return nil, err
	}
	jsonlData, jsonlChecksum, err := exports.JournalJSONL(entries)
	if err != nil {
		return nil, err
	}
	csvPath := filepath.Join(runDir, "journal.csv")
	if err := os.WriteFile(csvPath, csvData, 0o644); err != nil {
		return nil, err
	}
	jsonlPath := filepath.Join(runDir, "journal.jsonl")
	if err := os.WriteFile(jsonlPath, jsonlData, 0o644); err != nil {
		return nil, err
	}
	return &journalExportReport{
		CSV:           csvPath,
		CSVChecksum:   csvChecksum,
		JSONL:         jsonlPath,
		JSONLChecksum: jsonlChecksum,
		Entries:       len(entries),
	}, nil
}
