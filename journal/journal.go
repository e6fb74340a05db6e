package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"openlend/lending"
)

const defaultQueryLimit = 100

// Entry is one recorded ledger operation. The full attribute payload is kept
// as JSON while the fields reporting queries filter on are broken out into
// indexed columns.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Asset      string    `gorm:"size:32;index"`
	Account    string    `gorm:"size:96;index"`
	Attributes string
	CreatedAt  time.Time
}

// AttributeMap decodes the stored attribute payload.
func (e *Entry) AttributeMap() (map[string]string, error) {
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("journal: decode attributes: %w", err)
	}
	return attrs, nil
}

// Open connects to the journal database. DSNs that look like PostgreSQL
// connection strings use the postgres driver, everything else falls through
// to the embedded sqlite driver.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("journal: dsn must not be empty")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") || strings.Contains(trimmed, "host=") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	return db, nil
}

// Journal persists every engine event as an append-only operation history.
// It sits on the engine's emitter fan-out, so recording happens synchronously
// with the operation; a failed insert is logged and dropped rather than
// failing the ledger mutation that already committed.
type Journal struct {
	db  *gorm.DB
	log *slog.Logger

	mu  sync.Mutex
	seq uint64
}

var _ lending.Emitter = (*Journal)(nil)

// New migrates the schema and resumes the sequence counter from the highest
// recorded entry.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: db is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last uint64
	if err := db.Model(&Entry{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: resume sequence: %w", err)
	}
	return &Journal{db: db, log: log, seq: last}, nil
}

// Emit records the event. Satisfies the engine emitter contract.
func (j *Journal) Emit(event lending.Event) {
	if j == nil || event == nil {
		return
	}
	attrs := event.Attributes()
	payload, err := json.Marshal(attrs)
	if err != nil {
		j.log.Error("journal: encode attributes", "type", event.EventType(), "error", err)
		payload = []byte("{}")
	}
	entry := &Entry{
		ID:         uuid.New(),
		Type:       event.EventType(),
		Asset:      eventAsset(attrs),
		Account:    eventAccount(attrs),
		Attributes: string(payload),
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	entry.Sequence = j.seq
	if err := j.db.Create(entry).Error; err != nil {
		j.log.Error("journal: record operation", "type", entry.Type, "sequence", entry.Sequence, "error", err)
	}
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	return j.query(j.db, limit)
}

// ByAccount returns entries touching the bech32 address, newest first.
func (j *Journal) ByAccount(account string, limit int) ([]Entry, error) {
	return j.query(j.db.Where("account = ?", strings.TrimSpace(account)), limit)
}

// ByAsset returns entries for the asset, newest first.
func (j *Journal) ByAsset(asset string, limit int) ([]Entry, error) {
	return j.query(j.db.Where("asset = ?", lending.NormalizeAsset(asset)), limit)
}

// CountByType tallies recorded operations grouped by event type.
func (j *Journal) CountByType() (map[string]int64, error) {
	return j.countBy("type")
}

// CountByAsset tallies recorded operations grouped by asset.
func (j *Journal) CountByAsset() (map[string]int64, error) {
	return j.countBy("asset")
}

func (j *Journal) countBy(column string) (map[string]int64, error) {
	if j == nil {
		return nil, fmt.Errorf("journal: not initialised")
	}
	var rows []struct {
		Key   string
		Count int64
	}
	if err := j.db.Model(&Entry{}).Select(column + " AS key, COUNT(*) AS count").Group(column).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: count by %s: %w", column, err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Key] = row.Count
	}
	return counts, nil
}

func (j *Journal) query(tx *gorm.DB, limit int) ([]Entry, error) {
	if j == nil {
		return nil, fmt.Errorf("journal: not initialised")
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	var entries []Entry
	if err := tx.Model(&Entry{}).Order("sequence DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: query entries: %w", err)
	}
	return entries, nil
}

func eventAsset(attrs map[string]string) string {
	if asset := attrs["asset"]; asset != "" {
		return asset
	}
	return attrs["debtAsset"]
}

func eventAccount(attrs map[string]string) string {
	if user := attrs["user"]; user != "" {
		return user
	}
	return attrs["borrower"]
}
