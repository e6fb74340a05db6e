// Package exports serialises ledger journal entries for downstream
// reconciliation pipelines. Every export ships with a SHA-256 checksum so
// consumers can verify the payload before ingesting it.
package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"openlend/journal"
)

// JournalCSV builds a CSV export for the supplied journal entries and returns
// the serialised data alongside a checksum of the payload.
func JournalCSV(entries []journal.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "type", "asset", "account", "attributes", "recorded_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, entry := range entries {
		recorded := entry.CreatedAt
		if recorded.IsZero() {
			recorded = time.Now().UTC()
		}
		record := []string{
			strconv.FormatUint(entry.Sequence, 10),
			entry.Type,
			entry.Asset,
			entry.Account,
			entry.Attributes,
			recorded.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
