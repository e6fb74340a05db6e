package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"openlend/journal"
)

// JournalJSONL builds a JSON Lines export for the supplied journal entries
// and returns the serialised payload alongside a checksum.
func JournalJSONL(entries []journal.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, entry := range entries {
		recorded := entry.CreatedAt
		if recorded.IsZero() {
			recorded = time.Now().UTC()
		}
		payload := map[string]interface{}{
			"sequence":    entry.Sequence,
			"type":        entry.Type,
			"asset":       entry.Asset,
			"account":     entry.Account,
			"attributes":  entry.Attributes,
			"recorded_at": recorded.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
