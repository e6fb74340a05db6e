package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketIdempotency = []byte("idempotency")

// IdempotencyRecord is the cached response envelope for one key.
type IdempotencyRecord struct {
	StatusCode  int       `json:"statusCode"`
	ContentType string    `json:"contentType,omitempty"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IdempotencyStore persists replay records in a Bolt database.
type IdempotencyStore struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// NewIdempotencyStore opens (and migrates) the Bolt-backed replay cache.
func NewIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached response for key when it has not expired. Expired
// entries are deleted on read.
func (s *IdempotencyStore) Get(key string) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if s.now().After(record.ExpiresAt) {
			record = IdempotencyRecord{}
			return bucket.Delete([]byte(key))
		}
		found = true
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return record, found, nil
}

// Put stores the response envelope under key with the configured TTL.
func (s *IdempotencyStore) Put(key string, statusCode int, contentType string, body []byte) error {
	stored := s.now()
	record := IdempotencyRecord{
		StatusCode:  statusCode,
		ContentType: contentType,
		Body:        body,
		StoredAt:    stored,
		ExpiresAt:   stored.Add(s.ttl),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), payload)
	})
}

// Idempotency replays cached responses for repeated Idempotency-Key headers
// so retried mutations do not execute twice.
type Idempotency struct {
	store *IdempotencyStore
}

// NewIdempotency wraps a store in replay middleware.
func NewIdempotency(store *IdempotencyStore) *Idempotency {
	return &Idempotency{store: store}
}

// Middleware caches successful responses per key. Requests without the
// header pass straight through, as do responses with 5xx statuses so a
// transient upstream failure stays retryable.
func (i *Idempotency) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if i == nil || i.store == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = r.Method + " " + r.URL.Path + " " + key
			if record, ok, err := i.store.Get(key); err == nil && ok {
				if record.ContentType != "" {
					w.Header().Set("Content-Type", record.ContentType)
				}
				w.Header().Set("Idempotency-Replayed", "true")
				w.WriteHeader(record.StatusCode)
				_, _ = w.Write(record.Body)
				return
			}
			recorder := &bufferingRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			if recorder.status < http.StatusInternalServerError {
				_ = i.store.Put(key, recorder.status, recorder.Header().Get("Content-Type"), recorder.buf.Bytes())
			}
		})
	}
}

type bufferingRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bufferingRecorder) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferingRecorder) Write(p []byte) (int, error) {
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}
