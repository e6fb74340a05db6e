// Package webhooks delivers ledger alerts to operator endpoints. Deliveries
// are HMAC-signed, queued, and retried with exponential backoff so a flaky
// receiver does not block the caller.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventAnomaly is emitted when an audit run flags a ledger inconsistency.
	EventAnomaly EventType = "lend.audit.anomaly"
	// EventLiquidation is emitted when an unhealthy position is seized.
	EventLiquidation EventType = "lend.market.liquidated"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// AnomalyPayload describes the webhook body for audit findings.
type AnomalyPayload struct {
	Type        EventType `json:"type"`
	AnomalyType string    `json:"anomalyType"`
	User        string    `json:"user,omitempty"`
	Asset       string    `json:"asset,omitempty"`
	Details     string    `json:"details"`
	DetectedAt  time.Time `json:"detectedAt"`
	DeliveryID  string    `json:"deliveryId"`
}

// LiquidationPayload describes the webhook body for seizure events.
type LiquidationPayload struct {
	Type            EventType `json:"type"`
	Liquidator      string    `json:"liquidator"`
	Borrower        string    `json:"borrower"`
	DebtAsset       string    `json:"debtAsset"`
	CollateralAsset string    `json:"collateralAsset"`
	Repaid          string    `json:"repaid"`
	Seized          string    `json:"seized"`
	OccurredAt      time.Time `json:"occurredAt"`
	DeliveryID      string    `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type delivery struct {
	eventType EventType
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, 32),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops accepting new deliveries and blocks until everything already
// queued has been sent or exhausted its retries. Short-lived callers such as
// audit runs rely on the drain to not lose findings on exit.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.cancel()
}

// EnqueueAnomaly sends an audit finding asynchronously.
func (d *Dispatcher) EnqueueAnomaly(payload AnomalyPayload) error {
	payload.Type = EventAnomaly
	if payload.DetectedAt.IsZero() {
		payload.DetectedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("anomaly-%s-%d", payload.AnomalyType, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// EnqueueLiquidation sends a seizure notification asynchronously.
func (d *Dispatcher) EnqueueLiquidation(payload LiquidationPayload) error {
	payload.Type = EventLiquidation
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("liquidation-%s-%d", payload.Borrower, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

func (d *Dispatcher) enqueue(eventType EventType, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("webhook: dispatcher closed")
	}
	select {
	case d.queue <- delivery{eventType: eventType, body: data}:
		return nil
	default:
		return errors.New("webhook: delivery queue full")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.process(job)
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Openlend-Event", string(job.eventType))
	req.Header.Set("X-Openlend-Signature", d.sign(job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	return "sha256=" + hex.EncodeToString(sum)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
