package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"nhooyr.io/websocket"

	"openlend/crypto"
	"openlend/sdk/lend"
)

const (
	defaultDuration = 2 * time.Minute
	defaultRate     = 600 // deposits per minute
)

type streamEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type latencyTracker struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	latencies []time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{pending: make(map[string]time.Time)}
}

func (lt *latencyTracker) track(user string, at time.Time) {
	lt.mu.Lock()
	lt.pending[user] = at
	lt.mu.Unlock()
}

func (lt *latencyTracker) finalize(user string, at time.Time) {
	lt.mu.Lock()
	start, ok := lt.pending[user]
	if ok {
		lt.latencies = append(lt.latencies, at.Sub(start))
		delete(lt.pending, user)
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() (latencies []time.Duration, pending int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	latencies = append([]time.Duration(nil), lt.latencies...)
	pending = len(lt.pending)
	return latencies, pending
}

func (lt *latencyTracker) waitForEmpty(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		lt.mu.Lock()
		remaining := len(lt.pending)
		lt.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func main() {
	var (
		rpcURL       string
		asset        string
		opRate       int
		durationFlag time.Duration
	)
	flag.StringVar(&rpcURL, "rpc", "http://127.0.0.1:8545", "RPC endpoint for submitting operations")
	flag.StringVar(&asset, "asset", "OLT", "market to exercise")
	flag.IntVar(&opRate, "rate", defaultRate, "target rate of deposits per minute")
	flag.DurationVar(&durationFlag, "duration", defaultDuration, "load duration")
	flag.Parse()

	token := strings.TrimSpace(os.Getenv("OPENLEND_RPC_TOKEN"))
	if token == "" {
		log.Fatal("missing OPENLEND_RPC_TOKEN; the loader funds accounts through the dev faucet")
	}
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		log.Fatalf("parse rpc url: %v", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}

	if opRate <= 0 {
		log.Fatalf("rate must be positive, got %d", opRate)
	}
	if durationFlag <= 0 {
		durationFlag = defaultDuration
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := lend.New(parsed.String(), lend.WithAuthToken(token))
	if err != nil {
		log.Fatalf("build client: %v", err)
	}
	tracker := newLatencyTracker()

	wsURL := *parsed
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws/events"
	wsURL.RawQuery = ""

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(wsCtx, wsURL.String(), nil)
	wsCancel()
	if err != nil {
		log.Fatalf("connect event stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "load complete")

	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()
	go consumeEvents(streamCtx, conn, tracker)

	interval := time.Minute / time.Duration(opRate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := time.Now().Add(durationFlag)
	var seq uint64
	var submitted int
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		default:
		}
		user, err := submitDeposit(ctx, client, asset, seq)
		if err != nil {
			log.Printf("submit deposit %d failed: %v", seq, err)
		} else {
			tracker.track(user, time.Now())
			submitted++
		}
		seq++
		time.Sleep(interval)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if !tracker.waitForEmpty(waitCtx) {
		log.Printf("pending events for %d deposits", trackerPending(tracker))
	}

	streamCancel()

	latencies, pending := tracker.snapshot()
	reportLoadSummary(latencies, pending, submitted)
}

// loaderAddress derives a distinct bech32 account per operation so events
// on the stream correlate back to exactly one submit.
func loaderAddress(seq uint64) string {
	raw := make([]byte, crypto.AddressLength)
	copy(raw, "lendloader")
	binary.BigEndian.PutUint64(raw[crypto.AddressLength-8:], seq)
	return crypto.NewAddress(raw).String()
}

func submitDeposit(ctx context.Context, client *lend.Client, asset string, seq uint64) (string, error) {
	user := loaderAddress(seq)
	if _, err := client.Fund(ctx, user, asset, "1000"); err != nil {
		return "", err
	}
	if _, err := client.Deposit(ctx, user, asset, "1000"); err != nil {
		return "", err
	}
	return user, nil
}

func consumeEvents(ctx context.Context, conn *websocket.Conn, tracker *latencyTracker) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var payload streamEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("decode event payload: %v", err)
			continue
		}
		if payload.Type != "lending.deposited" {
			continue
		}
		if user, ok := payload.Attributes["user"]; ok {
			tracker.finalize(user, time.Now())
		}
	}
}

func trackerPending(t *latencyTracker) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func reportLoadSummary(latencies []time.Duration, pending int, submitted int) {
	var max time.Duration
	var total time.Duration
	for _, latency := range latencies {
		if latency > max {
			max = latency
		}
		total += latency
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = time.Duration(int64(total) / int64(len(latencies)))
	}
	log.Printf("Lend loader submitted %d deposits", submitted)
	log.Printf("Observed %d deposit events (pending: %d)", len(latencies), pending)
	log.Printf("Event latency avg=%s max=%s", avg, max)
}
