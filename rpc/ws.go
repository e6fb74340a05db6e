package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"openlend/lending"
	"openlend/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

type wsEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// EventHub fans committed ledger events out to websocket subscribers. It
// implements the engine emitter contract so the node registers it next to the
// journal and metrics collector.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

var _ lending.Emitter = (*EventHub)(nil)

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan []byte]struct{})}
}

// Emit satisfies lending.Emitter. Slow subscribers drop payloads rather than
// stalling the engine commit path.
func (h *EventHub) Emit(event lending.Event) {
	if h == nil || event == nil {
		return
	}
	payload, err := json.Marshal(wsEvent{Type: event.EventType(), Attributes: event.Attributes()})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Subscribe registers a stream. The returned cancel detaches it and closes
// the channel; calling cancel more than once is safe.
func (h *EventHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	observability.RPCMetrics().WSSubscribe()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
			observability.RPCMetrics().WSUnsubscribe()
		})
	}
	return ch, cancel
}

// Subscribers reports the attached stream count.
func (h *EventHub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventPayload(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func writeEventPayload(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
