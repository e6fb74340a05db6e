package rpc

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"openlend/lending"
)

func TestEventHubFanout(t *testing.T) {
	hub := NewEventHub()
	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	if got := hub.Subscribers(); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}

	hub.Emit(lending.Deposited{Asset: "OLT", Amount: big.NewInt(25)})

	for name, ch := range map[string]<-chan []byte{"first": first, "second": second} {
		select {
		case payload := <-ch:
			var event wsEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				t.Fatalf("%s: decode payload: %v", name, err)
			}
			if event.Type != lending.TypeDeposited {
				t.Fatalf("%s: type = %s, want %s", name, event.Type, lending.TypeDeposited)
			}
			if event.Attributes["amount"] != "25" {
				t.Fatalf("%s: amount = %q, want 25", name, event.Attributes["amount"])
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no payload delivered", name)
		}
	}

	cancelFirst()
	cancelFirst() // second cancel is a no-op
	if got := hub.Subscribers(); got != 1 {
		t.Fatalf("subscribers after cancel = %d, want 1", got)
	}
	if _, open := <-first; open {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestEventHubDropsWhenSubscriberLags(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Emit(lending.Borrowed{Asset: "OLT", Amount: big.NewInt(int64(i + 1))})
	}

	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("buffered payloads = %d, want %d", got, subscriberBuffer)
	}
}

func TestEventHubNilSafety(t *testing.T) {
	var hub *EventHub
	hub.Emit(lending.Deposited{Asset: "OLT"})
	if got := hub.Subscribers(); got != 0 {
		t.Fatalf("nil hub subscribers = %d, want 0", got)
	}

	NewEventHub().Emit(nil)
}
