package observability

import (
	"testing"
	"time"
)

func TestRPCMetricsRecordsRequests(t *testing.T) {
	m := RPCMetrics()
	m.ObserveRequest("lend_deposit", "", 250*time.Millisecond)
	m.ObserveRequest("lend_deposit", "error", 10*time.Millisecond)
	m.ObserveRequest("", "ok", 0)

	ok := metricValue(t, "openlend_rpc_requests_total", map[string]string{
		"method":  "lend_deposit",
		"outcome": "ok",
	})
	if ok != 1 {
		t.Fatalf("ok count = %v, want 1", ok)
	}
	errored := metricValue(t, "openlend_rpc_requests_total", map[string]string{
		"method":  "lend_deposit",
		"outcome": "error",
	})
	if errored != 1 {
		t.Fatalf("error count = %v, want 1", errored)
	}
	unknown := metricValue(t, "openlend_rpc_requests_total", map[string]string{
		"method":  "unknown",
		"outcome": "ok",
	})
	if unknown != 1 {
		t.Fatalf("unknown method count = %v, want 1", unknown)
	}
	samples := metricValue(t, "openlend_rpc_request_duration_seconds", map[string]string{"method": "lend_deposit"})
	if samples != 2 {
		t.Fatalf("latency samples = %v, want 2", samples)
	}
}

func TestRPCMetricsRecordsErrorsAndThrottles(t *testing.T) {
	m := RPCMetrics()
	m.ObserveError("lend_borrow", -32602)
	m.ObserveThrottle("203.0.113.7")
	m.ObserveThrottle("")

	errors := metricValue(t, "openlend_rpc_errors_total", map[string]string{
		"method": "lend_borrow",
		"code":   "-32602",
	})
	if errors != 1 {
		t.Fatalf("error count = %v, want 1", errors)
	}
	throttled := metricValue(t, "openlend_rpc_throttled_total", map[string]string{"source": "203.0.113.7"})
	if throttled != 1 {
		t.Fatalf("throttle count = %v, want 1", throttled)
	}
	anonymous := metricValue(t, "openlend_rpc_throttled_total", map[string]string{"source": "unknown"})
	if anonymous != 1 {
		t.Fatalf("anonymous throttle count = %v, want 1", anonymous)
	}
}

func TestRPCMetricsTracksSubscribers(t *testing.T) {
	m := RPCMetrics()
	m.WSSubscribe()
	m.WSSubscribe()
	m.WSUnsubscribe()

	if got := metricValue(t, "openlend_rpc_websocket_subscribers", nil); got != 1 {
		t.Fatalf("subscriber gauge = %v, want 1", got)
	}
}

func TestRPCMetricsNilReceiverIsSafe(t *testing.T) {
	var m *rpcMetrics
	m.ObserveRequest("lend_deposit", "ok", time.Second)
	m.ObserveError("lend_deposit", -32000)
	m.ObserveThrottle("203.0.113.7")
	m.WSSubscribe()
	m.WSUnsubscribe()
}
