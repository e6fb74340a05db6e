package lending

import (
	"math/big"
	"testing"
)

func TestEventAttributeMaps(t *testing.T) {
	user := makeAddress(0x51)

	deposited := Deposited{User: user, Asset: "OLT", Amount: big.NewInt(1_000)}
	attrs := deposited.Attributes()
	if attrs["user"] != user.String() {
		t.Fatalf("expected bech32 user attribute, got %q", attrs["user"])
	}
	if attrs["asset"] != "OLT" || attrs["amount"] != "1000" {
		t.Fatalf("unexpected deposit attributes %v", attrs)
	}

	accrued := InterestAccrued{Asset: " OLT ", Interest: big.NewInt(70), Timestamp: 1_700_000_000}
	attrs = accrued.Attributes()
	if attrs["asset"] != "OLT" || attrs["interest"] != "70" || attrs["timestamp"] != "1700000000" {
		t.Fatalf("unexpected accrual attributes %v", attrs)
	}
	if _, ok := InterestAccrued{Timestamp: 1}.Attributes()["interest"]; ok {
		t.Fatal("expected nil interest to be omitted")
	}

	repaid := Repaid{
		User:      user,
		Asset:     "OLT",
		Amount:    big.NewInt(770),
		Principal: big.NewInt(700),
		Interest:  big.NewInt(70),
		Remaining: big.NewInt(0),
	}
	attrs = repaid.Attributes()
	if attrs["principal"] != "700" || attrs["interest"] != "70" || attrs["remaining"] != "0" {
		t.Fatalf("unexpected repay attributes %v", attrs)
	}

	status := MarketStatus{Asset: "OLT", Active: false}
	attrs = status.Attributes()
	if attrs["active"] != "false" {
		t.Fatalf("unexpected status attributes %v", attrs)
	}
}

func TestMarketLifecycleEvents(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	params := MarketParams{CollateralFactorBps: 7_500, BorrowRateBps: 1_000, SupplyRateBps: 800}
	if _, err := engine.CreateMarket("OLT", params); err != nil {
		t.Fatalf("create market: %v", err)
	}
	if _, err := engine.SetMarketActive("OLT", false); err != nil {
		t.Fatalf("set inactive: %v", err)
	}

	types := emitter.types()
	if len(types) != 2 || types[0] != TypeMarketCreated || types[1] != TypeMarketStatus {
		t.Fatalf("unexpected event sequence %v", types)
	}
	attrs := emitter.events[0].Attributes()
	if attrs["asset"] != "OLT" || attrs["borrowRateBps"] != "1000" {
		t.Fatalf("unexpected creation attributes %v", attrs)
	}
}

func TestMultiEmitterFanout(t *testing.T) {
	first := &recordingEmitter{}
	second := &recordingEmitter{}
	multi := MultiEmitter{first, nil, second}

	multi.Emit(MarketStatus{Asset: "OLT", Active: true})

	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both sinks to receive the event, got %d and %d", len(first.events), len(second.events))
	}
}

func TestOperationEventSequence(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	mustCreateMarket(t, engine, "OLT")
	user := makeAddress(0x52)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	if err := engine.Deposit(user, "OLT", big.NewInt(1_000)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	clock.advance(3_600)
	if err := engine.Deposit(user, "OLT", big.NewInt(500)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	// The first deposit happens at the market's creation timestamp, so only
	// the second one is preceded by an accrual event.
	want := []string{TypeDeposited, TypeInterestAccrued, TypeDeposited}
	got := emitter.types()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %s at %d, got %v", want[i], i, got)
		}
	}
}
