package crypto

import (
	"encoding/json"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := NewAddress(raw)
	encoded := addr.String()

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: got %s want %s", decoded, addr)
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := DecodeAddress("nhb1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq04rumv"); err == nil {
		t.Fatalf("expected prefix rejection")
	}
	if _, err := DecodeAddress("not-bech32"); err == nil {
		t.Fatalf("expected bech32 rejection")
	}
}

func TestAddressJSON(t *testing.T) {
	raw := make([]byte, AddressLength)
	raw[AddressLength-1] = 0x42
	addr := NewAddress(raw)

	payload, err := json.Marshal(addr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Address
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("json round trip mismatch: got %s want %s", decoded, addr)
	}
}

func TestAddressZeroAndEqual(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatalf("empty address should be zero")
	}
	if !NewAddress(make([]byte, AddressLength)).IsZero() {
		t.Fatalf("all-zero address should be zero")
	}

	a := make([]byte, AddressLength)
	a[0] = 1
	b := make([]byte, AddressLength)
	b[0] = 2
	if NewAddress(a).Equal(NewAddress(b)) {
		t.Fatalf("distinct addresses reported equal")
	}
}
