package lending

import (
	"math/big"
	"testing"
)

func TestSimpleInterestTruncates(t *testing.T) {
	cases := []struct {
		principal int64
		rateBps   uint64
		elapsed   int64
		want      int64
	}{
		{1_000, 1_000, secondsPerYear, 100},
		{700, 1_000, secondsPerYear / 2, 35},
		{1, 1, 1, 0},
		{1_000, 0, secondsPerYear, 0},
		{0, 1_000, secondsPerYear, 0},
		// 333 * 1000 * 1000 / (10000 * 31536000) truncates to zero.
		{333, 1_000, 1_000, 0},
	}
	for i, tc := range cases {
		got := simpleInterest(big.NewInt(tc.principal), tc.rateBps, tc.elapsed)
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("case %d: expected %d, got %s", i, tc.want, got)
		}
	}
}

func TestMulBpsTruncates(t *testing.T) {
	if got := mulBps(big.NewInt(999), 500); got.Cmp(big.NewInt(49)) != 0 {
		t.Fatalf("expected 49, got %s", got)
	}
	if got := mulBps(big.NewInt(1_000), 8_000); got.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("expected 800, got %s", got)
	}
	if got := mulBps(nil, 8_000); got.Sign() != 0 {
		t.Fatalf("expected zero for nil input, got %s", got)
	}
}

func TestSubClampedFloorsAtZero(t *testing.T) {
	if got := subClamped(big.NewInt(3), big.NewInt(5)); got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
	if got := subClamped(big.NewInt(5), big.NewInt(3)); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected 2, got %s", got)
	}
}

func TestCloneBigCopies(t *testing.T) {
	original := big.NewInt(42)
	copied := cloneBig(original)
	copied.SetInt64(99)
	if original.Cmp(big.NewInt(42)) != 0 {
		t.Fatal("clone aliased the original")
	}
	if cloneBig(nil).Sign() != 0 {
		t.Fatal("expected zero for nil input")
	}
}
