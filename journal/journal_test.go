package journal

import (
	"math/big"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"openlend/crypto"
	"openlend/lending"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	return db
}

func testAddr(tag byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = tag
	}
	return crypto.NewAddress(raw)
}

func TestJournalRecordsEvents(t *testing.T) {
	journal, err := New(openTestDB(t), nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	user := testAddr(0x11)

	journal.Emit(lending.Deposited{User: user, Asset: "OLT", Amount: big.NewInt(1_000)})
	journal.Emit(lending.Borrowed{User: user, Asset: "OLT", Amount: big.NewInt(700)})
	journal.Emit(lending.Repaid{
		User:      user,
		Asset:     "OLT",
		Amount:    big.NewInt(770),
		Principal: big.NewInt(700),
		Interest:  big.NewInt(70),
		Remaining: big.NewInt(0),
	})

	entries, err := journal.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantTypes := []string{lending.TypeRepaid, lending.TypeBorrowed, lending.TypeDeposited}
	for i, entry := range entries {
		if entry.Type != wantTypes[i] {
			t.Fatalf("entry %d type: got %s, want %s", i, entry.Type, wantTypes[i])
		}
		if entry.Asset != "OLT" {
			t.Fatalf("entry %d asset: got %s", i, entry.Asset)
		}
		if entry.Account != user.String() {
			t.Fatalf("entry %d account: got %s, want %s", i, entry.Account, user)
		}
		if entry.Sequence != uint64(3-i) {
			t.Fatalf("entry %d sequence: got %d, want %d", i, entry.Sequence, 3-i)
		}
	}

	attrs, err := entries[0].AttributeMap()
	if err != nil {
		t.Fatalf("attribute map: %v", err)
	}
	if attrs["amount"] != "770" || attrs["principal"] != "700" || attrs["interest"] != "70" {
		t.Fatalf("repaid attributes wrong: %v", attrs)
	}
}

func TestJournalSequenceResumes(t *testing.T) {
	db := openTestDB(t)
	first, err := New(db, nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	user := testAddr(0x22)
	first.Emit(lending.Deposited{User: user, Asset: "OLT", Amount: big.NewInt(1)})
	first.Emit(lending.Deposited{User: user, Asset: "OLT", Amount: big.NewInt(2)})

	second, err := New(db, nil)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	second.Emit(lending.Deposited{User: user, Asset: "OLT", Amount: big.NewInt(3)})

	entries, err := second.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Sequence != 3 {
		t.Fatalf("resumed sequence: got %d, want 3", entries[0].Sequence)
	}
}

func TestJournalQueryFilters(t *testing.T) {
	journal, err := New(openTestDB(t), nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	alice := testAddr(0x33)
	bob := testAddr(0x44)

	journal.Emit(lending.Deposited{User: alice, Asset: "OLT", Amount: big.NewInt(10)})
	journal.Emit(lending.Deposited{User: bob, Asset: "OUSD", Amount: big.NewInt(20)})
	journal.Emit(lending.Withdrawn{User: alice, Asset: "OUSD", Amount: big.NewInt(5)})

	mine, err := journal.ByAccount(alice.String(), 0)
	if err != nil {
		t.Fatalf("by account: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 entries for alice, got %d", len(mine))
	}
	for _, entry := range mine {
		if entry.Account != alice.String() {
			t.Fatalf("foreign entry in account query: %+v", entry)
		}
	}

	ousd, err := journal.ByAsset(" ousd ", 0)
	if err != nil {
		t.Fatalf("by asset: %v", err)
	}
	if len(ousd) != 2 {
		t.Fatalf("expected 2 OUSD entries, got %d", len(ousd))
	}

	counts, err := journal.CountByType()
	if err != nil {
		t.Fatalf("count by type: %v", err)
	}
	if counts[lending.TypeDeposited] != 2 || counts[lending.TypeWithdrawn] != 1 {
		t.Fatalf("counts wrong: %v", counts)
	}
}

func TestJournalIndexesLiquidations(t *testing.T) {
	journal, err := New(openTestDB(t), nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	borrower := testAddr(0x55)
	liquidator := testAddr(0x66)

	journal.Emit(lending.Liquidated{
		Liquidator:      liquidator,
		Borrower:        borrower,
		DebtAsset:       "OLT",
		CollateralAsset: "OUSD",
		Repaid:          big.NewInt(100),
		Seized:          big.NewInt(210),
	})

	entries, err := journal.ByAccount(borrower.String(), 0)
	if err != nil {
		t.Fatalf("by account: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected liquidation under borrower, got %d entries", len(entries))
	}
	if entries[0].Asset != "OLT" {
		t.Fatalf("liquidation indexed under %s, want debt asset OLT", entries[0].Asset)
	}
	attrs, err := entries[0].AttributeMap()
	if err != nil {
		t.Fatalf("attribute map: %v", err)
	}
	if attrs["liquidator"] != liquidator.String() || attrs["seized"] != "210" {
		t.Fatalf("liquidation attributes wrong: %v", attrs)
	}
}

func TestOpenSqliteFile(t *testing.T) {
	path := t.TempDir() + "/journal.db"
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	journal, err := New(db, nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	journal.Emit(lending.MarketCreated{Asset: "OLT", CollateralFactorBps: 7_500, BorrowRateBps: 1_000, SupplyRateBps: 800})

	entries, err := journal.Recent(1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != lending.TypeMarketCreated {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Account != "" {
		t.Fatalf("market events carry no account, got %q", entries[0].Account)
	}

	if _, err := Open("   "); err == nil {
		t.Fatalf("empty dsn should fail")
	}
}
