package lending

import (
	"errors"
	"math/big"
	"testing"

	"openlend/crypto"
)

// liquidationFixture builds a borrower holding 1000 OUSD of collateral
// against a 700 OLT debt, with a whale funding the OLT pool. Dropping the
// OUSD rate and refreshing the borrower's aggregates makes the position
// liquidatable.
func liquidationFixture(t *testing.T) (*Engine, *testOracle, *mockTransfer, crypto.Address, crypto.Address) {
	t.Helper()
	engine, oracle, transfer, _ := newTestEngine(t)
	mustCreateMarket(t, engine, "OLT")
	mustCreateMarket(t, engine, "OUSD")
	whale := makeAddress(0xaa)
	borrower := makeAddress(0xbb)

	if err := engine.Deposit(whale, "OLT", big.NewInt(2_000)); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	if err := engine.Deposit(borrower, "OUSD", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := engine.Borrow(borrower, "OLT", big.NewInt(700)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return engine, oracle, transfer, borrower, makeAddress(0xcc)
}

func markUnderwater(t *testing.T, engine *Engine, oracle *testOracle, borrower crypto.Address) {
	t.Helper()
	oracle.setRate("OUSD", 1, 2)
	if err := engine.RefreshAggregates(borrower); err != nil {
		t.Fatalf("refresh aggregates: %v", err)
	}
	liquidatable, err := engine.Liquidatable(borrower)
	if err != nil {
		t.Fatalf("liquidatable: %v", err)
	}
	if !liquidatable {
		t.Fatal("expected position to be liquidatable after price drop")
	}
}

func TestLiquidateSeizesDiscountedCollateral(t *testing.T) {
	engine, oracle, transfer, borrower, liquidator := liquidationFixture(t)
	markUnderwater(t, engine, oracle, borrower)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	repaid, seized, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", big.NewInt(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	checkBig(t, "repaid", repaid, 100)
	// 105 of value at an OUSD rate of 1/2 converts to 210 units.
	checkBig(t, "seized", seized, 210)

	debt, err := engine.GetAccount(borrower, "OLT")
	if err != nil {
		t.Fatalf("debt account: %v", err)
	}
	checkBig(t, "remaining debt", debt.Borrowed, 600)
	collateral, err := engine.GetAccount(borrower, "OUSD")
	if err != nil {
		t.Fatalf("collateral account: %v", err)
	}
	checkBig(t, "remaining collateral", collateral.Deposited, 790)

	oltMarket, err := engine.GetMarket("OLT")
	if err != nil {
		t.Fatalf("get OLT market: %v", err)
	}
	checkBig(t, "OLT total borrowed", oltMarket.TotalBorrowed, 600)
	ousdMarket, err := engine.GetMarket("OUSD")
	if err != nil {
		t.Fatalf("get OUSD market: %v", err)
	}
	checkBig(t, "OUSD total deposited", ousdMarket.TotalDeposited, 790)

	borrowValue, err := engine.BorrowValue(borrower)
	if err != nil {
		t.Fatalf("borrow value: %v", err)
	}
	checkBig(t, "borrow value", borrowValue, 600)
	collateralValue, err := engine.CollateralValue(borrower)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	checkBig(t, "collateral value", collateralValue, 395)

	calls := transfer.calls
	if len(calls) < 2 {
		t.Fatalf("expected repayment and payout transfers, got %d calls", len(calls))
	}
	in, out := calls[len(calls)-2], calls[len(calls)-1]
	if in.dir != "in" || in.asset != "OLT" || !in.user.Equal(liquidator) {
		t.Fatalf("unexpected repayment transfer %+v", in)
	}
	checkBig(t, "repayment collected", in.qty, 100)
	if out.dir != "out" || out.asset != "OUSD" || !out.user.Equal(liquidator) {
		t.Fatalf("unexpected payout transfer %+v", out)
	}
	checkBig(t, "payout", out.qty, 210)

	if got := emitter.types(); len(got) != 1 || got[0] != TypeLiquidated {
		t.Fatalf("expected a single liquidation event, got %v", got)
	}
	attrs := emitter.events[0].Attributes()
	if attrs["repaid"] != "100" || attrs["seized"] != "210" {
		t.Fatalf("unexpected event attributes %v", attrs)
	}
	if attrs["liquidator"] != liquidator.String() || attrs["borrower"] != borrower.String() {
		t.Fatalf("unexpected event parties %v", attrs)
	}
	checkMarketInvariant(t, engine)
}

func TestLiquidateClampsSeizureToDeposits(t *testing.T) {
	engine, oracle, _, borrower, liquidator := liquidationFixture(t)
	oracle.setRate("OUSD", 1, 20)
	if err := engine.RefreshAggregates(borrower); err != nil {
		t.Fatalf("refresh aggregates: %v", err)
	}

	repaid, seized, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", big.NewInt(600))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	checkBig(t, "repaid", repaid, 600)
	// The bonus-inclusive seize target of 12600 units exceeds the deposit,
	// so the payout clamps while the debt reduction does not.
	checkBig(t, "seized", seized, 1_000)

	collateral, err := engine.GetAccount(borrower, "OUSD")
	if err != nil {
		t.Fatalf("collateral account: %v", err)
	}
	checkBig(t, "remaining collateral", collateral.Deposited, 0)
	debt, err := engine.GetAccount(borrower, "OLT")
	if err != nil {
		t.Fatalf("debt account: %v", err)
	}
	checkBig(t, "remaining debt", debt.Borrowed, 100)

	collateralValue, err := engine.CollateralValue(borrower)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	checkBig(t, "collateral value", collateralValue, 0)
	borrowValue, err := engine.BorrowValue(borrower)
	if err != nil {
		t.Fatalf("borrow value: %v", err)
	}
	checkBig(t, "borrow value", borrowValue, 100)
	checkMarketInvariant(t, engine)
}

func TestLiquidateSameAssetUsesSingleRecord(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	mustCreateMarket(t, engine, "OLT")
	whale := makeAddress(0xdd)
	borrower := makeAddress(0xee)
	liquidator := makeAddress(0xff)

	if err := engine.Deposit(whale, "OLT", big.NewInt(2_000)); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	if err := engine.Deposit(borrower, "OLT", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Borrow(borrower, "OLT", big.NewInt(700)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// A same-asset position cannot go underwater through price movement, so
	// seed the aggregates the way a restored snapshot would.
	engine.State().RestoreAggregates(borrower, big.NewInt(640), big.NewInt(700))

	repaid, seized, err := engine.Liquidate(liquidator, borrower, "OLT", "OLT", big.NewInt(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	checkBig(t, "repaid", repaid, 100)
	checkBig(t, "seized", seized, 105)

	record, err := engine.GetAccount(borrower, "OLT")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	// Both sides of the seizure land on the one record.
	checkBig(t, "borrowed", record.Borrowed, 600)
	checkBig(t, "deposited", record.Deposited, 895)

	market, err := engine.GetMarket("OLT")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	checkBig(t, "total borrowed", market.TotalBorrowed, 600)
	checkBig(t, "total deposited", market.TotalDeposited, 2_895)
	checkMarketInvariant(t, engine)
}

func TestLiquidatePayoutFailureRefundsRepayment(t *testing.T) {
	engine, oracle, transfer, borrower, liquidator := liquidationFixture(t)
	markUnderwater(t, engine, oracle, borrower)
	transfer.outErr = map[string]error{"OUSD": errors.New("payout rejected")}

	_, _, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", big.NewInt(100))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	debt, err := engine.GetAccount(borrower, "OLT")
	if err != nil {
		t.Fatalf("debt account: %v", err)
	}
	checkBig(t, "debt untouched", debt.Borrowed, 700)
	collateral, err := engine.GetAccount(borrower, "OUSD")
	if err != nil {
		t.Fatalf("collateral account: %v", err)
	}
	checkBig(t, "collateral untouched", collateral.Deposited, 1_000)
	borrowValue, err := engine.BorrowValue(borrower)
	if err != nil {
		t.Fatalf("borrow value: %v", err)
	}
	checkBig(t, "borrow value untouched", borrowValue, 700)

	refund := transfer.calls[len(transfer.calls)-1]
	if refund.dir != "out" || refund.asset != "OLT" || !refund.user.Equal(liquidator) {
		t.Fatalf("expected repayment refund, got %+v", refund)
	}
	checkBig(t, "refunded", refund.qty, 100)
}

func TestLiquidateValidation(t *testing.T) {
	t.Run("self liquidation", func(t *testing.T) {
		engine, oracle, _, borrower, _ := liquidationFixture(t)
		markUnderwater(t, engine, oracle, borrower)
		if _, _, err := engine.Liquidate(borrower, borrower, "OLT", "OUSD", big.NewInt(100)); err != ErrSelfLiquidation {
			t.Fatalf("expected ErrSelfLiquidation, got %v", err)
		}
	})
	t.Run("invalid amount", func(t *testing.T) {
		engine, oracle, _, borrower, liquidator := liquidationFixture(t)
		markUnderwater(t, engine, oracle, borrower)
		if _, _, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", big.NewInt(0)); err != ErrInvalidAmount {
			t.Fatalf("expected ErrInvalidAmount, got %v", err)
		}
		if _, _, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", nil); err != ErrInvalidAmount {
			t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
		}
	})
	t.Run("unknown market", func(t *testing.T) {
		engine, oracle, _, borrower, liquidator := liquidationFixture(t)
		markUnderwater(t, engine, oracle, borrower)
		if _, _, err := engine.Liquidate(liquidator, borrower, "GHOST", "OUSD", big.NewInt(100)); err != ErrMarketNotFound {
			t.Fatalf("expected ErrMarketNotFound, got %v", err)
		}
	})
	t.Run("healthy position", func(t *testing.T) {
		engine, _, _, borrower, liquidator := liquidationFixture(t)
		if _, _, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", big.NewInt(100)); err != ErrPositionHealthy {
			t.Fatalf("expected ErrPositionHealthy, got %v", err)
		}
	})
	t.Run("repay exceeds debt", func(t *testing.T) {
		engine, oracle, _, borrower, liquidator := liquidationFixture(t)
		markUnderwater(t, engine, oracle, borrower)
		if _, _, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", big.NewInt(800)); err != ErrInsufficientBalance {
			t.Fatalf("expected ErrInsufficientBalance, got %v", err)
		}
	})
	t.Run("no collateral to seize", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)
		mustCreateMarket(t, engine, "OLT")
		mustCreateMarket(t, engine, "OUSD")
		borrower := makeAddress(0x31)
		liquidator := makeAddress(0x32)
		if err := engine.Deposit(borrower, "OLT", big.NewInt(1_000)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if err := engine.Borrow(borrower, "OLT", big.NewInt(700)); err != nil {
			t.Fatalf("borrow: %v", err)
		}
		engine.State().RestoreAggregates(borrower, big.NewInt(640), big.NewInt(700))
		if _, _, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", big.NewInt(100)); err != ErrNoCollateralToSeize {
			t.Fatalf("expected ErrNoCollateralToSeize, got %v", err)
		}
	})
}

func TestLiquidateIgnoresMarketActivity(t *testing.T) {
	engine, oracle, _, borrower, liquidator := liquidationFixture(t)
	markUnderwater(t, engine, oracle, borrower)
	if _, err := engine.SetMarketActive("OLT", false); err != nil {
		t.Fatalf("pause OLT: %v", err)
	}
	if _, err := engine.SetMarketActive("OUSD", false); err != nil {
		t.Fatalf("pause OUSD: %v", err)
	}

	// Debt is never forgiven; remediation stays available while user
	// operations are frozen.
	repaid, seized, err := engine.Liquidate(liquidator, borrower, "OLT", "OUSD", big.NewInt(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	checkBig(t, "repaid", repaid, 100)
	checkBig(t, "seized", seized, 210)
}
