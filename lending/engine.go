package lending

import (
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"openlend/crypto"
)

// Engine orchestrates the ledger state transitions: deposits, borrows,
// repayments, withdrawals, liquidations and the administrative market
// surface. All mutating entry points share a single reentrancy gate and apply
// their changes all-or-nothing: working copies are mutated first and
// committed only after the external transfer succeeded.
type Engine struct {
	state    *State
	oracle   ValueOracle
	transfer AssetTransfer
	emitter  Emitter
	params   RiskParameters
	nowFn    func() int64
	busy     atomic.Bool
}

// NewEngine constructs an engine with the supplied risk parameters. The
// state, oracle and transfer collaborators are wired through the setters
// before first use.
func NewEngine(params RiskParameters) *Engine {
	return &Engine{
		params:  params,
		emitter: NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the ledger state it operates on.
func (e *Engine) SetState(state *State) {
	if e == nil {
		return
	}
	e.state = state
}

// SetOracle wires the value oracle consulted for admission checks.
func (e *Engine) SetOracle(oracle ValueOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetTransfer wires the external asset transfer collaborator.
func (e *Engine) SetTransfer(transfer AssetTransfer) {
	if e == nil {
		return
	}
	e.transfer = transfer
}

// SetEmitter routes engine events to the provided sink. A nil emitter
// restores the no-op default.
func (e *Engine) SetEmitter(emitter Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine clock. Intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// Params returns the configured risk parameters.
func (e *Engine) Params() RiskParameters {
	if e == nil {
		return RiskParameters{}
	}
	return e.params
}

// State exposes the wired ledger for persistence and audit surfaces.
func (e *Engine) State() *State {
	if e == nil {
		return nil
	}
	return e.state
}

func (e *Engine) now() int64 { return e.nowFn() }

// enter acquires the ledger-wide mutation gate shared by every mutating
// operation. Nested entry is rejected instead of blocking.
func (e *Engine) enter() (func(), error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { e.busy.Store(false) }, nil
}

func (e *Engine) requireCollaborators() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.oracle == nil {
		return ErrNilOracle
	}
	if e.transfer == nil {
		return ErrNilTransfer
	}
	return nil
}

func (e *Engine) emit(event Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

func (e *Engine) emitAccrual(asset string, interest *big.Int, mutated bool, now int64) {
	if !mutated {
		return
	}
	e.emit(InterestAccrued{Asset: asset, Interest: interest, Timestamp: now})
}

func (e *Engine) valueOf(asset string, qty *big.Int) (*big.Int, error) {
	value, err := e.oracle.ValueOf(asset, qty)
	if err != nil {
		return nil, fmt.Errorf("lending engine: value of %s: %w", asset, err)
	}
	if value == nil {
		value = big.NewInt(0)
	}
	return value, nil
}

func transferFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

// Deposit moves qty of asset from the user into the pool and credits the
// user's collateral aggregate at oracle value. The external transfer is the
// last fallible step; nothing is retained when it fails.
func (e *Engine) Deposit(user crypto.Address, asset string, qty *big.Int) error {
	if err := e.requireCollaborators(); err != nil {
		return err
	}
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	market, err := e.state.Market(asset)
	if err != nil {
		return err
	}
	if !market.Active {
		return ErrMarketInactive
	}
	if qty == nil || qty.Sign() <= 0 {
		return ErrInvalidAmount
	}

	now := e.now()
	interest, accrued := accrueMarket(market, now)

	value, err := e.valueOf(market.Asset, qty)
	if err != nil {
		return err
	}

	record := e.state.Account(user, market.Asset)
	record.Deposited = new(big.Int).Add(record.Deposited, qty)
	market.TotalDeposited = new(big.Int).Add(market.TotalDeposited, qty)
	collateral := new(big.Int).Add(e.state.CollateralValue(user), value)

	if err := e.transfer.TransferIn(market.Asset, user, qty); err != nil {
		return transferFailed(err)
	}

	e.state.putMarket(market)
	e.state.putAccount(record)
	e.state.setCollateral(user, collateral)

	e.emitAccrual(market.Asset, interest, accrued, now)
	e.emit(Deposited{User: user, Asset: market.Asset, Amount: cloneBig(qty)})
	return nil
}

// Borrow lends qty of asset to the user against their collateral aggregate.
// Admission is checked against the projected borrow value before the new
// borrow is added.
func (e *Engine) Borrow(user crypto.Address, asset string, qty *big.Int) error {
	if err := e.requireCollaborators(); err != nil {
		return err
	}
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	market, err := e.state.Market(asset)
	if err != nil {
		return err
	}
	if !market.Active {
		return ErrMarketInactive
	}
	if qty == nil || qty.Sign() <= 0 {
		return ErrInvalidAmount
	}

	now := e.now()
	interest, accrued := accrueMarket(market, now)

	liquidity := new(big.Int).Sub(market.TotalDeposited, market.TotalBorrowed)
	if liquidity.Cmp(qty) < 0 {
		return ErrInsufficientLiquidity
	}

	value, err := e.valueOf(market.Asset, qty)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(e.state.BorrowValue(user), value)
	maxBorrow := mulBps(e.state.CollateralValue(user), e.params.LiquidationThresholdBps)
	if projected.Cmp(maxBorrow) > 0 {
		return ErrInsufficientCollateral
	}

	record := e.state.Account(user, market.Asset)
	if record.Borrowed.Sign() == 0 {
		record.LastInterestTime = now
	}
	record.Borrowed = new(big.Int).Add(record.Borrowed, qty)
	market.TotalBorrowed = new(big.Int).Add(market.TotalBorrowed, qty)

	if err := e.transfer.TransferOut(market.Asset, user, qty); err != nil {
		return transferFailed(err)
	}

	e.state.putMarket(market)
	e.state.putAccount(record)
	e.state.setBorrowed(user, projected)

	e.emitAccrual(market.Asset, interest, accrued, now)
	e.emit(Borrowed{User: user, Asset: market.Asset, Amount: cloneBig(qty)})
	return nil
}

// Repay settles debt for the user and returns the effective amount paid. A
// zero qty repays everything owed including settled interest. The transfer is
// collected before balances mutate so a failed payment cannot mark debt
// repaid; only the principal portion reduces the recorded debt.
func (e *Engine) Repay(user crypto.Address, asset string, qty *big.Int) (*big.Int, error) {
	if err := e.requireCollaborators(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	market, err := e.state.Market(asset)
	if err != nil {
		return nil, err
	}
	if !market.Active {
		return nil, ErrMarketInactive
	}
	if qty != nil && qty.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	now := e.now()
	interest, accrued := accrueMarket(market, now)

	record := e.state.Account(user, market.Asset)
	if record.Borrowed.Sign() == 0 {
		return nil, ErrInsufficientBalance
	}

	settled := settledInterest(record, market, now)
	owed := new(big.Int).Add(record.Borrowed, settled)
	effective := cloneBig(qty)
	if effective.Sign() == 0 || effective.Cmp(owed) > 0 {
		effective = new(big.Int).Set(owed)
	}
	principal := new(big.Int).Sub(effective, settled)
	if principal.Sign() < 0 {
		principal = big.NewInt(0)
	}
	interestPaid := new(big.Int).Sub(effective, principal)

	principalValue, err := e.valueOf(market.Asset, principal)
	if err != nil {
		return nil, err
	}

	if err := e.transfer.TransferIn(market.Asset, user, effective); err != nil {
		return nil, transferFailed(err)
	}

	record.Borrowed = new(big.Int).Sub(record.Borrowed, principal)
	record.LastInterestTime = now
	market.TotalBorrowed = subClamped(market.TotalBorrowed, principal)
	borrowValue := subClamped(e.state.BorrowValue(user), principalValue)

	e.state.putMarket(market)
	e.state.putAccount(record)
	e.state.setBorrowed(user, borrowValue)

	e.emitAccrual(market.Asset, interest, accrued, now)
	e.emit(Repaid{
		User:      user,
		Asset:     market.Asset,
		Amount:    cloneBig(effective),
		Principal: cloneBig(principal),
		Interest:  interestPaid,
		Remaining: cloneBig(record.Borrowed),
	})
	return effective, nil
}

// Withdraw returns qty of asset to the user when the remaining position
// stays healthy and pool liquidity can fund the payout.
func (e *Engine) Withdraw(user crypto.Address, asset string, qty *big.Int) error {
	if err := e.requireCollaborators(); err != nil {
		return err
	}
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	market, err := e.state.Market(asset)
	if err != nil {
		return err
	}
	if !market.Active {
		return ErrMarketInactive
	}
	if qty == nil || qty.Sign() <= 0 {
		return ErrInvalidAmount
	}

	now := e.now()
	interest, accrued := accrueMarket(market, now)

	record := e.state.Account(user, market.Asset)
	if record.Deposited.Cmp(qty) < 0 {
		return ErrInsufficientBalance
	}
	liquidity := new(big.Int).Sub(market.TotalDeposited, market.TotalBorrowed)
	if liquidity.Cmp(qty) < 0 {
		return ErrInsufficientLiquidity
	}

	value, err := e.valueOf(market.Asset, qty)
	if err != nil {
		return err
	}
	newCollateral := subClamped(e.state.CollateralValue(user), value)
	maxBorrow := mulBps(newCollateral, e.params.LiquidationThresholdBps)
	if e.state.BorrowValue(user).Cmp(maxBorrow) > 0 {
		return ErrInsufficientCollateral
	}

	record.Deposited = new(big.Int).Sub(record.Deposited, qty)
	market.TotalDeposited = new(big.Int).Sub(market.TotalDeposited, qty)

	if err := e.transfer.TransferOut(market.Asset, user, qty); err != nil {
		return transferFailed(err)
	}

	e.state.putMarket(market)
	e.state.putAccount(record)
	e.state.setCollateral(user, newCollateral)

	e.emitAccrual(market.Asset, interest, accrued, now)
	e.emit(Withdrawn{User: user, Asset: market.Asset, Amount: cloneBig(qty)})
	return nil
}

// Accrue applies pooled interest for the asset up to the engine clock and
// returns the interest credited. Repeated calls at the same timestamp are
// no-ops.
func (e *Engine) Accrue(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	market, err := e.state.Market(asset)
	if err != nil {
		return nil, err
	}
	now := e.now()
	interest, mutated := accrueMarket(market, now)
	if mutated {
		e.state.putMarket(market)
		e.emitAccrual(market.Asset, interest, true, now)
	}
	return interest, nil
}

// RefreshAggregates re-derives the user's cached value aggregates at current
// oracle rates and stores them. This is how oracle price movement reaches the
// health factor between balance operations.
func (e *Engine) RefreshAggregates(user crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.oracle == nil {
		return ErrNilOracle
	}
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	collateral, borrowed, err := e.state.Recompute(user, e.oracle)
	if err != nil {
		return err
	}
	e.state.setCollateral(user, collateral)
	e.state.setBorrowed(user, borrowed)
	return nil
}

// CreateMarket onboards a new market. Markets begin active.
func (e *Engine) CreateMarket(asset string, params MarketParams) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	market, err := e.state.CreateMarket(asset, params, e.now())
	if err != nil {
		return nil, err
	}
	e.emit(MarketCreated{
		Asset:               market.Asset,
		CollateralFactorBps: market.CollateralFactorBps,
		BorrowRateBps:       market.BorrowRateBps,
		SupplyRateBps:       market.SupplyRateBps,
	})
	return market, nil
}

// SetMarketActive flips the user-operation gate for a market.
func (e *Engine) SetMarketActive(asset string, active bool) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	market, err := e.state.SetMarketActive(asset, active)
	if err != nil {
		return nil, err
	}
	e.emit(MarketStatus{Asset: market.Asset, Active: market.Active})
	return market, nil
}

// GetMarket returns a copy of the market record.
func (e *Engine) GetMarket(asset string) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.Market(asset)
}

// GetAccount returns a copy of the user's record for a supported asset. A
// pair that was never touched yields a zero record.
func (e *Engine) GetAccount(user crypto.Address, asset string) (*AccountRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.state.Market(asset); err != nil {
		return nil, err
	}
	return e.state.Account(user, asset), nil
}

// Assets lists supported asset identifiers in onboarding order.
func (e *Engine) Assets() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.Assets(), nil
}

// Markets returns copies of every market record in onboarding order.
func (e *Engine) Markets() ([]*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.Markets(), nil
}

// Position reports the account record together with its settled interest
// estimate and the total owed.
func (e *Engine) Position(user crypto.Address, asset string) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	market, err := e.state.Market(asset)
	if err != nil {
		return nil, err
	}
	record := e.state.Account(user, market.Asset)
	settled := settledInterest(record, market, e.now())
	return &Position{
		Account:         record,
		SettledInterest: settled,
		Owed:            new(big.Int).Add(record.Borrowed, settled),
	}, nil
}
