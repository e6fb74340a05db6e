package lending

import (
	"math/big"
	"strconv"
	"strings"

	"openlend/crypto"
)

// Event type identifiers attached to every emitted payload.
const (
	TypeInterestAccrued = "lending.interest_accrued"
	TypeDeposited       = "lending.deposited"
	TypeBorrowed        = "lending.borrowed"
	TypeRepaid          = "lending.repaid"
	TypeWithdrawn       = "lending.withdrawn"
	TypeLiquidated      = "lending.liquidated"
	TypeMarketCreated   = "lending.market_created"
	TypeMarketStatus    = "lending.market_status"
)

// Event is the notification payload surfaced to external observers.
type Event interface {
	EventType() string
	Attributes() map[string]string
}

// Emitter receives engine events synchronously. Implementations must not
// block; emitter failures are invisible to the engine.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans events out to every non-nil sink in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(event Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(event)
		}
	}
}

// InterestAccrued records a pooled interest application on a market. The
// interest amount may be zero when only the accrual timestamp advanced.
type InterestAccrued struct {
	Asset     string
	Interest  *big.Int
	Timestamp int64
}

// EventType satisfies the Event interface.
func (InterestAccrued) EventType() string { return TypeInterestAccrued }

// Attributes flattens the payload for transport surfaces.
func (e InterestAccrued) Attributes() map[string]string {
	attrs := map[string]string{}
	if asset := strings.TrimSpace(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	if e.Interest != nil {
		attrs["interest"] = e.Interest.String()
	}
	attrs["timestamp"] = strconv.FormatInt(e.Timestamp, 10)
	return attrs
}

// Deposited records a successful deposit.
type Deposited struct {
	User   crypto.Address
	Asset  string
	Amount *big.Int
}

func (Deposited) EventType() string { return TypeDeposited }

func (e Deposited) Attributes() map[string]string {
	return userAmountAttributes(e.User, e.Asset, e.Amount)
}

// Borrowed records a successful borrow.
type Borrowed struct {
	User   crypto.Address
	Asset  string
	Amount *big.Int
}

func (Borrowed) EventType() string { return TypeBorrowed }

func (e Borrowed) Attributes() map[string]string {
	return userAmountAttributes(e.User, e.Asset, e.Amount)
}

// Withdrawn records a successful withdrawal.
type Withdrawn struct {
	User   crypto.Address
	Asset  string
	Amount *big.Int
}

func (Withdrawn) EventType() string { return TypeWithdrawn }

func (e Withdrawn) Attributes() map[string]string {
	return userAmountAttributes(e.User, e.Asset, e.Amount)
}

// Repaid records a repayment split into its principal and interest portions.
type Repaid struct {
	User      crypto.Address
	Asset     string
	Amount    *big.Int
	Principal *big.Int
	Interest  *big.Int
	Remaining *big.Int
}

func (Repaid) EventType() string { return TypeRepaid }

func (e Repaid) Attributes() map[string]string {
	attrs := userAmountAttributes(e.User, e.Asset, e.Amount)
	if e.Principal != nil {
		attrs["principal"] = e.Principal.String()
	}
	if e.Interest != nil {
		attrs["interest"] = e.Interest.String()
	}
	if e.Remaining != nil {
		attrs["remaining"] = e.Remaining.String()
	}
	return attrs
}

// Liquidated records a seize/repay transition.
type Liquidated struct {
	Liquidator      crypto.Address
	Borrower        crypto.Address
	DebtAsset       string
	CollateralAsset string
	Repaid          *big.Int
	Seized          *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Attributes() map[string]string {
	attrs := map[string]string{}
	if !e.Liquidator.IsZero() {
		attrs["liquidator"] = e.Liquidator.String()
	}
	if !e.Borrower.IsZero() {
		attrs["borrower"] = e.Borrower.String()
	}
	if asset := strings.TrimSpace(e.DebtAsset); asset != "" {
		attrs["debtAsset"] = asset
	}
	if asset := strings.TrimSpace(e.CollateralAsset); asset != "" {
		attrs["collateralAsset"] = asset
	}
	if e.Repaid != nil {
		attrs["repaid"] = e.Repaid.String()
	}
	if e.Seized != nil {
		attrs["seized"] = e.Seized.String()
	}
	return attrs
}

// MarketCreated records a market onboarding.
type MarketCreated struct {
	Asset               string
	CollateralFactorBps uint64
	BorrowRateBps       uint64
	SupplyRateBps       uint64
}

func (MarketCreated) EventType() string { return TypeMarketCreated }

func (e MarketCreated) Attributes() map[string]string {
	attrs := map[string]string{}
	if asset := strings.TrimSpace(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["collateralFactorBps"] = strconv.FormatUint(e.CollateralFactorBps, 10)
	attrs["borrowRateBps"] = strconv.FormatUint(e.BorrowRateBps, 10)
	attrs["supplyRateBps"] = strconv.FormatUint(e.SupplyRateBps, 10)
	return attrs
}

// MarketStatus records an activation toggle.
type MarketStatus struct {
	Asset  string
	Active bool
}

func (MarketStatus) EventType() string { return TypeMarketStatus }

func (e MarketStatus) Attributes() map[string]string {
	attrs := map[string]string{}
	if asset := strings.TrimSpace(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["active"] = strconv.FormatBool(e.Active)
	return attrs
}

func userAmountAttributes(user crypto.Address, asset string, amount *big.Int) map[string]string {
	attrs := map[string]string{}
	if !user.IsZero() {
		attrs["user"] = user.String()
	}
	if trimmed := strings.TrimSpace(asset); trimmed != "" {
		attrs["asset"] = trimmed
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return attrs
}
