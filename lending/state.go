package lending

import (
	"fmt"
	"math/big"

	"openlend/crypto"
)

// State is the single ledger context owning every market and account record.
// Markets and accounts iterate in insertion order so reporting stays
// deterministic. The per-user value aggregates are maintained incrementally
// by the engine and can be re-derived with Recompute for auditing.
type State struct {
	markets     map[string]*Market
	marketOrder []string

	accounts     map[string]*AccountRecord
	accountOrder []string

	users     map[string]crypto.Address
	userOrder []string

	collateral map[string]*big.Int
	borrowed   map[string]*big.Int
}

// NewState constructs an empty ledger.
func NewState() *State {
	return &State{
		markets:    make(map[string]*Market),
		accounts:   make(map[string]*AccountRecord),
		users:      make(map[string]crypto.Address),
		collateral: make(map[string]*big.Int),
		borrowed:   make(map[string]*big.Int),
	}
}

func userKey(addr crypto.Address) string {
	return string(addr.Bytes())
}

func accountKey(addr crypto.Address, asset string) string {
	return string(addr.Bytes()) + "/" + asset
}

// CreateMarket onboards a market for the asset and returns a copy of the new
// record. Markets start active.
func (s *State) CreateMarket(asset string, params MarketParams, now int64) (*Market, error) {
	if s == nil {
		return nil, ErrNilState
	}
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return nil, fmt.Errorf("lending: asset identifier must not be empty")
	}
	if _, ok := s.markets[normalized]; ok {
		return nil, ErrMarketExists
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	market := &Market{
		Asset:               normalized,
		TotalDeposited:      big.NewInt(0),
		TotalBorrowed:       big.NewInt(0),
		CollateralFactorBps: params.CollateralFactorBps,
		BorrowRateBps:       params.BorrowRateBps,
		SupplyRateBps:       params.SupplyRateBps,
		LastAccrualTime:     now,
		Active:              true,
	}
	s.markets[normalized] = market
	s.marketOrder = append(s.marketOrder, normalized)
	return market.Clone(), nil
}

// SetMarketActive toggles the market's gate for user operations and returns a
// copy of the updated record.
func (s *State) SetMarketActive(asset string, active bool) (*Market, error) {
	if s == nil {
		return nil, ErrNilState
	}
	market, ok := s.markets[NormalizeAsset(asset)]
	if !ok {
		return nil, ErrMarketNotFound
	}
	market.Active = active
	return market.Clone(), nil
}

// Market returns a copy of the market record for the asset.
func (s *State) Market(asset string) (*Market, error) {
	if s == nil {
		return nil, ErrNilState
	}
	market, ok := s.markets[NormalizeAsset(asset)]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return market.Clone(), nil
}

// Markets returns copies of every market in onboarding order.
func (s *State) Markets() []*Market {
	if s == nil {
		return nil
	}
	out := make([]*Market, 0, len(s.marketOrder))
	for _, asset := range s.marketOrder {
		out = append(out, s.markets[asset].Clone())
	}
	return out
}

// Assets lists the supported asset identifiers in onboarding order.
func (s *State) Assets() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.marketOrder...)
}

// Account returns a copy of the record for the (user, asset) pair. Records
// are created implicitly on first use, so an untouched pair yields a zero
// record.
func (s *State) Account(user crypto.Address, asset string) *AccountRecord {
	normalized := NormalizeAsset(asset)
	if s != nil {
		if rec, ok := s.accounts[accountKey(user, normalized)]; ok {
			return rec.Clone()
		}
	}
	return &AccountRecord{
		User:      user,
		Asset:     normalized,
		Deposited: big.NewInt(0),
		Borrowed:  big.NewInt(0),
	}
}

// Accounts returns copies of every account record in first-touch order.
func (s *State) Accounts() []*AccountRecord {
	if s == nil {
		return nil
	}
	out := make([]*AccountRecord, 0, len(s.accountOrder))
	for _, key := range s.accountOrder {
		out = append(out, s.accounts[key].Clone())
	}
	return out
}

// Users lists every account owner in first-touch order.
func (s *State) Users() []crypto.Address {
	if s == nil {
		return nil
	}
	out := make([]crypto.Address, 0, len(s.userOrder))
	for _, key := range s.userOrder {
		out = append(out, s.users[key])
	}
	return out
}

// CollateralValue returns the user's cached collateral aggregate in the
// common value unit.
func (s *State) CollateralValue(user crypto.Address) *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	return cloneBig(s.collateral[userKey(user)])
}

// BorrowValue returns the user's cached borrow aggregate in the common value
// unit.
func (s *State) BorrowValue(user crypto.Address) *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	return cloneBig(s.borrowed[userKey(user)])
}

// UserAggregates snapshots the cached aggregates in first-touch order.
func (s *State) UserAggregates() []UserAggregate {
	if s == nil {
		return nil
	}
	out := make([]UserAggregate, 0, len(s.userOrder))
	for _, key := range s.userOrder {
		addr := s.users[key]
		out = append(out, UserAggregate{
			User:       addr,
			Collateral: cloneBig(s.collateral[key]),
			Borrowed:   cloneBig(s.borrowed[key]),
		})
	}
	return out
}

// Recompute re-derives the user's aggregates by full scan through the oracle.
// It never mutates the cached values.
func (s *State) Recompute(user crypto.Address, oracle ValueOracle) (*big.Int, *big.Int, error) {
	if s == nil {
		return big.NewInt(0), big.NewInt(0), nil
	}
	if oracle == nil {
		return nil, nil, ErrNilOracle
	}
	collateral := big.NewInt(0)
	borrowed := big.NewInt(0)
	for _, key := range s.accountOrder {
		rec := s.accounts[key]
		if !rec.User.Equal(user) {
			continue
		}
		if rec.Deposited != nil && rec.Deposited.Sign() > 0 {
			value, err := oracle.ValueOf(rec.Asset, rec.Deposited)
			if err != nil {
				return nil, nil, err
			}
			collateral.Add(collateral, value)
		}
		if rec.Borrowed != nil && rec.Borrowed.Sign() > 0 {
			value, err := oracle.ValueOf(rec.Asset, rec.Borrowed)
			if err != nil {
				return nil, nil, err
			}
			borrowed.Add(borrowed, value)
		}
	}
	return collateral, borrowed, nil
}

// RestoreMarket inserts a previously persisted market record.
func (s *State) RestoreMarket(market *Market) error {
	if s == nil {
		return ErrNilState
	}
	if market == nil {
		return fmt.Errorf("lending: market record must not be nil")
	}
	normalized := NormalizeAsset(market.Asset)
	if normalized == "" {
		return fmt.Errorf("lending: asset identifier must not be empty")
	}
	if _, ok := s.markets[normalized]; ok {
		return ErrMarketExists
	}
	restored := market.Clone()
	restored.Asset = normalized
	s.markets[normalized] = restored
	s.marketOrder = append(s.marketOrder, normalized)
	return nil
}

// RestoreAccount inserts a previously persisted account record, replacing any
// existing record for the pair.
func (s *State) RestoreAccount(rec *AccountRecord) error {
	if s == nil {
		return ErrNilState
	}
	if rec == nil {
		return fmt.Errorf("lending: account record must not be nil")
	}
	restored := rec.Clone()
	restored.Asset = NormalizeAsset(restored.Asset)
	s.putAccount(restored)
	return nil
}

// RestoreAggregates seeds the cached value aggregates for a user.
func (s *State) RestoreAggregates(user crypto.Address, collateral, borrowed *big.Int) {
	if s == nil {
		return
	}
	s.setCollateral(user, cloneBig(collateral))
	s.setBorrowed(user, cloneBig(borrowed))
}

// Commit helpers used by the engine after an operation's working copies are
// final. They cannot fail.

func (s *State) putMarket(market *Market) {
	if _, ok := s.markets[market.Asset]; !ok {
		s.marketOrder = append(s.marketOrder, market.Asset)
	}
	s.markets[market.Asset] = market
}

func (s *State) putAccount(rec *AccountRecord) {
	key := accountKey(rec.User, rec.Asset)
	if _, ok := s.accounts[key]; !ok {
		s.accountOrder = append(s.accountOrder, key)
	}
	s.accounts[key] = rec
	s.touchUser(rec.User)
}

func (s *State) touchUser(user crypto.Address) {
	key := userKey(user)
	if _, ok := s.users[key]; ok {
		return
	}
	s.users[key] = user
	s.userOrder = append(s.userOrder, key)
}

func (s *State) setCollateral(user crypto.Address, value *big.Int) {
	s.touchUser(user)
	if value == nil || value.Sign() < 0 {
		value = big.NewInt(0)
	}
	s.collateral[userKey(user)] = value
}

func (s *State) setBorrowed(user crypto.Address, value *big.Int) {
	s.touchUser(user)
	if value == nil || value.Sign() < 0 {
		value = big.NewInt(0)
	}
	s.borrowed[userKey(user)] = value
}
