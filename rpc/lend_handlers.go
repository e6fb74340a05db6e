package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"openlend/crypto"
	"openlend/lending"
)

type lendAmountParams struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount,omitempty"`
}

type lendAccountParams struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
}

type lendLiquidateParams struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Amount          string `json:"amount"`
}

type marketView struct {
	Asset               string `json:"asset"`
	TotalDeposited      string `json:"totalDeposited"`
	TotalBorrowed       string `json:"totalBorrowed"`
	CollateralFactorBps uint64 `json:"collateralFactorBps"`
	BorrowRateBps       uint64 `json:"borrowRateBps"`
	SupplyRateBps       uint64 `json:"supplyRateBps"`
	LastAccrualTime     int64  `json:"lastAccrualTime"`
	Active              bool   `json:"active"`
}

type accountView struct {
	User             string `json:"user"`
	Asset            string `json:"asset"`
	Deposited        string `json:"deposited"`
	Borrowed         string `json:"borrowed"`
	LastInterestTime int64  `json:"lastInterestTime"`
}

type positionView struct {
	Account         accountView `json:"account"`
	SettledInterest string      `json:"settledInterest"`
	Owed            string      `json:"owed"`
}

type riskView struct {
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	MinHealthFactorBps      uint64 `json:"minHealthFactorBps"`
}

type lendMarketsResult struct {
	Markets        []marketView `json:"markets"`
	RiskParameters riskView     `json:"riskParameters"`
}

type lendAssetsResult struct {
	Assets []string `json:"assets"`
}

type lendRepayResult struct {
	Repaid   string       `json:"repaid"`
	Position positionView `json:"position"`
}

type lendLiquidateResult struct {
	Repaid string `json:"repaid"`
	Seized string `json:"seized"`
}

type healthFactorResult struct {
	User            string `json:"user"`
	HealthFactorBps string `json:"healthFactorBps,omitempty"`
	Infinite        bool   `json:"infinite"`
	Liquidatable    bool   `json:"liquidatable"`
	CollateralValue string `json:"collateralValue"`
	BorrowValue     string `json:"borrowValue"`
	MaxBorrowValue  string `json:"maxBorrowValue"`
}

func bigString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func newMarketView(m *lending.Market) marketView {
	if m == nil {
		return marketView{}
	}
	return marketView{
		Asset:               m.Asset,
		TotalDeposited:      bigString(m.TotalDeposited),
		TotalBorrowed:       bigString(m.TotalBorrowed),
		CollateralFactorBps: m.CollateralFactorBps,
		BorrowRateBps:       m.BorrowRateBps,
		SupplyRateBps:       m.SupplyRateBps,
		LastAccrualTime:     m.LastAccrualTime,
		Active:              m.Active,
	}
}

func newAccountView(record *lending.AccountRecord) accountView {
	if record == nil {
		return accountView{}
	}
	return accountView{
		User:             record.User.String(),
		Asset:            record.Asset,
		Deposited:        bigString(record.Deposited),
		Borrowed:         bigString(record.Borrowed),
		LastInterestTime: record.LastInterestTime,
	}
}

func newPositionView(position *lending.Position) positionView {
	if position == nil {
		return positionView{}
	}
	return positionView{
		Account:         newAccountView(position.Account),
		SettledInterest: bigString(position.SettledInterest),
		Owed:            bigString(position.Owed),
	}
}

func newRiskView(params lending.RiskParameters) riskView {
	return riskView{
		LiquidationThresholdBps: params.LiquidationThresholdBps,
		LiquidationBonusBps:     params.LiquidationBonusBps,
		MinHealthFactorBps:      params.MinHealthFactorBps,
	}
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func decodeUser(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return addr, nil
}

// decodeAmountParams handles the shared {user, asset, amount} payload of the
// balance-changing methods.
func (s *Server) decodeAmountParams(w http.ResponseWriter, req *RPCRequest) (crypto.Address, string, *big.Int, bool) {
	var zero crypto.Address
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return zero, "", nil, false
	}
	var params lendAmountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return zero, "", nil, false
	}
	user, err := decodeUser("user", params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return zero, "", nil, false
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return zero, "", nil, false
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return zero, "", nil, false
	}
	return user, asset, amount, true
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if !s.allowMutation(w, r, req) {
		return
	}
	user, asset, amount, ok := s.decodeAmountParams(w, req)
	if !ok {
		return
	}
	if err := s.engine.Deposit(user, asset, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	position, err := s.engine.Position(user, asset)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newPositionView(position))
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if !s.allowMutation(w, r, req) {
		return
	}
	user, asset, amount, ok := s.decodeAmountParams(w, req)
	if !ok {
		return
	}
	if err := s.engine.Borrow(user, asset, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	position, err := s.engine.Position(user, asset)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newPositionView(position))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if !s.allowMutation(w, r, req) {
		return
	}
	user, asset, amount, ok := s.decodeAmountParams(w, req)
	if !ok {
		return
	}
	if err := s.engine.Withdraw(user, asset, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	position, err := s.engine.Position(user, asset)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newPositionView(position))
}

// handleRepay settles debt. An omitted or empty amount repays everything owed
// including settled interest.
func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if !s.allowMutation(w, r, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendAmountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	user, err := decodeUser("user", params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return
	}
	amount := big.NewInt(0)
	if strings.TrimSpace(params.Amount) != "" {
		amount, err = parseAmount(params.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	repaid, err := s.engine.Repay(user, asset, amount)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	position, err := s.engine.Position(user, asset)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendRepayResult{Repaid: bigString(repaid), Position: newPositionView(position)})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if !s.allowMutation(w, r, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendLiquidateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	liquidator, err := decodeUser("liquidator", params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := decodeUser("borrower", params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	debtAsset := strings.TrimSpace(params.DebtAsset)
	collateralAsset := strings.TrimSpace(params.CollateralAsset)
	if debtAsset == "" || collateralAsset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "debtAsset and collateralAsset required", nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	repaid, seized, err := s.engine.Liquidate(liquidator, borrower, debtAsset, collateralAsset, amount)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendLiquidateResult{Repaid: bigString(repaid), Seized: bigString(seized)})
}

// handleGetMarket accepts either a bare asset string or an {asset} object.
func (s *Server) handleGetMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected asset parameter", nil)
		return
	}
	var asset string
	if err := json.Unmarshal(req.Params[0], &asset); err != nil {
		var wrapped struct {
			Asset string `json:"asset"`
		}
		if err := json.Unmarshal(req.Params[0], &wrapped); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset parameter", err.Error())
			return
		}
		asset = wrapped.Asset
	}
	if strings.TrimSpace(asset) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return
	}
	market, err := s.engine.GetMarket(asset)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newMarketView(market))
}

func (s *Server) handleListMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	markets, err := s.engine.Markets()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	views := make([]marketView, 0, len(markets))
	for _, market := range markets {
		views = append(views, newMarketView(market))
	}
	writeResult(w, req.ID, lendMarketsResult{Markets: views, RiskParameters: newRiskView(s.engine.Params())})
}

func (s *Server) handleListAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	assets, err := s.engine.Assets()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	if assets == nil {
		assets = []string{}
	}
	writeResult(w, req.ID, lendAssetsResult{Assets: assets})
}

func (s *Server) decodeAccountParams(w http.ResponseWriter, req *RPCRequest) (crypto.Address, string, bool) {
	var zero crypto.Address
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return zero, "", false
	}
	var params lendAccountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return zero, "", false
	}
	user, err := decodeUser("user", params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return zero, "", false
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return zero, "", false
	}
	return user, asset, true
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	user, asset, ok := s.decodeAccountParams(w, req)
	if !ok {
		return
	}
	record, err := s.engine.GetAccount(user, asset)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newAccountView(record))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	user, asset, ok := s.decodeAccountParams(w, req)
	if !ok {
		return
	}
	position, err := s.engine.Position(user, asset)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newPositionView(position))
}

// handleGetHealthFactor accepts either a bare bech32 address or a {user}
// object and reports the cached aggregates alongside the derived health.
func (s *Server) handleGetHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected user parameter", nil)
		return
	}
	var raw string
	if err := json.Unmarshal(req.Params[0], &raw); err != nil {
		var wrapped struct {
			User string `json:"user"`
		}
		if err := json.Unmarshal(req.Params[0], &wrapped); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user parameter", err.Error())
			return
		}
		raw = wrapped.User
	}
	user, err := decodeUser("user", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	hf, finite, err := s.engine.HealthFactor(user)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	liquidatable, err := s.engine.Liquidatable(user)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	collateral, err := s.engine.CollateralValue(user)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	borrowed, err := s.engine.BorrowValue(user)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	maxBorrow, err := s.engine.MaxBorrowValue(user)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}

	result := healthFactorResult{
		User:            user.String(),
		Infinite:        !finite,
		Liquidatable:    liquidatable,
		CollateralValue: bigString(collateral),
		BorrowValue:     bigString(borrowed),
		MaxBorrowValue:  bigString(maxBorrow),
	}
	if finite {
		result.HealthFactorBps = bigString(hf)
	}
	writeResult(w, req.ID, result)
}
