package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"openlend/lending"
	"openlend/state"
)

type createMarketParams struct {
	Asset               string `json:"asset"`
	CollateralFactorBps uint64 `json:"collateralFactorBps"`
	BorrowRateBps       uint64 `json:"borrowRateBps"`
	SupplyRateBps       uint64 `json:"supplyRateBps"`
}

type setMarketActiveParams struct {
	Asset  string `json:"asset"`
	Active bool   `json:"active"`
}

type accrueResult struct {
	Asset    string `json:"asset"`
	Interest string `json:"interest"`
}

type checkpointResult struct {
	Digest    string `json:"digest"`
	Timestamp int64  `json:"timestamp"`
}

type fundResult struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params createMarketParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return
	}
	market, err := s.engine.CreateMarket(asset, lending.MarketParams{
		CollateralFactorBps: params.CollateralFactorBps,
		BorrowRateBps:       params.BorrowRateBps,
		SupplyRateBps:       params.SupplyRateBps,
	})
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newMarketView(market))
}

func (s *Server) handleSetMarketActive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params setMarketActiveParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return
	}
	market, err := s.engine.SetMarketActive(asset, params.Active)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newMarketView(market))
}

// handleAccrue applies pooled interest on one market. The node also accrues
// on a timer; this lever exists for operators and tests.
func (s *Server) handleAccrue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
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
	interest, err := s.engine.Accrue(asset)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, accrueResult{Asset: lending.NormalizeAsset(asset), Interest: bigString(interest)})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireLedger(w, req) {
		return
	}
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.db == nil || s.vault == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "checkpoint store not configured", nil)
		return
	}
	snap := &state.Snapshot{
		Ledger:    s.engine.State(),
		Vault:     s.vault,
		Timestamp: time.Now().Unix(),
	}
	digest, err := state.Save(s.db, snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, checkpointResult{Digest: "0x" + hex.EncodeToString(digest), Timestamp: snap.Timestamp})
}

// handleFund mints faucet balances. Gated behind both the auth token and the
// dev mode flag so it can never leak into a production config.
func (s *Server) handleFund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.devMode {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "faucet requires dev mode", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "faucet vault not configured", nil)
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
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.vault.Mint(user, params.Asset, amount)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, fundResult{
		User:    user.String(),
		Asset:   lending.NormalizeAsset(params.Asset),
		Balance: bigString(balance),
	})
}
