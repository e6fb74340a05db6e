package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"openlend/sdk/lend"
)

const lendingRequestLimit = 1 << 20 // 1 MiB

// lendingRoutes bridges REST handlers to the node's JSON-RPC API.
type lendingRoutes struct {
	client  *lend.Client
	timeout time.Duration
}

func newLendingRoutes(client *lend.Client, timeout time.Duration) (*lendingRoutes, error) {
	if client == nil {
		return nil, fmt.Errorf("nil node client")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &lendingRoutes{client: client, timeout: timeout}, nil
}

func (lr *lendingRoutes) mount(r chi.Router) {
	r.Get("/markets", lr.listMarkets)
	r.Post("/markets/get", lr.getMarket)
	r.Post("/positions/get", lr.getPosition)
	r.Get("/health/{address}", lr.healthFactor)
}

func (lr *lendingRoutes) mountWrites(r chi.Router) {
	r.Post("/deposit", lr.deposit)
	r.Post("/withdraw", lr.withdraw)
	r.Post("/borrow", lr.borrow)
	r.Post("/repay", lr.repay)
	r.Post("/liquidate", lr.liquidate)
}

func (lr *lendingRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, lr.timeout)
}

type assetRequest struct {
	Asset string `json:"asset"`
}

type positionRequest struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
}

type amountRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Amount          string `json:"amount"`
}

func (lr *lendingRoutes) listMarkets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	list, err := lr.client.ListMarkets(ctx)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (lr *lendingRoutes) getMarket(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	market, err := lr.client.GetMarket(ctx, req.Asset)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (lr *lendingRoutes) getPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	position, err := lr.client.GetPosition(ctx, req.User, req.Asset)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (lr *lendingRoutes) healthFactor(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		writeBadRequest(w, fmt.Errorf("address required"))
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	report, err := lr.client.HealthFactor(ctx, address)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (lr *lendingRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	lr.mutate(w, r, lr.client.Deposit)
}

func (lr *lendingRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	lr.mutate(w, r, lr.client.Withdraw)
}

func (lr *lendingRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	lr.mutate(w, r, lr.client.Borrow)
}

func (lr *lendingRoutes) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, string) (*lend.Position, error)) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	position, err := op(ctx, req.User, req.Asset, req.Amount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (lr *lendingRoutes) repay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	receipt, err := lr.client.Repay(ctx, req.User, req.Asset, req.Amount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (lr *lendingRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	receipt, err := lr.client.Liquidate(ctx, lend.LiquidationParams{
		Liquidator:      req.Liquidator,
		Borrower:        req.Borrower,
		DebtAsset:       req.DebtAsset,
		CollateralAsset: req.CollateralAsset,
		Amount:          req.Amount,
	})
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func decodeRequest(r *http.Request, out interface{}) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}()
	reader := http.MaxBytesReader(nil, r.Body, lendingRequestLimit)
	if err := json.NewDecoder(reader).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// writeUpstreamError translates node RPC failures into REST statuses. The
// typed client error carries the node's HTTP status, so domain rejections
// keep their shape instead of collapsing into 502.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var rpcErr *lend.Error
	if errors.As(err, &rpcErr) {
		status := rpcErr.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorResponse{Error: rpcErr.Message, Code: rpcErr.Code})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "node request timed out"})
		return
	}
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "node request failed"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
