package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"openlend/bank"
	"openlend/lending"
	"openlend/observability"
	"openlend/storage"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxOpsPerWindow = 30
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeLedgerRejected = -32030
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// ServerConfig carries the transport-level knobs for the JSON-RPC surface.
type ServerConfig struct {
	// AuthToken guards the admin methods. When empty the OPENLEND_RPC_TOKEN
	// environment variable is consulted; admin calls fail closed when neither
	// is set.
	AuthToken string
	// DevMode enables the lend_fund faucet.
	DevMode bool
	// TrustedProxies lists sources whose X-Forwarded-For header is honoured
	// when attributing requests to a client.
	TrustedProxies []string
}

// Server exposes the lending ledger over JSON-RPC 2.0.
type Server struct {
	engine *lending.Engine
	vault  *bank.Vault
	db     storage.Database
	hub    *EventHub

	mu             sync.Mutex
	rateLimiters   map[string]*rateLimiter
	authToken      string
	devMode        bool
	trustedProxies []string
}

// NewServer wires the RPC surface around an engine and its collaborators. The
// vault backs the dev faucet and the database receives checkpoint snapshots;
// either may be nil when the matching method is not served.
func NewServer(engine *lending.Engine, vault *bank.Vault, db storage.Database, cfg ServerConfig) *Server {
	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("OPENLEND_RPC_TOKEN"))
	}
	proxies := make([]string, 0, len(cfg.TrustedProxies))
	for _, proxy := range cfg.TrustedProxies {
		if trimmed := strings.TrimSpace(proxy); trimmed != "" {
			proxies = append(proxies, trimmed)
		}
	}
	return &Server{
		engine:         engine,
		vault:          vault,
		db:             db,
		hub:            NewEventHub(),
		rateLimiters:   make(map[string]*rateLimiter),
		authToken:      token,
		devMode:        cfg.DevMode,
		trustedProxies: proxies,
	}
}

// Hub returns the websocket fan-out so the node can register it as an event
// emitter alongside the journal and metrics collector.
func (s *Server) Hub() *EventHub {
	if s == nil {
		return nil
	}
	return s.hub
}

// Handler builds the HTTP mux serving JSON-RPC, the event stream and the
// Prometheus scrape endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves the RPC surface on addr until the listener fails.
func (s *Server) Start(addr string) error {
	slog.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// responseRecorder lets writeError surface the emitted code to the metrics
// instrumentation without changing the handler signatures.
type responseRecorder struct {
	http.ResponseWriter
	errorCode int
	hasError  bool
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if rec, ok := w.(*responseRecorder); ok {
		rec.hasError = true
		rec.errorCode = code
	}
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	rec := &responseRecorder{ResponseWriter: w}
	s.dispatch(rec, r, req)

	outcome := "ok"
	if rec.hasError {
		outcome = "error"
		observability.RPCMetrics().ObserveError(req.Method, rec.errorCode)
	}
	observability.RPCMetrics().ObserveRequest(req.Method, outcome, time.Since(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "lend_deposit":
		s.handleDeposit(w, r, req)
	case "lend_borrow":
		s.handleBorrow(w, r, req)
	case "lend_repay":
		s.handleRepay(w, r, req)
	case "lend_withdraw":
		s.handleWithdraw(w, r, req)
	case "lend_liquidate":
		s.handleLiquidate(w, r, req)
	case "lend_getMarket":
		s.handleGetMarket(w, r, req)
	case "lend_listMarkets":
		s.handleListMarkets(w, r, req)
	case "lend_listAssets":
		s.handleListAssets(w, r, req)
	case "lend_getAccount":
		s.handleGetAccount(w, r, req)
	case "lend_getPosition":
		s.handleGetPosition(w, r, req)
	case "lend_getHealthFactor":
		s.handleGetHealthFactor(w, r, req)
	case "lend_createMarket":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleCreateMarket(w, r, req)
	case "lend_setMarketActive":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetMarketActive(w, r, req)
	case "lend_accrue":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAccrue(w, r, req)
	case "lend_checkpoint":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleCheckpoint(w, r, req)
	case "lend_fund":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleFund(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// allowMutation meters the balance-changing methods per client source. Reads
// stay unmetered.
func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	source := s.clientSource(r)
	if !s.allowSource(source, time.Now()) {
		observability.RPCMetrics().ObserveThrottle(source)
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "request rate exceeded for source", source)
		return false
	}
	return true
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxOpsPerWindow {
		return false
	}
	limiter.count++
	return true
}

// clientSource attributes the request to a client address. X-Forwarded-For is
// only honoured when the direct peer is a configured trusted proxy.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" && s.trustedProxy(host) {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			if candidate := strings.TrimSpace(parts[0]); candidate != "" {
				return candidate
			}
		}
	}
	return host
}

func (s *Server) trustedProxy(host string) bool {
	for _, proxy := range s.trustedProxies {
		if proxy == host {
			return true
		}
	}
	return false
}

func (s *Server) requireLedger(w http.ResponseWriter, req *RPCRequest) bool {
	if s == nil || s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "lending ledger not available", nil)
		return false
	}
	return true
}
