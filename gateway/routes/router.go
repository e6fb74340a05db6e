// Package routes assembles the gateway's REST surface on top of the node's
// JSON-RPC API.
package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"openlend/gateway/middleware"
	"openlend/sdk/lend"
)

// Rate limit group ids understood by the router.
const (
	RateLimitRead  = "lend_read"
	RateLimitWrite = "lend_write"
)

// Config wires the bridge client and shared middleware into the router.
type Config struct {
	Client        *lend.Client
	Timeout       time.Duration
	Authenticator *middleware.Authenticator
	WriteScopes   []string
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Idempotency   *middleware.Idempotency
	CORS          middleware.CORSConfig
}

// New builds the gateway handler. Read routes sit behind the read rate
// limit; mutating routes additionally require the configured write scopes
// and pass through the idempotent replay cache.
func New(cfg Config) (http.Handler, error) {
	bridge, err := newLendingRoutes(cfg.Client, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("configure lending routes: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(sr chi.Router) {
		sr.Group(func(gr chi.Router) {
			if cfg.RateLimiter != nil {
				gr.Use(cfg.RateLimiter.Middleware(RateLimitRead))
			}
			if cfg.Authenticator != nil {
				gr.Use(cfg.Authenticator.Middleware())
			}
			if obs != nil {
				gr.Use(obs.Middleware("lend_read"))
			}
			bridge.mount(gr)
		})
		sr.Group(func(gr chi.Router) {
			if cfg.RateLimiter != nil {
				gr.Use(cfg.RateLimiter.Middleware(RateLimitWrite))
			}
			if cfg.Authenticator != nil {
				gr.Use(cfg.Authenticator.Middleware(cfg.WriteScopes...))
			}
			if obs != nil {
				gr.Use(obs.Middleware("lend_write"))
			}
			if cfg.Idempotency != nil {
				gr.Use(cfg.Idempotency.Middleware())
			}
			bridge.mountWrites(gr)
		})
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	return r, nil
}
