package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"fluxrisk/core/events"
	nativecommon "fluxrisk/native/common"
	"fluxrisk/native/compliance"
	"fluxrisk/native/oracle"
	"fluxrisk/native/vault"
	"fluxrisk/observability"
	"fluxrisk/services/riskd/audit"
)

const moduleName = "riskd"

// Config captures the dependencies required to construct the server.
type Config struct {
	Vaults     *vault.Engine
	Compliance *compliance.Engine
	// Prices must already be staleness guarded.
	Prices oracle.PriceSource
	// Feed receives operator price updates. Nil disables the route.
	Feed PriceFeed
	// Custody backs the balance routes. Nil disables them.
	Custody        Custody
	Clock          nativecommon.Clock
	Stream         *events.Broadcaster
	Journal        *audit.Journal
	Auth           AuthConfig
	RateLimit      RateLimit
	OriginPatterns []string
	Logger         *slog.Logger
}

// Server exposes the vault and compliance engines over HTTP.
type Server struct {
	vaults         *vault.Engine
	compliance     *compliance.Engine
	prices         oracle.PriceSource
	feed           PriceFeed
	custody        Custody
	clock          nativecommon.Clock
	stream         *events.Broadcaster
	journal        *audit.Journal
	auth           *Authenticator
	limiter        *RateLimiter
	originPatterns []string
	logger         *slog.Logger
	metrics        *observability.RiskMetrics
	liquidations   metric.Int64Counter

	router http.Handler
}

// New constructs the server and its router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := cfg.OriginPatterns
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = nativecommon.SystemClock
	}
	s := &Server{
		vaults:         cfg.Vaults,
		compliance:     cfg.Compliance,
		prices:         cfg.Prices,
		feed:           cfg.Feed,
		custody:        cfg.Custody,
		clock:          clock,
		stream:         cfg.Stream,
		journal:        cfg.Journal,
		auth:           NewAuthenticator(cfg.Auth, logger),
		limiter:        NewRateLimiter(cfg.RateLimit),
		originPatterns: origins,
		logger:         logger,
		metrics:        observability.Risk(),
		liquidations:   liquidationCounter(logger),
	}
	s.router = s.buildRouter()
	return s
}

// liquidationCounter exports liquidations through the global meter provider
// so they reach the OTLP collector alongside the request spans.
func liquidationCounter(logger *slog.Logger) metric.Int64Counter {
	counter, err := otel.Meter("fluxrisk/riskd").Int64Counter("riskd.liquidations",
		metric.WithDescription("Liquidations settled through the API."),
		metric.WithUnit("{liquidation}"))
	if err != nil {
		logger.Warn("otel liquidation counter unavailable", slog.Any("error", err))
		return noop.Int64Counter{}
	}
	return counter
}

// Handler exposes the configured HTTP router wrapped for tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, moduleName)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)

		api.Get("/events/stream", s.handleEventStream)

		api.Route("/vaults", func(vr chi.Router) {
			vr.Get("/", s.handleListVaults)
			vr.With(s.auth.Middleware(ScopeVaultAdmin)).Post("/", s.handleCreateVault)
			vr.Get("/{id}", s.handleGetVault)
			vr.Get("/{id}/health", s.handleVaultHealth)
			vr.Post("/{id}/deposit", s.handleDeposit)
			vr.Post("/{id}/borrow", s.handleBorrow)
			vr.Post("/{id}/repay", s.handleRepay)
			vr.Post("/{id}/liquidate", s.handleLiquidate)
			vr.Group(func(admin chi.Router) {
				admin.Use(s.auth.Middleware(ScopeVaultAdmin))
				admin.Post("/{id}/risk-factor", s.handleUpdateRiskFactor)
				admin.Post("/{id}/risk-adjust", s.handleAdjustRisk)
				admin.Post("/{id}/freeze", s.handleFreeze)
				admin.Post("/{id}/unfreeze", s.handleUnfreeze)
			})
		})

		api.Route("/profiles/{addr}", func(pr chi.Router) {
			pr.Get("/", s.handleGetProfile)
			pr.Get("/eligibility", s.handleEligibility)
			pr.Get("/history", s.handleHistory)
			pr.Post("/transfer", s.handleTransfer)
			pr.With(s.auth.Middleware(ScopeComplianceAdmin)).Post("/", s.handleUpdateProfile)
		})

		if s.custody != nil {
			api.Route("/custody/{addr}", func(cr chi.Router) {
				cr.Get("/", s.handleBalance)
				cr.With(s.auth.Middleware(ScopeCustodyAdmin)).Post("/credit", s.handleCredit)
			})
		}

		api.With(s.auth.Middleware(ScopeComplianceAdmin)).Get("/audit", s.handleAudit)
		api.With(s.auth.Middleware(ScopeOracleAdmin)).Post("/oracle/prices/{asset}", s.handleSetPrice)
	})
	return r
}

// observe records per-route latency and outcome.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe(moduleName, route, status, time.Since(start))
	})
}
