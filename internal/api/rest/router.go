package rest

import (
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/infrastructure/cache"
	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
	"github.com/caseproof/evidence-backend/internal/infrastructure/contentstore"
	"github.com/caseproof/evidence-backend/internal/infrastructure/events"
	"github.com/caseproof/evidence-backend/internal/infrastructure/queue"
	"github.com/caseproof/evidence-backend/internal/infrastructure/registry"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
	"github.com/caseproof/evidence-backend/internal/metrics"
	"github.com/caseproof/evidence-backend/internal/service/custody"
	"github.com/caseproof/evidence-backend/internal/service/gate"
	"github.com/caseproof/evidence-backend/internal/service/processor"
)

// Handlers bundles every dependency the REST surface needs.
type Handlers struct {
	auth      *gate.Authenticator
	gate      *gate.Gate
	processor *processor.Service
	custody   *custody.Service
	repos     *repository.Repositories
	store     *contentstore.Store
	cache     cache.Cache
	bus       *events.Bus
	queue     *queue.Queue
	services  *registry.Registry
	window    *metrics.WindowCollector
	prom      *promclient.Registry
	cfg       *config.Config
	logger    *zap.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(
	auth *gate.Authenticator,
	g *gate.Gate,
	proc *processor.Service,
	cust *custody.Service,
	repos *repository.Repositories,
	store *contentstore.Store,
	c cache.Cache,
	bus *events.Bus,
	q *queue.Queue,
	services *registry.Registry,
	window *metrics.WindowCollector,
	prom *promclient.Registry,
	cfg *config.Config,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		auth:      auth,
		gate:      g,
		processor: proc,
		custody:   cust,
		repos:     repos,
		store:     store,
		cache:     c,
		bus:       bus,
		queue:     q,
		services:  services,
		window:    window,
		prom:      prom,
		cfg:       cfg,
		logger:    logger,
	}
}

// Router assembles the route table behind the middleware chain.
func (h *Handlers) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)
	if h.prom != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.prom, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/auth/signup", h.handleSignup)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)

	mux.HandleFunc("POST /api/keys", h.authenticated(h.handleCreateKey))
	mux.HandleFunc("GET /api/keys", h.authenticated(h.handleListKeys))
	mux.HandleFunc("DELETE /api/keys/{id}", h.authenticated(h.handleRevokeKey))

	mux.HandleFunc("POST /api/evidence/upload", h.authenticated(h.handleUpload))
	mux.HandleFunc("GET /api/evidence", h.authenticated(h.handleListEvidence))
	mux.HandleFunc("GET /api/evidence/{id}", h.authenticated(h.handleGetEvidence))
	mux.HandleFunc("POST /api/evidence/{id}/process", h.authenticated(h.handleProcess))
	mux.HandleFunc("GET /api/evidence/{id}/custody", h.authenticated(h.handleCustody))

	mux.HandleFunc("GET /api/analysis/{id}", h.authenticated(h.handleGetAnalysis))
	mux.HandleFunc("GET /api/analysis/{id}/report", h.authenticated(h.handleReport))
	mux.HandleFunc("POST /api/analysis/{id}/export", h.authenticated(h.handleExport))

	mux.HandleFunc("GET /api/rate-limit/status", h.authenticated(h.handleRateLimitStatus))
	mux.HandleFunc("GET /api/events", h.authenticated(h.handleEventStream))

	mux.HandleFunc("GET /api/audit/verify", h.adminOnly(h.handleAuditVerify))
	mux.HandleFunc("POST /api/audit/corrections", h.adminOnly(h.handleAuditCorrection))
	mux.HandleFunc("GET /api/stats", h.adminOnly(h.handleStats))

	var handler http.Handler = mux
	handler = withRecovery(h.logger)(handler)
	handler = withLogging(h.logger)(handler)
	handler = withRequestID(handler)
	return handler
}
