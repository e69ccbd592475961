// Package hub implements the IPC message hub: session registry,
// envelope-validated routing, heartbeat liveness eviction, and the
// WebSocket gateway that bridges the two together.
package hub

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"ipchub/internal/hub/audit"
)

// Hub is the top-level runtime object: one per process. It owns the
// session registry, the router, the liveness monitor, and the HTTP
// gateway that terminates WebSocket connections.
type Hub struct {
	cfg     Config
	log     *slog.Logger
	reg     *registry
	router  *router
	gateway *Gateway
	monitor *livenessMonitor
	metrics *metrics
	audit   audit.Store
}

// New constructs a Hub wired from cfg. auditStore may be nil, in which
// case lifecycle events are recorded in a new in-memory store.
func New(cfg Config, log *slog.Logger, reg prometheus.Registerer, auditStore audit.Store) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if auditStore == nil {
		auditStore = audit.NewMemoryStore()
	}

	m := newMetrics(reg)
	sessions := newRegistry()
	rt := newRouter(log, sessions, m, auditStore)
	gw := NewGateway(log, sessions, rt, m, auditStore, cfg)
	mon := newLivenessMonitor(log, sessions, m, auditStore, cfg.SweepInterval, cfg.HeartbeatTimeout)

	return &Hub{
		cfg:     cfg,
		log:     log,
		reg:     sessions,
		router:  rt,
		gateway: gw,
		monitor: mon,
		metrics: m,
		audit:   auditStore,
	}
}

// HandleWS is the /ws endpoint handler.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.gateway.HandleWS(w, r)
}

// Run blocks running the liveness sweep until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.monitor.Run(gctx)
		return nil
	})
	return g.Wait()
}

// ActiveSessions returns the number of currently registered sessions.
func (h *Hub) ActiveSessions() int {
	return h.reg.count()
}

// Close releases the hub's audit store.
func (h *Hub) Close() error {
	if h.audit != nil {
		return h.audit.Close()
	}
	return nil
}
