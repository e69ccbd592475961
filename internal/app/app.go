// Package app wires the hub server runtime: config, logging, HTTP
// routes, and the IPC hub itself.
//
// It is intentionally small and deterministic to keep CI gates strict
// and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"ipchub/internal/hub"
	"ipchub/internal/hub/audit"
)

// App is the hub server runtime: it owns HTTP server wiring and the
// hub itself.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	audit audit.Store
	hub   *hub.Hub
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	if err := ValidateListenAddr(cfg.HTTPAddr); err != nil {
		return nil, err
	}

	var dbPool *pgxpool.Pool
	var dbEnabled bool
	var auditStore audit.Store

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Info("db.disabled.inmemory_audit")
		auditStore = audit.NewMemoryStore()
	} else {
		pool, err := NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		pg := audit.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_audit")
		dbPool = pool
		dbEnabled = true
		auditStore = pg
	}

	h := hub.New(hub.Config{
		HTTPAddr:         cfg.HTTPAddr,
		AuthTimeout:      cfg.AuthTimeout,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		SweepInterval:    cfg.SweepInterval,
		SendQueueSize:    cfg.SendQueueSize,
		DatabaseURL:      cfg.DatabaseURL,
	}, log, prometheus.DefaultRegisterer, auditStore)

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		audit:     auditStore,
		hub:       h,
	}, nil
}

// Run starts the HTTP server and the hub's background workers, blocking
// until context cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.hub)

	handler := WithSecurityHeaders(WithRequestLogging(mux, a.log))
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		handler = WithCORS(handler, a.cfg, a.log)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled,
		"base", base, "ws", wsBaseURL(base)+"/ws")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	hubErrCh := make(chan error, 1)
	go func() {
		if err := a.hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			hubErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	case err := <-hubErrCh:
		a.log.Error("hub.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.hub.Close(); err != nil {
		a.log.Error("hub.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL derives a locally-dialable HTTP base URL from a listen
// address. Wildcard binds (0.0.0.0, [::]) are normalized to the
// loopback address since they aren't directly dialable.
func runtimeBaseURL(addr string) string {
	host, port := splitHostPortLoose(addr)
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return "http://" + host
	}
	return "http://" + host + ":" + port
}

// wsBaseURL converts an http(s) base URL into its ws(s) equivalent. If
// base has no scheme, ws:// is assumed.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "wss://"), strings.HasPrefix(base, "ws://"):
		return base
	default:
		return "ws://" + base
	}
}

// splitHostPortLoose splits addr into host and port, tolerating
// bracketed IPv6 hosts and bare "[::]"-style wildcard forms.
func splitHostPortLoose(addr string) (host, port string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", ""
	}

	if strings.HasPrefix(addr, "[") {
		end := strings.Index(addr, "]")
		if end == -1 {
			return addr, ""
		}
		host = addr[1:end]
		rest := addr[end+1:]
		rest = strings.TrimPrefix(rest, ":")
		return host, rest
	}

	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		return addr, ""
	}
	return addr[:idx], addr[idx+1:]
}
