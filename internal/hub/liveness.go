package hub

import (
	"context"
	"log/slog"
	"time"

	"ipchub/internal/hub/audit"
	"ipchub/internal/transport"
)

// livenessMonitor periodically evicts sessions that have not produced any
// inbound frame (including hb.ping) within timeout (spec §4.5).
type livenessMonitor struct {
	log      *slog.Logger
	reg      *registry
	metrics  *metrics
	audit    audit.Store
	interval time.Duration
	timeout  time.Duration
}

func newLivenessMonitor(log *slog.Logger, reg *registry, m *metrics, a audit.Store, interval, timeout time.Duration) *livenessMonitor {
	return &livenessMonitor{log: log, reg: reg, metrics: m, audit: a, interval: interval, timeout: timeout}
}

// Run blocks, sweeping at interval until ctx is done. Each sweep takes a
// registry snapshot, evaluates LastSeen locally (no lock held), and only
// re-acquires the registry to drop sessions found stale — so I/O (the
// transport Close call) never happens under lock.
func (l *livenessMonitor) Run(ctx context.Context) {
	t := time.NewTicker(l.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.sweep(ctx)
		}
	}
}

func (l *livenessMonitor) sweep(ctx context.Context) {
	now := time.Now()
	for name, sess := range l.reg.snapshot() {
		if sess.State() == stateClosing {
			continue
		}
		if now.Sub(sess.LastSeen()) < l.timeout {
			continue
		}

		l.log.Info("hub.liveness.evict", "service", name, "idle", now.Sub(sess.LastSeen()).String())
		l.metrics.incLivenessEviction()
		l.reg.drop(name, sess)
		sess.Close()
		_ = sess.transport.Close(transport.CodeHeartbeatTimeout, "heartbeat_timeout")

		if l.audit != nil {
			_ = l.audit.Record(ctx, audit.Event{
				Kind:    audit.EventLivenessEvicted,
				Service: name,
				At:      now.UTC(),
			})
		}
	}
}
