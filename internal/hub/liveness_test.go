package hub

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ipchub/internal/hub/audit"
	"ipchub/internal/transport"
)

type closeRecordingTransport struct {
	noopTransport
	code   atomic.Int32
	closed atomic.Bool
}

func (t *closeRecordingTransport) Close(code int, reason string) error {
	t.code.Store(int32(code))
	t.closed.Store(true)
	return nil
}

func TestLivenessSweepEvictsStaleSession(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := newRegistry()
	m := newMetrics(prometheus.NewRegistry())
	auditStore := audit.NewMemoryStore()

	tr := &closeRecordingTransport{}
	sess := newSession(tr, 4)
	sess.touch(time.Now().Add(-1 * time.Hour))
	reg.register("stale-peer", sess)

	mon := newLivenessMonitor(log, reg, m, auditStore, time.Second, 20*time.Second)
	mon.sweep(context.Background())

	if _, ok := reg.lookup("stale-peer"); ok {
		t.Fatalf("expected stale-peer to be evicted from registry")
	}
	if !tr.closed.Load() {
		t.Fatalf("expected transport to be closed")
	}
	if int(tr.code.Load()) != transport.CodeHeartbeatTimeout {
		t.Fatalf("expected heartbeat_timeout close code, got %d", tr.code.Load())
	}

	recent := auditStore.Recent()
	if len(recent) != 1 || recent[0].Kind != audit.EventLivenessEvicted {
		t.Fatalf("expected one liveness_evicted audit event, got %+v", recent)
	}
}

func TestLivenessSweepSparesFreshSession(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := newRegistry()
	m := newMetrics(prometheus.NewRegistry())

	sess := newSession(noopTransport{}, 4)
	sess.touch(time.Now())
	reg.register("fresh-peer", sess)

	mon := newLivenessMonitor(log, reg, m, nil, time.Second, 20*time.Second)
	mon.sweep(context.Background())

	if _, ok := reg.lookup("fresh-peer"); !ok {
		t.Fatalf("expected fresh-peer to remain registered")
	}
}
