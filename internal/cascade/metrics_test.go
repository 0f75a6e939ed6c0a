package cascade

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relabs-tech/family_locator/internal/location"
	"github.com/relabs-tech/family_locator/internal/observability"
	"github.com/relabs-tech/family_locator/internal/positioning"
	"github.com/relabs-tech/family_locator/internal/provider"
)

func TestCascadeRecordsMetrics(t *testing.T) {
	m, err := observability.NewCascadeMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCascadeMetrics: %v", err)
	}
	svc := newFakeService(positioning.GPS, positioning.Network)
	gate := &fakeGate{svc: svc, perms: map[provider.Permission]bool{provider.FineLocation: true}}
	clock := &manualClock{}
	sink := newRecordingSink()
	c := New(Config{
		Service:    svc,
		Gate:       gate,
		Telephony:  someCell,
		Geolocator: newFakeGeolocator(),
		Clock:      clock,
		Metrics:    m,
	})
	defer c.Close()

	c.Start(location.OneShot, sink)
	c.Status()
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("active sessions = %v, want 1", got)
	}
	clock.last(t).fire()
	c.Status()
	svc.emit(positioning.Network, at(1, 2))
	sink.expect(t, "fix")
	c.Start(location.AutoEnable, sink) // drops the continuation, then starts
	c.Start(location.AutoEnable, sink) // rejected

	if got := testutil.ToFloat64(m.StageAttempts.WithLabelValues("gps", "StageTimeout")); got != 1 {
		t.Fatalf("gps timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StageAttempts.WithLabelValues("network", "fix")); got != 1 {
		t.Fatalf("network fixes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Fixes.WithLabelValues("network")); got != 1 {
		t.Fatalf("network fix count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Sessions.WithLabelValues("one_shot", "fix")); got != 1 {
		t.Fatalf("one-shot sessions ending in a fix = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Sessions.WithLabelValues("auto_enable", "rejected")); got != 1 {
		t.Fatalf("rejected auto sessions = %v, want 1", got)
	}
}
