package cascade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
	"github.com/relabs-tech/family_locator/internal/positioning"
	"github.com/relabs-tech/family_locator/internal/provider"
)

// fakeService is a positioning.Service that lets the test drive listeners.
type fakeService struct {
	mu           sync.Mutex
	next         positioning.Handle
	subs         map[positioning.Handle]fakeSub
	enabled      map[positioning.ProviderID]bool
	lastKnown    map[positioning.ProviderID]location.Fix
	subscribeErr map[positioning.ProviderID]error
	lastListener map[positioning.ProviderID]positioning.Listener
	subscribes   []fakeSub
	maxActive    int
}

type fakeSub struct {
	id          positioning.ProviderID
	minInterval time.Duration
	minDistance float64
	listener    positioning.Listener
}

func newFakeService(enabled ...positioning.ProviderID) *fakeService {
	s := &fakeService{
		subs:         make(map[positioning.Handle]fakeSub),
		enabled:      make(map[positioning.ProviderID]bool),
		lastKnown:    make(map[positioning.ProviderID]location.Fix),
		subscribeErr: make(map[positioning.ProviderID]error),
		lastListener: make(map[positioning.ProviderID]positioning.Listener),
	}
	for _, id := range enabled {
		s.enabled[id] = true
	}
	return s
}

func (s *fakeService) Subscribe(id positioning.ProviderID, minInterval time.Duration, minDistance float64, l positioning.Listener) (positioning.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.subscribeErr[id]; err != nil {
		return 0, err
	}
	s.next++
	sub := fakeSub{id: id, minInterval: minInterval, minDistance: minDistance, listener: l}
	s.subs[s.next] = sub
	s.subscribes = append(s.subscribes, sub)
	s.lastListener[id] = l
	if len(s.subs) > s.maxActive {
		s.maxActive = len(s.subs)
	}
	return s.next, nil
}

func (s *fakeService) Unsubscribe(h positioning.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, h)
}

func (s *fakeService) LastKnownFix(id positioning.ProviderID) (location.Fix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.lastKnown[id]
	return f, ok
}

func (s *fakeService) IsProviderEnabled(id positioning.ProviderID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[id]
}

// emit delivers fix to every live subscription on id.
func (s *fakeService) emit(id positioning.ProviderID, fix location.Fix) {
	s.mu.Lock()
	var ls []positioning.Listener
	for _, sub := range s.subs {
		if sub.id == id {
			ls = append(ls, sub.listener)
		}
	}
	s.mu.Unlock()
	for _, l := range ls {
		l.OnFix(fix)
	}
}

// listener returns the most recent listener subscribed to id, live or not.
func (s *fakeService) listener(t *testing.T, id positioning.ProviderID) positioning.Listener {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lastListener[id]
	if !ok {
		t.Fatalf("%s was never subscribed", id)
	}
	return l
}

func (s *fakeService) active() []positioning.ProviderID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []positioning.ProviderID
	for _, sub := range s.subs {
		out = append(out, sub.id)
	}
	return out
}

func (s *fakeService) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribes)
}

func (s *fakeService) peakActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

type fakeGate struct {
	svc     *fakeService
	perms   map[provider.Permission]bool
	offline bool

	// hold, when set, holds NetworkAvailable until it is closed
	hold chan struct{}
}

func (g *fakeGate) HasPermission(p provider.Permission) bool { return g.perms[p] }
func (g *fakeGate) IsProviderEnabled(id positioning.ProviderID) bool {
	return g.svc.IsProviderEnabled(id)
}
func (g *fakeGate) NetworkAvailable() bool {
	if g.hold != nil {
		<-g.hold
	}
	return !g.offline
}

type fakeTelephony struct {
	cell provider.Cell
	ok   bool
}

func (f fakeTelephony) CellIdentity() (provider.Cell, bool) { return f.cell, f.ok }

// fakeGeolocator blocks each Locate until the test answers it.
type fakeGeolocator struct {
	calls   chan struct{}
	answers chan geoAnswer
}

type geoAnswer struct {
	fix location.Fix
	err error
}

func newFakeGeolocator() *fakeGeolocator {
	return &fakeGeolocator{
		calls:   make(chan struct{}, 8),
		answers: make(chan geoAnswer, 8),
	}
}

func (g *fakeGeolocator) Locate(ctx context.Context) (location.Fix, error) {
	g.calls <- struct{}{}
	select {
	case a := <-g.answers:
		return a.fix, a.err
	case <-ctx.Done():
		return location.Fix{}, ctx.Err()
	}
}

func (g *fakeGeolocator) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-g.calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("geolocator was not called")
	}
}

func (g *fakeGeolocator) callCount() int {
	return len(g.calls)
}

// manualClock records timers; the test fires them explicitly.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func (t *manualTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire runs the callback even if the timer was stopped, modelling a timer
// that expired just before Stop reached it.
func (t *manualTimer) fire() {
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
	t.f()
}

func (c *manualClock) armed() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*manualTimer(nil), c.timers...)
}

func (c *manualClock) last(t *testing.T) *manualTimer {
	t.Helper()
	timers := c.armed()
	if len(timers) == 0 {
		t.Fatalf("no timer armed")
	}
	return timers[len(timers)-1]
}

type sinkEvent struct {
	kind   string
	fix    location.Fix
	err    location.ErrorKind
	stage  location.StageID
	reason string
}

type recordingSink struct {
	events chan sinkEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan sinkEvent, 64)}
}

func (r *recordingSink) OnFix(f location.Fix) { r.events <- sinkEvent{kind: "fix", fix: f} }
func (r *recordingSink) OnError(k location.ErrorKind, s location.StageID) {
	r.events <- sinkEvent{kind: "error", err: k, stage: s}
}
func (r *recordingSink) OnDenied(reason string) { r.events <- sinkEvent{kind: "denied", reason: reason} }
func (r *recordingSink) OnAutoEnabled(s location.StageID) {
	r.events <- sinkEvent{kind: "auto_enabled", stage: s}
}
func (r *recordingSink) OnPermissionRequired() { r.events <- sinkEvent{kind: "permission_required"} }

func (r *recordingSink) next(t *testing.T) sinkEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sink event")
		return sinkEvent{}
	}
}

func (r *recordingSink) expect(t *testing.T, kind string) sinkEvent {
	t.Helper()
	ev := r.next(t)
	if ev.kind != kind {
		t.Fatalf("sink event = %+v, want %s", ev, kind)
	}
	return ev
}

// quiet fails if any event arrives within d.
func (r *recordingSink) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected sink event %+v", ev)
	case <-time.After(d):
	}
}

// drained returns every event already queued without waiting.
func (r *recordingSink) drained() []sinkEvent {
	var out []sinkEvent
	for {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

type harness struct {
	svc   *fakeService
	gate  *fakeGate
	geo   *fakeGeolocator
	clock *manualClock
	sink  *recordingSink
	c     *Cascade
}

func newHarness(t *testing.T, tel fakeTelephony, perms []provider.Permission, enabled ...positioning.ProviderID) *harness {
	t.Helper()
	svc := newFakeService(enabled...)
	gate := &fakeGate{svc: svc, perms: make(map[provider.Permission]bool)}
	for _, p := range perms {
		gate.perms[p] = true
	}
	h := &harness{
		svc:   svc,
		gate:  gate,
		geo:   newFakeGeolocator(),
		clock: &manualClock{},
		sink:  newRecordingSink(),
	}
	h.c = New(Config{
		Service:    svc,
		Gate:       gate,
		Telephony:  tel,
		Geolocator: h.geo,
		Clock:      h.clock,
	})
	t.Cleanup(h.c.Close)
	return h
}

// sync waits until the orchestrator has handled everything posted so far
// from this goroutine.
func (h *harness) sync() Status {
	return h.c.Status()
}

func allPerms() []provider.Permission {
	return []provider.Permission{provider.FineLocation, provider.CoarseLocation}
}

var noCell = fakeTelephony{}
var someCell = fakeTelephony{cell: provider.Cell{CellID: "4021", Operator: "40445"}, ok: true}

func at(lat, lon float64) location.Fix {
	return location.Fix{Latitude: lat, Longitude: lon, Timestamp: time.Now()}
}
