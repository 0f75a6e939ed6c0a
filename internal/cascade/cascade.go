// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cascade acquires a position by trying GPS, network, cell and IP
// geolocation in turn.
//
// All session state is owned by a single orchestrator goroutine. Provider
// callbacks, stage timers and the geolocation worker never touch it
// directly: they post events to one queue, and every event carries the
// generation of the stage attempt that produced it. An event whose
// generation is not the current one is dropped, which is how a fix racing a
// timeout is resolved.
package cascade

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
	"github.com/relabs-tech/family_locator/internal/observability"
	"github.com/relabs-tech/family_locator/internal/positioning"
	"github.com/relabs-tech/family_locator/internal/provider"
)

const eventQueueSize = 64

// Geolocator performs a blocking coarse lookup. It enforces its own
// timeouts and reports failures as *location.Error.
type Geolocator interface {
	Locate(ctx context.Context) (location.Fix, error)
}

// Config wires the cascade to its collaborators. Clock, Stages and Metrics
// are optional.
type Config struct {
	Service    positioning.Service
	Gate       provider.Gate
	Telephony  provider.Telephony
	Geolocator Geolocator
	Clock      Clock
	Stages     Stages
	Metrics    *observability.CascadeMetrics
}

// Status is a snapshot of the cascade.
type Status struct {
	Active      bool             `json:"active"`
	Mode        string           `json:"mode,omitempty"`
	State       State            `json:"state"`
	Stage       location.StageID `json:"stage,omitempty"`
	Generation  uint64           `json:"generation"`
	Subscribed  bool             `json:"subscribed"`
	Passive     bool             `json:"passive_tracking"`
	LastOutcome State            `json:"last_outcome"`
	LastError   string           `json:"last_error,omitempty"`
}

// Cascade runs at most one tracking session at a time.
type Cascade struct {
	service   positioning.Service
	gate      provider.Gate
	telephony provider.Telephony
	geo       Geolocator
	clock     Clock
	stages    Stages
	metrics   *observability.CascadeMetrics

	events    chan any
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	// owned by the orchestrator goroutine
	gen         uint64
	sess        *session
	passive     *continuation
	lastOutcome State
	lastErr     *location.Error
}

// session is the state of the one in-progress acquisition.
type session struct {
	mode   location.Mode
	policy modePolicy
	sink   location.Sink

	stage location.StageID
	state State
	gen   uint64

	handle     positioning.Handle
	subscribed bool
	provider   positioning.ProviderID
	timer      Timer

	// tracking is set once a continuous session delivered its first live fix.
	tracking bool
}

// continuation keeps a ONE_SHOT session's subscription alive after the
// session ended, forwarding further fixes until Stop or the next Start.
type continuation struct {
	gen      uint64
	handle   positioning.Handle
	provider positioning.ProviderID
	source   location.Source
	sink     location.Sink
}

type fixEvent struct {
	gen uint64
	fix location.Fix
}

type disabledEvent struct {
	gen      uint64
	provider positioning.ProviderID
}

type timeoutEvent struct {
	gen uint64
}

type geolocateResult struct {
	gen uint64
	fix location.Fix
	err error
}

type startCmd struct {
	mode  location.Mode
	sink  location.Sink
	reply chan bool
}

type stopCmd struct {
	reply chan struct{}
}

type statusCmd struct {
	reply chan Status
}

// New starts the orchestrator goroutine. Call Close to stop it.
func New(cfg Config) *Cascade {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Stages == nil {
		cfg.Stages = DefaultStages()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cascade{
		service:   cfg.Service,
		gate:      cfg.Gate,
		telephony: cfg.Telephony,
		geo:       cfg.Geolocator,
		clock:     cfg.Clock,
		stages:    cfg.Stages,
		metrics:   cfg.Metrics,
		events:    make(chan any, eventQueueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go c.run()
	return c
}

// Close stops any session and the orchestrator goroutine. An in-flight
// geolocation lookup is cancelled.
func (c *Cascade) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.stopped
}

// Start begins a session in the given mode. It returns false, doing
// nothing, when a session is already active or the cascade is closed.
func (c *Cascade) Start(mode location.Mode, sink location.Sink) bool {
	if sink == nil {
		sink = location.NopSink{}
	}
	reply := make(chan bool, 1)
	if !c.post(startCmd{mode: mode, sink: sink, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-c.stopped:
		return false
	}
}

// Stop cancels the armed timer, unregisters any subscription and discards
// the session. It is safe to call at any time, any number of times, and
// does not wait for an in-flight geolocation lookup.
func (c *Cascade) Stop() {
	reply := make(chan struct{}, 1)
	if !c.post(stopCmd{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-c.stopped:
	}
}

// Status reports the session state, its stage and the last outcome.
func (c *Cascade) Status() Status {
	reply := make(chan Status, 1)
	if !c.post(statusCmd{reply: reply}) {
		return Status{State: Idle}
	}
	select {
	case s := <-reply:
		return s
	case <-c.stopped:
		return Status{State: Idle}
	}
}

// post hands an event to the orchestrator. It returns false once the
// cascade is closed.
func (c *Cascade) post(ev any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Cascade) run() {
	defer close(c.stopped)
	defer c.cancel()

	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.done:
			c.stop()
			return
		}
	}
}

func (c *Cascade) handle(ev any) {
	switch ev := ev.(type) {
	case startCmd:
		ev.reply <- c.start(ev.mode, ev.sink)
	case stopCmd:
		c.stop()
		ev.reply <- struct{}{}
	case statusCmd:
		ev.reply <- c.status()
	case fixEvent:
		c.onFix(ev)
	case disabledEvent:
		c.onDisabled(ev)
	case timeoutEvent:
		c.onTimeout(ev)
	case geolocateResult:
		c.onGeolocate(ev)
	default:
		log.Printf("cascade: unknown event %T", ev)
	}
}

func (c *Cascade) start(mode location.Mode, sink location.Sink) bool {
	if c.sess != nil {
		log.Printf("cascade: %s start ignored, %s session already active", mode, c.sess.mode)
		c.metrics.Session(mode.String(), "rejected")
		return false
	}
	c.dropPassive()

	log.Printf("cascade: starting %s session", mode)
	c.sess = &session{
		mode:   mode,
		policy: policyFor(mode),
		sink:   sink,
	}
	c.metrics.Session(mode.String(), "started")
	c.metrics.SetActive(true)

	first := c.stages[FirstStage]
	if mode == location.AutoEnable && !first.permitted(c.gate) {
		log.Printf("cascade: location permission not granted, requesting it")
		sink.OnPermissionRequired()
	}

	c.enter(FirstStage)
	return true
}

// enter runs the stage-entry protocol. Stages that cannot be armed fall
// through to the next one immediately, without a timer.
func (c *Cascade) enter(id location.StageID) {
	s := c.sess
	c.release()

	st, ok := c.stages[id]
	if !ok {
		log.Printf("cascade: no stage %q configured", id)
		c.exhaust(location.NetworkUnavailable)
		return
	}

	c.gen++
	s.gen = c.gen
	s.stage = id
	s.state = st.Pending
	log.Printf("cascade: attempting %s location (generation %d)", id, s.gen)

	if id == location.StageIP {
		c.enterIP()
		return
	}

	if id == location.StageCell {
		if _, ok := c.telephony.CellIdentity(); !ok {
			c.fail(st, location.NoTelephonyData)
			return
		}
	}

	if !st.permitted(c.gate) {
		s.sink.OnDenied("Location permission not granted")
		c.fail(st, location.PermissionDenied)
		return
	}

	if !c.gate.IsProviderEnabled(st.Provider) {
		c.fail(st, location.ProviderDisabled)
		return
	}

	interval, distance := st.params(s.mode)
	gen := s.gen
	h, err := c.service.Subscribe(st.Provider, interval, distance, stageListener{c: c, gen: gen})
	if err != nil {
		log.Printf("cascade: %s subscribe failed: %v", id, err)
		if errors.Is(err, positioning.ErrAccessDenied) {
			c.fail(st, location.SecurityDenied)
		} else {
			c.fail(st, location.ProviderDisabled)
		}
		return
	}
	s.handle = h
	s.subscribed = true
	s.provider = st.Provider
	s.timer = c.clock.AfterFunc(st.Timeout, func() {
		c.post(timeoutEvent{gen: gen})
	})

	if s.policy.deliverCached && st.Provider == positioning.GPS {
		c.deliverCached(s)
	}
}

func (c *Cascade) deliverCached(s *session) {
	cached, ok := c.service.LastKnownFix(positioning.GPS)
	if !ok {
		return
	}
	if err := cached.Validate(); err != nil {
		log.Printf("cascade: ignoring cached GPS fix: %v", err)
		return
	}
	log.Printf("cascade: sending cached GPS location immediately")
	c.metrics.Fix(string(location.SourceGPSCached))
	s.sink.OnFix(cached.WithSource(location.SourceGPSCached))
}

func (c *Cascade) enterIP() {
	s := c.sess
	if c.geo == nil {
		c.exhaust(location.NetworkUnavailable)
		return
	}

	// the connectivity check may dial, so it runs off the orchestrator
	// along with the lookup
	gen := s.gen
	go func() {
		if !c.gate.NetworkAvailable() {
			c.post(geolocateResult{gen: gen, err: &location.Error{
				Kind:  location.NetworkUnavailable,
				Stage: location.StageIP,
				Err:   errors.New("no network connection available"),
			}})
			return
		}
		began := time.Now()
		fix, err := c.geo.Locate(c.ctx)
		c.metrics.ObserveGeolocate(time.Since(began).Seconds())
		c.post(geolocateResult{gen: gen, fix: fix, err: err})
	}()
}

// fail records why st ended and advances to its successor.
func (c *Cascade) fail(st Stage, kind location.ErrorKind) {
	c.lastErr = &location.Error{Kind: kind, Stage: st.ID}
	c.metrics.StageAttempt(string(st.ID), kind.String())
	log.Printf("cascade: %s unavailable (%s), trying %s", st.ID, kind, st.Next)
	c.enter(st.Next)
}

func (c *Cascade) onFix(ev fixEvent) {
	if p := c.passive; p != nil && ev.gen == p.gen {
		fix, ok := normalize(ev.fix, p.source)
		if !ok {
			return
		}
		c.metrics.Fix(string(fix.Source))
		p.sink.OnFix(fix)
		return
	}

	s := c.sess
	if s == nil || ev.gen != s.gen || !s.subscribed {
		log.Printf("cascade: discarding stale fix (generation %d)", ev.gen)
		return
	}

	st := c.stages[s.stage]
	source := st.Source
	if s.mode == location.AutoEnable && st.ID == location.StageGPS {
		source = location.SourceGPSAuto
	}
	fix, ok := normalize(ev.fix, source)
	if !ok {
		return
	}
	log.Printf("cascade: %s location received: %f, %f", st.ID, fix.Latitude, fix.Longitude)
	c.metrics.Fix(string(fix.Source))

	if s.tracking {
		s.sink.OnFix(fix)
		return
	}

	c.cancelTimer()
	c.metrics.StageAttempt(string(st.ID), "fix")
	c.lastOutcome = FixDelivered

	if s.policy.continuous {
		s.tracking = true
		s.state = FixDelivered
		s.sink.OnFix(fix)
		s.sink.OnAutoEnabled(st.ID)
		return
	}

	// the session ends here but its subscription keeps feeding the sink
	c.passive = &continuation{
		gen:      s.gen,
		handle:   s.handle,
		provider: s.provider,
		source:   source,
		sink:     s.sink,
	}
	s.subscribed = false
	sink := s.sink
	c.endSession("fix")
	sink.OnFix(fix)
}

func (c *Cascade) onDisabled(ev disabledEvent) {
	if p := c.passive; p != nil && ev.gen == p.gen {
		log.Printf("cascade: %s disabled, ending passive tracking", ev.provider)
		c.dropPassive()
		return
	}

	s := c.sess
	if s == nil || ev.gen != s.gen || !s.subscribed || ev.provider != s.provider {
		return
	}
	s.tracking = false
	c.fail(c.stages[s.stage], location.ProviderDisabled)
}

func (c *Cascade) onTimeout(ev timeoutEvent) {
	s := c.sess
	if s == nil || ev.gen != s.gen || !s.subscribed || s.tracking {
		return
	}
	s.timer = nil
	c.fail(c.stages[s.stage], location.StageTimeout)
}

func (c *Cascade) onGeolocate(ev geolocateResult) {
	s := c.sess
	if s == nil || ev.gen != s.gen {
		log.Printf("cascade: discarding late IP geolocation result (generation %d)", ev.gen)
		return
	}

	if ev.err != nil {
		kind := location.NetworkUnavailable
		var le *location.Error
		if errors.As(ev.err, &le) {
			kind = le.Kind
		}
		log.Printf("cascade: IP geolocation failed: %v", ev.err)
		c.exhaust(kind)
		return
	}

	fix, ok := normalize(ev.fix, location.SourceIP)
	if !ok {
		c.exhaust(location.DecodeFailure)
		return
	}
	if fix.Accuracy == nil {
		fix.Accuracy = location.Float(location.IPAccuracyMeters)
	}
	log.Printf("cascade: IP geolocation successful: %f, %f", fix.Latitude, fix.Longitude)
	c.metrics.Fix(string(fix.Source))
	c.metrics.StageAttempt(string(location.StageIP), "fix")
	c.lastOutcome = FixDelivered

	// nothing stays subscribed after an IP fix, so the session ends in
	// either mode
	sink := s.sink
	c.endSession("fix")
	sink.OnFix(fix)
}

// exhaust ends the session with a terminal error for the IP stage.
func (c *Cascade) exhaust(kind location.ErrorKind) {
	s := c.sess
	c.lastErr = &location.Error{Kind: kind, Stage: location.StageIP}
	c.metrics.StageAttempt(string(location.StageIP), kind.String())
	c.lastOutcome = Exhausted
	log.Printf("cascade: all location methods exhausted: %s", kind)

	sink := s.sink
	c.endSession("exhausted")
	sink.OnError(kind, location.StageIP)
}

func (c *Cascade) stop() {
	if c.sess == nil && c.passive == nil {
		return
	}
	log.Printf("cascade: stopping location tracking")
	if s := c.sess; s != nil {
		c.endSession("stopped")
	}
	c.dropPassive()
}

func (c *Cascade) endSession(result string) {
	s := c.sess
	c.release()
	c.metrics.Session(s.mode.String(), result)
	c.metrics.SetActive(false)
	c.sess = nil
}

// release cancels the timer and unregisters the subscription of the
// current stage attempt.
func (c *Cascade) release() {
	c.cancelTimer()
	s := c.sess
	if s != nil && s.subscribed {
		c.service.Unsubscribe(s.handle)
		s.subscribed = false
	}
}

func (c *Cascade) cancelTimer() {
	if s := c.sess; s != nil && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (c *Cascade) dropPassive() {
	if p := c.passive; p != nil {
		c.service.Unsubscribe(p.handle)
		c.passive = nil
	}
}

func (c *Cascade) status() Status {
	st := Status{
		State:       Idle,
		Generation:  c.gen,
		Passive:     c.passive != nil,
		LastOutcome: c.lastOutcome,
		Subscribed:  c.passive != nil,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if s := c.sess; s != nil {
		st.Active = true
		st.Mode = s.mode.String()
		st.State = s.state
		st.Stage = s.stage
		st.Subscribed = s.subscribed
	}
	return st
}

// normalize tags fix with its source and rejects unusable coordinates.
func normalize(fix location.Fix, source location.Source) (location.Fix, bool) {
	if err := fix.Validate(); err != nil {
		log.Printf("cascade: dropping fix: %v", err)
		return location.Fix{}, false
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}
	return fix.WithSource(source), true
}

// stageListener tags provider callbacks with the generation they were
// subscribed under and hands them to the orchestrator.
type stageListener struct {
	c   *Cascade
	gen uint64
}

func (l stageListener) OnFix(fix location.Fix) {
	l.c.post(fixEvent{gen: l.gen, fix: fix})
}

func (l stageListener) OnProviderDisabled(id positioning.ProviderID) {
	l.c.post(disabledEvent{gen: l.gen, provider: id})
}
