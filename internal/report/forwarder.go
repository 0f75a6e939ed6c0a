// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package report forwards tracking outcomes to the parent side: the
// dashboard API and the MQTT broker.
package report

import (
	"context"
	"log"
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
)

const queueSize = 32

// Reporter uploads fixes and denials. Implementations own their retries.
type Reporter interface {
	ReportFix(ctx context.Context, fix location.Fix, deviceID string) error
	ReportDenied(ctx context.Context, deviceID, reason string) error
}

// EventReporter is implemented by reporters that also publish terminal
// errors and auto-enable notices.
type EventReporter interface {
	ReportError(ctx context.Context, deviceID string, kind location.ErrorKind, stage location.StageID) error
	ReportAutoEnabled(ctx context.Context, deviceID string, stage location.StageID) error
}

type job struct {
	name string
	run  func(ctx context.Context, r Reporter) error
}

// Forwarder is a location.Sink that passes every event to the next sink
// and then queues it for the reporters. Reporting runs on the goroutine
// started by Run, so a slow upload never holds up the cascade.
type Forwarder struct {
	next      location.Sink
	deviceID  string
	reporters []Reporter
	timeout   time.Duration
	jobs      chan job
}

// NewForwarder wraps next. A nil next is replaced by location.NopSink.
func NewForwarder(next location.Sink, deviceID string, reporters ...Reporter) *Forwarder {
	if next == nil {
		next = location.NopSink{}
	}
	return &Forwarder{
		next:      next,
		deviceID:  deviceID,
		reporters: reporters,
		timeout:   time.Minute,
		jobs:      make(chan job, queueSize),
	}
}

// Run delivers queued events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-f.jobs:
			f.dispatch(ctx, j)
		}
	}
}

func (f *Forwarder) dispatch(ctx context.Context, j job) {
	for _, r := range f.reporters {
		rctx, cancel := context.WithTimeout(ctx, f.timeout)
		if err := j.run(rctx, r); err != nil {
			log.Printf("report: %s via %T failed: %v", j.name, r, err)
		}
		cancel()
	}
}

func (f *Forwarder) enqueue(j job) {
	select {
	case f.jobs <- j:
	default:
		log.Printf("report: queue full, dropping %s", j.name)
	}
}

func (f *Forwarder) OnFix(fix location.Fix) {
	f.next.OnFix(fix)
	f.enqueue(job{name: "fix", run: func(ctx context.Context, r Reporter) error {
		return r.ReportFix(ctx, fix, f.deviceID)
	}})
}

func (f *Forwarder) OnDenied(reason string) {
	f.next.OnDenied(reason)
	f.enqueue(job{name: "denied", run: func(ctx context.Context, r Reporter) error {
		return r.ReportDenied(ctx, f.deviceID, reason)
	}})
}

func (f *Forwarder) OnError(kind location.ErrorKind, stage location.StageID) {
	f.next.OnError(kind, stage)
	f.enqueue(job{name: "error", run: func(ctx context.Context, r Reporter) error {
		if er, ok := r.(EventReporter); ok {
			return er.ReportError(ctx, f.deviceID, kind, stage)
		}
		return nil
	}})
}

func (f *Forwarder) OnAutoEnabled(stage location.StageID) {
	f.next.OnAutoEnabled(stage)
	f.enqueue(job{name: "auto_enabled", run: func(ctx context.Context, r Reporter) error {
		if er, ok := r.(EventReporter); ok {
			return er.ReportAutoEnabled(ctx, f.deviceID, stage)
		}
		return nil
	}})
}

func (f *Forwarder) OnPermissionRequired() {
	f.next.OnPermissionRequired()
}
