// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package cascade

import (
	"github.com/relabs-tech/family_locator/internal/location"
)

// modePolicy is everything that differs between ONE_SHOT and AUTO_ENABLE.
type modePolicy struct {
	// deliverCached sends the GPS provider's last known fix as soon as the
	// GPS stage is armed.
	deliverCached bool
	// continuous keeps the session (and its subscription) after the first
	// live fix instead of ending it.
	continuous bool
}

func policyFor(mode location.Mode) modePolicy {
	switch mode {
	case location.AutoEnable:
		return modePolicy{deliverCached: true, continuous: true}
	default:
		return modePolicy{}
	}
}

// Controller is the entry point used by the device's triggers: the manual
// "test tracking" button and remote parent requests. Both share one cascade
// and one sink, so at most one session runs at a time whichever path
// started it.
type Controller struct {
	cascade *Cascade
	sink    location.Sink
}

// NewController returns a Controller that delivers every session's events
// to sink. A nil sink discards them.
func NewController(c *Cascade, sink location.Sink) *Controller {
	if sink == nil {
		sink = location.NopSink{}
	}
	return &Controller{cascade: c, sink: sink}
}

// TestTracking starts a ONE_SHOT session. It returns false if a session is
// already active.
func (m *Controller) TestTracking() bool {
	return m.cascade.Start(location.OneShot, m.sink)
}

// AutoEnable starts an AUTO_ENABLE session on behalf of a remote request.
// It returns false if a session is already active.
func (m *Controller) AutoEnable() bool {
	return m.cascade.Start(location.AutoEnable, m.sink)
}

// StopTracking ends any session and passive subscription.
func (m *Controller) StopTracking() {
	m.cascade.Stop()
}

// Status reports the cascade's current state.
func (m *Controller) Status() Status {
	return m.cascade.Status()
}
