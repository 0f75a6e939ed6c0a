// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package positioning

import (
	"errors"
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
)

// ProviderID names a positioning source registered with a Service.
type ProviderID string

const (
	GPS     ProviderID = "gps"
	Network ProviderID = "network"
	Passive ProviderID = "passive"
)

// Handle identifies one subscription.
type Handle uint64

var (
	// ErrAccessDenied is returned by Subscribe when the platform refuses access
	// to a provider even though the caller believed it was permitted.
	ErrAccessDenied = errors.New("positioning: access denied")
	// ErrUnknownProvider is returned for a provider no backend serves.
	ErrUnknownProvider = errors.New("positioning: unknown provider")
)

// Listener receives readings and availability changes for one subscription.
// Calls may arrive on any goroutine.
type Listener interface {
	OnFix(fix location.Fix)
	OnProviderDisabled(id ProviderID)
}

// Service is the positioning API the cascade consumes.
type Service interface {
	Subscribe(id ProviderID, minInterval time.Duration, minDistance float64, l Listener) (Handle, error)
	Unsubscribe(h Handle)
	LastKnownFix(id ProviderID) (location.Fix, bool)
	IsProviderEnabled(id ProviderID) bool
}
