// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package location

import (
	"fmt"
	"math"
	"time"
)

// IPAccuracyMeters is the accuracy reported for IP-derived fixes.
// It signals low confidence to consumers.
const IPAccuracyMeters = 10000

// Source tells which stage produced a fix.
type Source string

const (
	SourceGPS       Source = "gps"
	SourceGPSCached Source = "gps_cached"
	SourceGPSAuto   Source = "gps_auto_enabled"
	SourceNetwork   Source = "network"
	SourceCell      Source = "cell_tower"
	SourceIP        Source = "ip_geolocation"
)

// Fix represents a single position reading suitable for JSON and MQTT.
// Optional readings are nil when the provider did not report them.
type Fix struct {
	Latitude  float64   `json:"latitude"`           // decimal degrees
	Longitude float64   `json:"longitude"`          // decimal degrees
	Accuracy  *float64  `json:"accuracy,omitempty"` // meters
	Altitude  *float64  `json:"altitude,omitempty"` // meters
	Bearing   *float64  `json:"bearing,omitempty"`  // degrees
	Speed     *float64  `json:"speed,omitempty"`    // m/s
	Source    Source    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate reports whether the coordinates are present, finite and in range.
func (f Fix) Validate() error {
	if math.IsNaN(f.Latitude) || math.IsInf(f.Latitude, 0) {
		return fmt.Errorf("latitude is not finite")
	}
	if math.IsNaN(f.Longitude) || math.IsInf(f.Longitude, 0) {
		return fmt.Errorf("longitude is not finite")
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", f.Latitude)
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", f.Longitude)
	}
	return nil
}

// WithSource returns a copy of f tagged with s.
func (f Fix) WithSource(s Source) Fix {
	f.Source = s
	return f
}

// Float returns a pointer to v, for filling optional fields.
func Float(v float64) *float64 {
	return &v
}

// DistanceMeters returns the great-circle distance between two fixes.
func DistanceMeters(a, b Fix) float64 {
	const earthRadius = 6371000.0
	toRad := math.Pi / 180.0

	lat1 := a.Latitude * toRad
	lat2 := b.Latitude * toRad
	dLat := (b.Latitude - a.Latitude) * toRad
	dLon := (b.Longitude - a.Longitude) * toRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}
