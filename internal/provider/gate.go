// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package provider answers the questions the cascade asks before entering a
// stage: is a permission granted, is a provider switched on, is there a
// network, is there cell data. Every answer is queried live; nothing here
// holds session state.
package provider

import (
	"net"
	"strings"
	"time"

	"github.com/relabs-tech/family_locator/internal/positioning"
)

// Permission is a location permission the device user can grant.
type Permission string

const (
	FineLocation   Permission = "fine"
	CoarseLocation Permission = "coarse"
)

// Gate reports permission and availability state.
type Gate interface {
	HasPermission(p Permission) bool
	IsProviderEnabled(id positioning.ProviderID) bool
	NetworkAvailable() bool
}

// Cell is the serving cell identity.
type Cell struct {
	CellID   string `json:"cell_id"`
	Operator string `json:"operator"`
}

// Telephony reports the serving cell, if the modem has one.
type Telephony interface {
	CellIdentity() (Cell, bool)
}

// Connectivity reports whether the device can reach the internet.
type Connectivity interface {
	NetworkAvailable() bool
}

// StaticGate combines configured permission grants with live provider
// state from a positioning service.
type StaticGate struct {
	granted map[Permission]bool
	service positioning.Service
	network Connectivity
}

// NewStaticGate grants the listed permissions. A nil network is treated as
// always connected.
func NewStaticGate(granted []Permission, service positioning.Service, network Connectivity) *StaticGate {
	g := &StaticGate{
		granted: make(map[Permission]bool, len(granted)),
		service: service,
		network: network,
	}
	for _, p := range granted {
		g.granted[p] = true
	}
	return g
}

// ParsePermissions turns "fine,coarse" into permissions, skipping blanks.
func ParsePermissions(values []string) []Permission {
	out := make([]Permission, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, Permission(v))
		}
	}
	return out
}

func (g *StaticGate) HasPermission(p Permission) bool {
	return g.granted[p]
}

func (g *StaticGate) IsProviderEnabled(id positioning.ProviderID) bool {
	return g.service.IsProviderEnabled(id)
}

func (g *StaticGate) NetworkAvailable() bool {
	if g.network == nil {
		return true
	}
	return g.network.NetworkAvailable()
}

// AccessCheck returns a subscribe-time check for positioning.Manager. GPS
// needs fine location, the network provider fine or coarse, and the passive
// provider used for cell positioning needs nothing.
func (g *StaticGate) AccessCheck() func(positioning.ProviderID) bool {
	return func(id positioning.ProviderID) bool {
		switch id {
		case positioning.GPS:
			return g.HasPermission(FineLocation)
		case positioning.Network:
			return g.HasPermission(FineLocation) || g.HasPermission(CoarseLocation)
		default:
			return true
		}
	}
}

// DialProbe checks connectivity by opening a TCP connection.
type DialProbe struct {
	Address string
	Timeout time.Duration
}

func (d DialProbe) NetworkAvailable() bool {
	if d.Address == "" {
		return true
	}
	conn, err := net.DialTimeout("tcp", d.Address, d.Timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// StaticTelephony serves a configured cell identity. An empty cell id or
// operator means no telephony data.
type StaticTelephony struct {
	Cell Cell
}

func (s StaticTelephony) CellIdentity() (Cell, bool) {
	if s.Cell.CellID == "" || s.Cell.Operator == "" {
		return Cell{}, false
	}
	return s.Cell, true
}
