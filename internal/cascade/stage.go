package cascade

import (
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
	"github.com/relabs-tech/family_locator/internal/positioning"
	"github.com/relabs-tech/family_locator/internal/provider"
)

// State is the cascade's externally visible state.
type State int

const (
	Idle State = iota
	GPSPending
	NetworkPending
	CellPending
	IPPending
	FixDelivered
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case GPSPending:
		return "GPS_PENDING"
	case NetworkPending:
		return "NETWORK_PENDING"
	case CellPending:
		return "CELL_PENDING"
	case IPPending:
		return "IP_PENDING"
	case FixDelivered:
		return "FIX_DELIVERED"
	case Exhausted:
		return "EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Stage describes one step of the cascade. Permissions are alternatives:
// any one granted is enough, none listed means none required.
type Stage struct {
	ID          location.StageID
	Provider    positioning.ProviderID
	Permissions []provider.Permission
	MinInterval time.Duration
	MinDistance float64 // meters
	Timeout     time.Duration
	Next        location.StageID
	Source      location.Source
	Pending     State

	// Tracking parameters replace MinInterval/MinDistance in AutoEnable mode.
	TrackingInterval time.Duration
	TrackingDistance float64
}

// Stages is the cascade's stage table, keyed by stage ID.
type Stages map[location.StageID]Stage

// FirstStage is where every session begins.
const FirstStage = location.StageGPS

// DefaultStages returns the GPS → Network → Cell → IP table.
func DefaultStages() Stages {
	return Stages{
		location.StageGPS: {
			ID:               location.StageGPS,
			Provider:         positioning.GPS,
			Permissions:      []provider.Permission{provider.FineLocation},
			MinInterval:      5 * time.Second,
			MinDistance:      10,
			TrackingInterval: 2 * time.Second,
			TrackingDistance: 5,
			Timeout:          15 * time.Second,
			Next:             location.StageNetwork,
			Source:           location.SourceGPS,
			Pending:          GPSPending,
		},
		location.StageNetwork: {
			ID:          location.StageNetwork,
			Provider:    positioning.Network,
			Permissions: []provider.Permission{provider.FineLocation, provider.CoarseLocation},
			MinInterval: 3 * time.Second,
			MinDistance: 50,
			Timeout:     10 * time.Second,
			Next:        location.StageCell,
			Source:      location.SourceNetwork,
			Pending:     NetworkPending,
		},
		location.StageCell: {
			ID:       location.StageCell,
			Provider: positioning.Passive,
			Timeout:  20 * time.Second,
			Next:     location.StageIP,
			Source:   location.SourceCell,
			Pending:  CellPending,
		},
		location.StageIP: {
			ID:      location.StageIP,
			Source:  location.SourceIP,
			Pending: IPPending,
		},
	}
}

// WithTimeouts returns a copy of the table with the given stage timeouts.
// Zero durations keep the existing value.
func (s Stages) WithTimeouts(gps, network, cell time.Duration) Stages {
	out := make(Stages, len(s))
	for id, st := range s {
		out[id] = st
	}
	set := func(id location.StageID, d time.Duration) {
		if st, ok := out[id]; ok && d > 0 {
			st.Timeout = d
			out[id] = st
		}
	}
	set(location.StageGPS, gps)
	set(location.StageNetwork, network)
	set(location.StageCell, cell)
	return out
}

func (st Stage) params(mode location.Mode) (time.Duration, float64) {
	if mode == location.AutoEnable && st.TrackingInterval > 0 {
		return st.TrackingInterval, st.TrackingDistance
	}
	return st.MinInterval, st.MinDistance
}

func (st Stage) permitted(g provider.Gate) bool {
	if len(st.Permissions) == 0 {
		return true
	}
	for _, p := range st.Permissions {
		if g.HasPermission(p) {
			return true
		}
	}
	return false
}
