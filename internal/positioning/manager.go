package positioning

import (
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
)

// Manager routes Service calls to the Provider registered for each ID.
type Manager struct {
	mu        sync.Mutex
	providers map[ProviderID]*Provider
	owners    map[Handle]*Provider
	next      Handle

	// access, when set, is consulted at subscribe time; false means the
	// platform refuses the subscription.
	access func(ProviderID) bool
}

// NewManager builds a Service over the given providers.
func NewManager(providers ...*Provider) *Manager {
	m := &Manager{
		providers: make(map[ProviderID]*Provider, len(providers)),
		owners:    make(map[Handle]*Provider),
	}
	for _, p := range providers {
		m.providers[p.ID()] = p
	}
	return m
}

// SetAccessCheck installs the subscribe-time access check.
func (m *Manager) SetAccessCheck(fn func(ProviderID) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = fn
}

// Provider returns the provider registered under id, if any.
func (m *Manager) Provider(id ProviderID) (*Provider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	return p, ok
}

func (m *Manager) Subscribe(id ProviderID, minInterval time.Duration, minDistance float64, l Listener) (Handle, error) {
	m.mu.Lock()
	p, ok := m.providers[id]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("subscribe %s: %w", id, ErrUnknownProvider)
	}
	if m.access != nil && !m.access(id) {
		m.mu.Unlock()
		return 0, fmt.Errorf("subscribe %s: %w", id, ErrAccessDenied)
	}
	m.next++
	h := m.next
	m.owners[h] = p
	m.mu.Unlock()

	p.add(h, &subscription{
		listener:    l,
		minInterval: minInterval,
		minDistance: minDistance,
	})
	return h, nil
}

// Unsubscribe is a no-op for unknown or already removed handles.
func (m *Manager) Unsubscribe(h Handle) {
	m.mu.Lock()
	p, ok := m.owners[h]
	delete(m.owners, h)
	m.mu.Unlock()
	if ok {
		p.remove(h)
	}
}

func (m *Manager) LastKnownFix(id ProviderID) (location.Fix, bool) {
	p, ok := m.Provider(id)
	if !ok {
		return location.Fix{}, false
	}
	return p.LastKnown()
}

func (m *Manager) IsProviderEnabled(id ProviderID) bool {
	p, ok := m.Provider(id)
	if !ok {
		return false
	}
	return p.Enabled()
}

// ActiveSubscriptions reports the number of live handles across providers.
func (m *Manager) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners)
}
