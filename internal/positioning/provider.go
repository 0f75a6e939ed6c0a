package positioning

import (
	"sync"
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
)

// Provider holds the subscription table, availability flag and last known
// fix of one positioning source. Backends feed it with Publish/SetEnabled.
type Provider struct {
	id ProviderID

	mu      sync.Mutex
	enabled bool
	last    location.Fix
	haveFix bool
	subs    map[Handle]*subscription
}

type subscription struct {
	listener    Listener
	minInterval time.Duration
	minDistance float64

	delivered     bool
	lastDelivered location.Fix
}

// NewProvider returns a disabled provider with no subscribers.
func NewProvider(id ProviderID) *Provider {
	return &Provider{id: id, subs: make(map[Handle]*subscription)}
}

func (p *Provider) ID() ProviderID { return p.id }

func (p *Provider) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// LastKnown returns the most recent fix published, enabled or not.
func (p *Provider) LastKnown() (location.Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.haveFix
}

// SetEnabled updates availability. Turning a provider off notifies every
// current subscriber once.
func (p *Provider) SetEnabled(enabled bool) {
	p.mu.Lock()
	was := p.enabled
	p.enabled = enabled
	var notify []Listener
	if was && !enabled {
		for _, s := range p.subs {
			notify = append(notify, s.listener)
		}
	}
	p.mu.Unlock()

	for _, l := range notify {
		l.OnProviderDisabled(p.id)
	}
}

// Publish records fix as the last known reading and delivers it to every
// subscriber whose interval and distance thresholds it satisfies.
// Readings published while the provider is disabled are only recorded.
func (p *Provider) Publish(fix location.Fix) {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	p.mu.Lock()
	p.last = fix
	p.haveFix = true
	var deliver []Listener
	if p.enabled {
		for _, s := range p.subs {
			if s.accept(fix) {
				deliver = append(deliver, s.listener)
			}
		}
	}
	p.mu.Unlock()

	for _, l := range deliver {
		l.OnFix(fix)
	}
}

func (p *Provider) add(h Handle, s *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[h] = s
}

func (p *Provider) remove(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, h)
}

// Subscribers reports how many subscriptions are registered.
func (p *Provider) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// accept applies the subscription's throttling and records delivery.
// The first reading always passes.
func (s *subscription) accept(fix location.Fix) bool {
	if s.delivered {
		if fix.Timestamp.Sub(s.lastDelivered.Timestamp) < s.minInterval {
			return false
		}
		if s.minDistance > 0 && location.DistanceMeters(s.lastDelivered, fix) < s.minDistance {
			return false
		}
	}
	s.delivered = true
	s.lastDelivered = fix
	return true
}
