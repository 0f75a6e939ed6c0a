package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CascadeMetrics bundles Prometheus metrics for the acquisition cascade.
// A nil *CascadeMetrics is valid and records nothing.
type CascadeMetrics struct {
	gatherer prometheus.Gatherer

	StageAttempts  *prometheus.CounterVec
	Fixes          *prometheus.CounterVec
	Sessions       *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	GeolocateTime  prometheus.Histogram
}

// NewCascadeMetrics registers cascade metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCascadeMetrics(reg prometheus.Registerer) (*CascadeMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_stage_attempts_total",
		Help: "Stage entries, labeled by stage and how the stage ended.",
	}, []string{"stage", "outcome"}), "cascade_stage_attempts_total")
	if err != nil {
		return nil, err
	}

	fixes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_fixes_total",
		Help: "Fixes delivered to the sink, labeled by source.",
	}, []string{"source"}), "cascade_fixes_total")
	if err != nil {
		return nil, err
	}

	sessions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_sessions_total",
		Help: "Tracking sessions, labeled by mode and result (started, rejected, fix, exhausted, stopped).",
	}, []string{"mode", "result"}), "cascade_sessions_total")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cascade_active_sessions",
		Help: "1 while a tracking session is active.",
	}), "cascade_active_sessions")
	if err != nil {
		return nil, err
	}

	geo, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cascade_geolocate_duration_seconds",
		Help:    "IP geolocation lookup latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}), "cascade_geolocate_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &CascadeMetrics{
		gatherer:       gatherer,
		StageAttempts:  attempts,
		Fixes:          fixes,
		Sessions:       sessions,
		ActiveSessions: active,
		GeolocateTime:  geo,
	}, nil
}

// Handler exposes the registry the metrics were registered against.
func (c *CascadeMetrics) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *CascadeMetrics) StageAttempt(stage, outcome string) {
	if c == nil {
		return
	}
	c.StageAttempts.WithLabelValues(stage, outcome).Inc()
}

func (c *CascadeMetrics) Fix(source string) {
	if c == nil {
		return
	}
	c.Fixes.WithLabelValues(source).Inc()
}

func (c *CascadeMetrics) Session(mode, result string) {
	if c == nil {
		return
	}
	c.Sessions.WithLabelValues(mode, result).Inc()
}

func (c *CascadeMetrics) SetActive(active bool) {
	if c == nil {
		return
	}
	if active {
		c.ActiveSessions.Set(1)
	} else {
		c.ActiveSessions.Set(0)
	}
}

func (c *CascadeMetrics) ObserveGeolocate(seconds float64) {
	if c == nil {
		return
	}
	c.GeolocateTime.Observe(seconds)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
