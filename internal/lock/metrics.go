package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the lock manager's Prometheus instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	acquisitions *prometheus.CounterVec
	releases     *prometheus.CounterVec
	expirations  prometheus.Counter
}

// NewMetrics registers lock metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		acquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_lock_acquisitions_total",
			Help: "Lock acquisition attempts by mode and result",
		}, []string{"mode", "result"}),
		releases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_lock_releases_total",
			Help: "Locks released by mode",
		}, []string{"mode"}),
		expirations: f.NewCounter(prometheus.CounterOpts{
			Name: "weft_lock_expirations_total",
			Help: "Locks reclaimed after their TTL passed",
		}),
	}
}

// RegisterHeldGauge exposes the number of tracked locks of m.
func RegisterHeldGauge(reg prometheus.Registerer, m *Manager) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "weft_locks_held",
		Help: "Functions currently holding a read or write lock",
	}, func() float64 { return float64(m.Held()) })
}

func (m *Metrics) acquired(mode Mode, result string) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(string(mode), result).Inc()
}

func (m *Metrics) released(mode Mode) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expirations.Add(float64(n))
}
