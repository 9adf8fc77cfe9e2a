package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dee-identity/dee_registry/internal/domain"
)

// Metrics holds the Prometheus collectors for registry and ledger operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations  *prometheus.CounterVec
	TotalDIDs   prometheus.Gauge
	ActiveDIDs  prometheus.Gauge
	Credentials prometheus.Gauge
	Paused      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dee_operations_total",
			Help: "Registry and credential ledger operations by outcome",
		}, []string{"operation", "result"}),
		TotalDIDs: f.NewGauge(prometheus.GaugeOpts{
			Name: "dee_dids_total",
			Help: "DID records ever created",
		}),
		ActiveDIDs: f.NewGauge(prometheus.GaugeOpts{
			Name: "dee_dids_active",
			Help: "DID records currently active",
		}),
		Credentials: f.NewGauge(prometheus.GaugeOpts{
			Name: "dee_credentials_minted",
			Help: "Highest credential token id minted",
		}),
		Paused: f.NewGauge(prometheus.GaugeOpts{
			Name: "dee_registry_paused",
			Help: "1 while the registry is paused",
		}),
	}
}

// Observe counts one operation with its error kind ("ok" on success).
func (m *Metrics) Observe(operation string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, domain.Kind(err)).Inc()
}

// SetDIDStats publishes the registry counters.
func (m *Metrics) SetDIDStats(total, active uint64) {
	if m == nil {
		return
	}
	m.TotalDIDs.Set(float64(total))
	m.ActiveDIDs.Set(float64(active))
}

// SetMinted publishes the last minted token id.
func (m *Metrics) SetMinted(lastTokenID uint64) {
	if m == nil {
		return
	}
	m.Credentials.Set(float64(lastTokenID))
}

// SetPaused publishes the pause state.
func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.Paused.Set(1)
		return
	}
	m.Paused.Set(0)
}
