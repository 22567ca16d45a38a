package gate

import (
	"github.com/prometheus/client_golang/prometheus"

	"harbormaster/pkg/monitoring"
)

// Pipeline decision outcomes, the label values of decisions_total.
const (
	outcomeCacheHit        = "cache_hit"
	outcomeFree            = "free"
	outcomeCharged         = "charged"
	outcomeRateLimited     = "rate_limited"
	outcomePaymentRequired = "payment_required"
	outcomeHandlerError    = "handler_error"
	outcomeStoreError      = "store_error"
)

// Metrics aggregates the gate's Prometheus counters. A nil *Metrics is valid
// and records nothing, which keeps tests free of global registry collisions.
type Metrics struct {
	decisions   *prometheus.CounterVec
	credits     prometheus.Counter
	cacheWrites *prometheus.CounterVec
}

func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		decisions:   mc.NewCounter("gate_decisions_total", "Gate pipeline decisions by outcome", []string{"outcome"}),
		credits:     mc.NewCounter("gate_credits_charged_total", "Credits deducted from accounts", []string{}).WithLabelValues(),
		cacheWrites: mc.NewCounter("gate_cache_writes_total", "Response cache writes by status", []string{"status"}),
	}
}

func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CreditsCharged(amount int64) {
	if m == nil {
		return
	}
	m.credits.Add(float64(amount))
}

func (m *Metrics) CacheWrite(status string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(status).Inc()
}
