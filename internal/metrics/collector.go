package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the gateway and workflow Prometheus instruments. Callers
// construct one Collector per process and pass it to the components that
// export metrics (llm/health.Tracker, llm/budget.MemoryLedger,
// eventbus.Bus); a nil *Collector is a valid no-op everywhere it is
// accepted, so instrumentation stays optional.
type Collector struct {
	ProviderHealthScore *prometheus.GaugeVec
	BudgetSpendUSDTotal *prometheus.CounterVec
	DroppedSubscribers  prometheus.Counter
}

// NewCollector registers and returns a Collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ProviderHealthScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llm",
			Name:      "provider_health_score",
			Help:      "1 if the provider's rolling window currently reports healthy, 0 otherwise.",
		}, []string{"provider"}),

		BudgetSpendUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm",
			Name:      "budget_spend_usd_total",
			Help:      "Cumulative USD spend recorded against a budget scope.",
		}, []string{"scope"}),

		DroppedSubscribers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "dropped_subscribers_total",
			Help:      "Count of queued events evicted from a full subscriber queue under the DropOldest policy.",
		}),
	}
}

// observeHealth records provider's healthy verdict as 1.0 or 0.0. A nil
// Collector is a no-op.
func (c *Collector) observeHealth(provider string, healthy bool) {
	if c == nil {
		return
	}
	score := 0.0
	if healthy {
		score = 1.0
	}
	c.ProviderHealthScore.WithLabelValues(provider).Set(score)
}

// ObserveHealth is the exported form of observeHealth, for callers outside
// this package (llm/health.Tracker) that hold a *Collector.
func (c *Collector) ObserveHealth(provider string, healthy bool) {
	c.observeHealth(provider, healthy)
}

// AddBudgetSpend increments scope's cumulative spend counter. A nil
// Collector is a no-op.
func (c *Collector) AddBudgetSpend(scope string, usd float64) {
	if c == nil || usd <= 0 {
		return
	}
	c.BudgetSpendUSDTotal.WithLabelValues(scope).Add(usd)
}

// IncDroppedSubscriber records one dropped publish to a subscriber queue. A
// nil Collector is a no-op.
func (c *Collector) IncDroppedSubscriber() {
	if c == nil {
		return
	}
	c.DroppedSubscribers.Inc()
}
