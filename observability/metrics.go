package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CoordinatorMetrics exposes Prometheus collectors for the round coordinator.
type CoordinatorMetrics struct {
	guesses      *prometheus.CounterVec
	chainLatency *prometheus.HistogramVec
	escalations  prometheus.Counter
	settlements  prometheus.Counter
	pot          prometheus.Gauge
	buyIn        prometheus.Gauge
	roundID      prometheus.Gauge
}

var (
	coordinatorOnce     sync.Once
	coordinatorRegistry *CoordinatorMetrics
)

// Coordinator returns the lazily initialised coordinator metrics registry.
func Coordinator() *CoordinatorMetrics {
	coordinatorOnce.Do(func() {
		coordinatorRegistry = &CoordinatorMetrics{
			guesses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_guesses_total",
				Help: "Count of guess submissions by outcome.",
			}, []string{"outcome"}),
			chainLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "coordinator_chain_latency_seconds",
				Help:    "Latency of vault contract calls by operation.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			}, []string{"op"}),
			escalations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_price_escalations_total",
				Help: "Count of buy-in escalations applied.",
			}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_rounds_settled_total",
				Help: "Count of rounds settled to a winner.",
			}),
			pot: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "coordinator_pot",
				Help: "Current pot in the token's smallest unit.",
			}),
			buyIn: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "coordinator_buy_in",
				Help: "Current buy-in in the token's smallest unit.",
			}),
			roundID: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "coordinator_round_id",
				Help: "Active round id.",
			}),
		}
		prometheus.MustRegister(
			coordinatorRegistry.guesses,
			coordinatorRegistry.chainLatency,
			coordinatorRegistry.escalations,
			coordinatorRegistry.settlements,
			coordinatorRegistry.pot,
			coordinatorRegistry.buyIn,
			coordinatorRegistry.roundID,
		)
	})
	return coordinatorRegistry
}

// RecordGuess counts a submission outcome such as accepted, won, rejected, or
// chain_error.
func (m *CoordinatorMetrics) RecordGuess(outcome string) {
	if m == nil {
		return
	}
	m.guesses.WithLabelValues(outcome).Inc()
}

// ObserveChainLatency records the duration of a vault call.
func (m *CoordinatorMetrics) ObserveChainLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.chainLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordEscalation counts an applied buy-in escalation.
func (m *CoordinatorMetrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// RecordSettlement counts a settled round.
func (m *CoordinatorMetrics) RecordSettlement() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

// SetRound updates the round gauges after a state change.
func (m *CoordinatorMetrics) SetRound(id uint64, pot, buyIn *big.Int) {
	if m == nil {
		return
	}
	m.roundID.Set(float64(id))
	m.pot.Set(bigFloat(pot))
	m.buyIn.Set(bigFloat(buyIn))
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
