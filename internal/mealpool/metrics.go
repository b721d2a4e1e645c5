package mealpool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mealpool"

// Metrics are the batch pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	batches    *prometheus.CounterVec
	candidates *prometheus.CounterVec
	shortfall  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		batches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Generation batches by meal type and outcome.",
			},
			[]string{"meal_type", "outcome"},
		),
		candidates: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_total",
				Help:      "Candidates by meal type and stage result.",
			},
			[]string{"meal_type", "result"},
		),
		shortfall: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shortfall_total",
				Help:      "Requested candidates the generator could not produce.",
			},
			[]string{"meal_type"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall time of one generation batch.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"meal_type"},
		),
	}
}

func (m *Metrics) observeBatch(mealType, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(mealType, outcome).Inc()
	m.duration.WithLabelValues(mealType).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeResponse(resp GenerateResponse) {
	if m == nil {
		return
	}
	mt := resp.MealType
	m.candidates.WithLabelValues(mt, "generated").Add(float64(resp.Generated))
	m.candidates.WithLabelValues(mt, "inserted").Add(float64(resp.Inserted))
	m.candidates.WithLabelValues(mt, "skipped").Add(float64(resp.Skipped))
	m.candidates.WithLabelValues(mt, "rejected").Add(float64(resp.Rejected))
	m.candidates.WithLabelValues(mt, "substituted").Add(float64(resp.Substituted))
	m.shortfall.WithLabelValues(mt).Add(float64(resp.Shortfall))
}
