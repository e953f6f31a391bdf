package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chatvault/chatvault/internal/query"
)

// Metrics holds the prometheus instruments for the ingest and query paths.
type Metrics struct {
	IngestTotal    *prometheus.CounterVec
	QueriesTotal   *prometheus.CounterVec
	SearchAttempts *prometheus.CounterVec
}

// NewMetrics registers the counters on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		IngestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvault_ingest_total",
			Help: "Ingestion calls by result (archived, duplicate, error).",
		}, []string{"result"}),
		QueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvault_queries_total",
			Help: "Queries by classified intent.",
		}, []string{"intent"}),
		SearchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvault_search_attempts_total",
			Help: "Similarity-search attempts by threshold-ladder rung.",
		}, []string{"rung"}),
	}
}

// QueryHandled implements query.Observer.
func (m *Metrics) QueryHandled(intent query.Intent) {
	m.QueriesTotal.WithLabelValues(string(intent)).Inc()
}

// SearchAttempt implements query.Observer.
func (m *Metrics) SearchAttempt(rung int) {
	m.SearchAttempts.WithLabelValues(strconv.Itoa(rung)).Inc()
}
