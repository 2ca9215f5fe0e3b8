package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Message outcomes recorded by MessagesTotal
const (
	OutcomeNew          = "new"
	OutcomeSkipped      = "skipped"
	OutcomeParseError   = "parse_error"
	OutcomePersistError = "persist_error"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_messages_total",
			Help: "Total number of fetched messages by pipeline outcome (count)",
		},
		[]string{"outcome"},
	)

	ClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_classified_total",
			Help: "Total number of classified messages by category (count)",
		},
		[]string{"category"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailtriage_fetch_duration_ms",
			Help:    "Duration of a bounded fetch session in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"status"},
	)

	ListenCacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailtriage_listen_cache_size",
			Help: "Number of summaries held by a live-listen session (count)",
		},
		[]string{"account"},
	)

	ConnectionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_connection_errors_total",
			Help: "Total number of mailbox connection failures by operation (count)",
		},
		[]string{"op"},
	)
)

var registerOnce sync.Once

// Register adds the pipeline collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(MessagesTotal)
		prometheus.MustRegister(ClassifiedTotal)
		prometheus.MustRegister(FetchDuration)
		prometheus.MustRegister(ListenCacheSize)
		prometheus.MustRegister(ConnectionErrorsTotal)
	})
}

// ObserveFetch records the duration of a fetch session since start
func ObserveFetch(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	FetchDuration.WithLabelValues(status).Observe(float64(time.Since(start).Milliseconds()))
}
