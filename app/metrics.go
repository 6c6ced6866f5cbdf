package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

const metricsNamespace = "docextract"

var metricsRegistry = prometheus.NewRegistry()

var (
	creditsAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "credits_added_total",
		Help:      "Credits added to profiles, by reason.",
	}, []string{"reason"})

	creditsDeducted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "credits_deducted_total",
		Help:      "Credits removed from profiles, by reason.",
	}, []string{"reason"})

	extractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "extractions_total",
		Help:      "Document extractions, by final status.",
	}, []string{"status"})

	extractionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "extraction_duration_seconds",
		Help:      "Time from download to stored fields.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	})

	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "webhook_events_total",
		Help:      "Webhook deliveries, by provider, event type and outcome.",
	}, []string{"provider", "type", "outcome"})

	quickBooksSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "quickbooks_syncs_total",
		Help:      "QuickBooks bill syncs, by status.",
	}, []string{"status"})
)

func init() {
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		creditsAdded,
		creditsDeducted,
		extractionsTotal,
		extractionDuration,
		webhookEvents,
		quickBooksSyncs,
	)
}

// MetricsHandler serves the registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func recordCreditChange(reason models.CreditReason, delta int) {
	switch {
	case delta > 0:
		creditsAdded.WithLabelValues(string(reason)).Add(float64(delta))
	case delta < 0:
		creditsDeducted.WithLabelValues(string(reason)).Add(float64(-delta))
	}
}
