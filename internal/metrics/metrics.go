package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finextractor",
			Name:      "provider_requests_total",
			Help:      "Total provider requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finextractor",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of provider requests by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	pagesClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finextractor",
			Name:      "pages_classified_total",
			Help:      "Pages classified, labeled by statement type (or rejected)",
		},
		[]string{"statement"},
	)

	pagesExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finextractor",
			Name:      "pages_extracted_total",
			Help:      "Extraction outcomes by result (success, failed)",
		},
		[]string{"result"},
	)

	batchesDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finextractor",
			Name:      "batches_dispatched_total",
			Help:      "Total extraction batches dispatched",
		},
	)

	documentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finextractor",
			Name:      "documents_processed_total",
			Help:      "Documents processed by result (success, partial, failed)",
		},
		[]string{"result"},
	)

	estimatedCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finextractor",
			Name:      "estimated_cost_total",
			Help:      "Cumulative estimated inference spend across all documents",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "finextractor",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream and dlq",
		},
		[]string{"type"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(providerReqs, providerLatency, pagesClassified, pagesExtracted, batchesDispatched, documentsProcessed, estimatedCost, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(provider, model, result string, dur time.Duration) {
	providerReqs.WithLabelValues(provider, model, result).Inc()
	providerLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func IncClassified(statement string) { pagesClassified.WithLabelValues(statement).Inc() }
func IncExtracted(result string)     { pagesExtracted.WithLabelValues(result).Inc() }
func IncBatch()                      { batchesDispatched.Inc() }
func IncDocument(result string)      { documentsProcessed.WithLabelValues(result).Inc() }
func AddCost(cost float64)           { estimatedCost.Add(cost) }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
