package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

const namespace = "api_error_monitor"

// Capture outcomes.
const (
	OutcomeReported = "reported"
	OutcomeDisabled = "disabled"
	OutcomeFiltered = "filtered"
	OutcomeFailed   = "failed"
)

// Delivery statuses.
const (
	DeliverySent    = "sent"
	DeliveryQueued  = "queued"
	DeliverySkipped = "skipped"
)

var (
	// capturesTotal counts Capture calls by outcome.
	capturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "Captured errors by outcome",
	}, []string{"outcome"})

	// deliveriesTotal counts first delivery attempts by status.
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Sink deliveries by status",
	}, []string{"status"})

	// extractionsTotal counts which fields extraction recovered.
	// Labels: kind, key_found (true, false), types_found (true, false)
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extractions_total",
		Help:      "Extraction passes by error kind and recovered fields",
	}, []string{"kind", "key_found", "types_found"})

	storeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_failures_total",
		Help:      "Local store writes that failed",
	})

	// redeliveriesTotal counts drain results. Labels: result (delivered, dropped)
	redeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redeliveries_total",
		Help:      "Retry queue drain results",
	}, []string{"result"})

	retryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retry_queue_depth",
		Help:      "Reports waiting in the retry queue",
	})
)

func RecordCapture(outcome string) {
	capturesTotal.WithLabelValues(outcome).Inc()
}

func RecordDelivery(status string) {
	deliveriesTotal.WithLabelValues(status).Inc()
}

// RecordExtraction records what one extraction pass found.
func RecordExtraction(kind types.Kind, info types.ApiErrorInfo) {
	extractionsTotal.WithLabelValues(
		string(kind),
		boolLabel(info.Key != ""),
		boolLabel(info.ExpectedType != "" || info.ReceivedType != ""),
	).Inc()
}

func RecordStoreFailure() {
	storeFailuresTotal.Inc()
}

func RecordDrain(delivered, dropped int) {
	redeliveriesTotal.WithLabelValues("delivered").Add(float64(delivered))
	redeliveriesTotal.WithLabelValues("dropped").Add(float64(dropped))
}

// SetQueueDepth matches retry.Options.OnDepth.
func SetQueueDepth(depth int) {
	retryQueueDepth.Set(float64(depth))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
