package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline metrics shared by every worker binary. All low-cardinality: queue
// and channel names are closed sets, reject reasons come from the validator.

var (
	// ImagesIngestedTotal counts images accepted from the drop directory.
	ImagesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trapnet_images_ingested_total",
			Help: "Total images accepted into the pipeline",
		},
	)

	// ImagesRejectedTotal counts quarantined files by reject reason.
	ImagesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapnet_images_rejected_total",
			Help: "Total files quarantined by reason",
		},
		[]string{"reason"},
	)

	// QueueMessagesTotal counts consumed messages by queue and outcome
	// (ack or nak).
	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapnet_queue_messages_total",
			Help: "Total queue messages consumed by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	// QueueHandlerDuration tracks per-message handler latency.
	QueueHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trapnet_queue_handler_duration_seconds",
			Help:    "Handler latency per queue message",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"queue"},
	)

	// InferenceDuration tracks ONNX session latency by model.
	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trapnet_inference_duration_seconds",
			Help:    "Model inference latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"model"},
	)

	// NotificationsTotal counts channel deliveries by outcome (sent, failed).
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapnet_notifications_total",
			Help: "Total notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)

func RecordImageIngested() {
	ImagesIngestedTotal.Inc()
}

func RecordImageRejected(reason string) {
	ImagesRejectedTotal.WithLabelValues(reason).Inc()
}

func RecordQueueMessage(queue, outcome string, elapsed time.Duration) {
	QueueMessagesTotal.WithLabelValues(queue, outcome).Inc()
	QueueHandlerDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

func RecordInference(model string, elapsed time.Duration) {
	InferenceDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

func RecordNotification(channel, outcome string) {
	NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// Serve exposes /metrics on addr in the background. An empty addr disables
// the endpoint.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("[Metrics] serving on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("[Metrics] server stopped: %v", err)
		}
	}()
}
