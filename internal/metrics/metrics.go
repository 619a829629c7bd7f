// Package metrics holds the Prometheus collectors for the messaging core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "messages_created_total",
		Help:      "Messages persisted by the store.",
	})

	MessagesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "messages_read_total",
		Help:      "Unread to read transitions.",
	})

	UploadsAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "uploads_accepted_total",
		Help:      "Attachment files stored, by attachment type.",
	}, []string{"type"})

	UploadsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "uploads_rejected_total",
		Help:      "Upload batches rejected by validation.",
	})

	OrphansSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "orphan_uploads_swept_total",
		Help:      "Stored files deleted because no message references them.",
	})

	PushDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "push_delivered_total",
		Help:      "Push events queued to an open connection.",
	})

	PushDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "push_dropped_total",
		Help:      "Push events dropped, by reason.",
	}, []string{"reason"})

	PushConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "messaging",
		Name:      "push_connections",
		Help:      "Authenticated push connections currently open.",
	})

	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(
		MessagesCreated,
		MessagesRead,
		UploadsAccepted,
		UploadsRejected,
		OrphansSwept,
		PushDelivered,
		PushDropped,
		PushConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
