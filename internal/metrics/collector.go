// Package metrics exposes relay counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridgebot"

var (
	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Inbound messages and commands extracted by adapters",
		},
		[]string{"provider", "kind"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Relayed messages per target provider and outcome",
		},
		[]string{"from", "to", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time to send one relayed message to a target conversation",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"to"},
	)

	attachmentsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_sent_total",
			Help:      "Outbound attachments per provider, kind and outcome",
		},
		[]string{"provider", "kind", "status"},
	)

	mediaGroupsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_groups_settled_total",
			Help:      "Albums reassembled from separate messages",
		},
		[]string{"reason"},
	)

	adapterUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adapter_up",
			Help:      "1 while the adapter's receive loop runs",
		},
		[]string{"provider"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests served by the health endpoint",
		},
		[]string{"method", "path", "status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// EventReceived counts an inbound event.
func EventReceived(provider, kind string) {
	eventsReceived.WithLabelValues(provider, kind).Inc()
}

// Delivery records one relay to a target conversation.
func Delivery(from, to string, took time.Duration, err error) {
	deliveries.WithLabelValues(from, to, status(err)).Inc()
	deliveryDuration.WithLabelValues(to).Observe(took.Seconds())
}

// AttachmentSent records one outbound attachment.
func AttachmentSent(provider, kind string, err error) {
	attachmentsSent.WithLabelValues(provider, kind, status(err)).Inc()
}

// MediaGroupSettled records one reassembled album.
func MediaGroupSettled(reason string) {
	mediaGroupsSettled.WithLabelValues(reason).Inc()
}

// AdapterUp flags whether a provider is receiving.
func AdapterUp(provider string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	adapterUp.WithLabelValues(provider).Set(v)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}
