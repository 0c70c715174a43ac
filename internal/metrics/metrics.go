// Package metrics exposes this daemon's Prometheus counters and gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LoveWonYoung/obdtelemetry/internal/logging"
)

var (
	RequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vehicle_requests_sent_total",
		Help: "Total UDS requests transmitted by the vehicle evaluator.",
	})
	RequestsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vehicle_requests_timeout_total",
		Help: "Total UDS requests that never received a matching response.",
	})
	ResponsesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehicle_responses_decoded_total",
		Help: "Total responses successfully decoded, by request name.",
	}, []string{"request"})
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehicle_decode_errors_total",
		Help: "Total decode failures, by request name.",
	}, []string{"request"})
	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canio_backend_errors_total",
		Help: "Total transport-level errors reported by the CAN backend, by kind.",
	}, []string{"kind"})
	BrokerPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publishes_total",
		Help: "Total values published to the data broker, by item.",
	}, []string{"item"})
	BrokerDrainLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_drain_seconds",
		Help:    "Time spent draining the data broker to subscriber callbacks.",
		Buckets: prometheus.DefBuckets,
	})
	ISOTPReassemblyActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "isotp_reassembly_active",
		Help: "1 while an ISO-TP multi-frame reassembly is in progress, 0 otherwise.",
	})
)

// StartHTTP serves Prometheus metrics at /metrics on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
