package observability

import (
	"net/http"
	"strconv"
	"time"

	"chatclient/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

var connectionStates = []models.ConnectionState{
	models.StateDisconnected,
	models.StateConnecting,
	models.StateConnected,
	models.StateErrorNetwork,
	models.StateErrorUnknown,
}

var (
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatclient_connection_state",
			Help: "Current connection state; 1 for the active state, 0 otherwise.",
		},
		[]string{"state"},
	)
	connectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_connect_attempts_total",
			Help: "Total number of websocket connect attempts by outcome.",
		},
		[]string{"result"},
	)
	envelopesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_envelopes_received_total",
			Help: "Total number of inbound envelopes by type.",
		},
		[]string{"type"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_messages_sent_total",
			Help: "Total number of outgoing chat messages by outcome.",
		},
		[]string{"result"},
	)
	syncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_sync_total",
			Help: "Total number of remote synchronizations by kind and outcome.",
		},
		[]string{"kind", "result"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_admin_requests_total",
			Help: "Total number of admin API requests.",
		},
		[]string{"method", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatclient_admin_request_duration_seconds",
			Help:    "Admin API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		connectionState,
		connectAttemptsTotal,
		envelopesReceivedTotal,
		messagesSentTotal,
		syncTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

func SetConnectionState(state models.ConnectionState) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(string(s)).Set(v)
	}
}

func IncConnectAttempt(result string) {
	connectAttemptsTotal.WithLabelValues(result).Inc()
}

func IncEnvelope(typ string) {
	envelopesReceivedTotal.WithLabelValues(typ).Inc()
}

func IncMessageSent(result string) {
	messagesSentTotal.WithLabelValues(result).Inc()
}

func IncSync(kind, result string) {
	syncTotal.WithLabelValues(kind, result).Inc()
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMetricsMiddleware counts requests and records their latency.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
