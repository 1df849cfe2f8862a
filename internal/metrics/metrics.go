package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "session",
		Name:      "transitions_total",
		Help:      "Channel session state transitions by target state",
	}, []string{"state"})

	SessionsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cursorsync",
		Subsystem: "session",
		Name:      "connected",
		Help:      "Number of channel sessions currently in the Connected state",
	})

	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "session",
		Name:      "connect_attempts_total",
		Help:      "Initial connect attempts by result (success, failure, aborted)",
	}, []string{"result"})

	ReconnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "session",
		Name:      "reconnect_attempts_total",
		Help:      "Transport auto-reconnect attempts by result",
	}, []string{"result"})

	Invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "hub",
		Name:      "invocations_total",
		Help:      "Outbound hub invocations by method and result",
	}, []string{"method", "result"})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "hub",
		Name:      "events_total",
		Help:      "Inbound hub events by target name",
	}, []string{"target"})

	EndpointHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cursorsync",
		Subsystem: "balancer",
		Name:      "endpoint_healthy",
		Help:      "1 if the endpoint is currently marked healthy, else 0",
	}, []string{"endpoint"})

	EndpointResponseSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cursorsync",
		Subsystem: "balancer",
		Name:      "endpoint_response_seconds",
		Help:      "Last successful health probe latency per endpoint",
	}, []string{"endpoint"})

	Selections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "balancer",
		Name:      "selections_total",
		Help:      "Endpoint selections by strategy and outcome (healthy, fallback, empty)",
	}, []string{"strategy", "outcome"})

	HealthProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "balancer",
		Name:      "health_probes_total",
		Help:      "Health probes by result",
	}, []string{"result"})

	PositionsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "cursor",
		Name:      "positions_sent_total",
		Help:      "Cursor positions handed to the hub",
	})

	PositionsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "cursor",
		Name:      "positions_dropped_total",
		Help:      "Cursor positions not delivered, by reason",
	}, []string{"reason"})

	PositionsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cursorsync",
		Subsystem: "cursor",
		Name:      "positions_received_total",
		Help:      "Cursor positions received from the hub",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(SessionTransitions)
		prometheus.MustRegister(SessionsConnected)
		prometheus.MustRegister(ConnectAttempts)
		prometheus.MustRegister(ReconnectAttempts)
		prometheus.MustRegister(Invocations)
		prometheus.MustRegister(InboundEvents)
		prometheus.MustRegister(EndpointHealthy)
		prometheus.MustRegister(EndpointResponseSeconds)
		prometheus.MustRegister(Selections)
		prometheus.MustRegister(HealthProbes)
		prometheus.MustRegister(PositionsSent)
		prometheus.MustRegister(PositionsDropped)
		prometheus.MustRegister(PositionsReceived)
	})
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolGauge converts a flag to a gauge value.
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
