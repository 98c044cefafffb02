package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of dispatched chat commands.",
		},
		[]string{"command", "result"},
	)

	PresenceTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_ticks_total",
			Help: "Total number of presence scan ticks.",
		},
		[]string{"result"},
	)

	PresenceTickOverrunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_tick_overruns_total",
			Help: "Ticks skipped because the previous tick was still running.",
		},
	)

	PresenceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "Total number of presence status transitions.",
		},
		[]string{"status"},
	)

	PresenceOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_residents",
			Help: "Residents currently online.",
		},
	)

	DoorOpensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "door_opens_total",
			Help: "Total number of door open attempts.",
		},
		[]string{"actor", "outcome"},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_tokens_total",
			Help: "Guest token lifecycle operations.",
		},
		[]string{"op", "result"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Events not delivered to the broker.",
		},
		[]string{"routing_key", "reason"},
	)
)

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		CommandsTotal,
		PresenceTicksTotal,
		PresenceTickOverrunsTotal,
		PresenceTransitionsTotal,
		PresenceOnline,
		DoorOpensTotal,
		TokensTotal,
		EventsDroppedTotal,
	)
}
