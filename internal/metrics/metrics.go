package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportbot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportbot_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportbot_websocket_connections",
			Help: "Open chat websocket connections",
		},
	)

	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportbot_chat_messages_total",
			Help: "Total chat messages stored",
		},
		[]string{"sender"}, // "client" or "system"
	)

	IntentsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportbot_intents_matched_total",
			Help: "Total messages that selected an intent",
		},
		[]string{"intent"},
	)

	LookupRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportbot_lookup_requests_total",
			Help: "Total calls to external lookup services",
		},
		[]string{"service", "outcome"},
	)

	ClientLogs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportbot_client_logs_total",
			Help: "Total log records reported by chat clients",
		},
		[]string{"level"},
	)

	// Task metrics
	TasksLaunched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportbot_tasks_launched_total",
			Help: "Total background tasks submitted",
		},
		[]string{"name", "kind"}, // "once" or "scheduled"
	)

	TaskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportbot_task_outcomes_total",
			Help: "Total background task runs by outcome",
		},
		[]string{"name", "outcome"}, // "success", "soft_failure", "failure"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportbot_queue_depth",
			Help: "Jobs waiting in the task queue at last poll",
		},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportbot_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	DatabaseLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportbot_database_latency_seconds",
			Help:    "Database query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"backend"},
	)
)
