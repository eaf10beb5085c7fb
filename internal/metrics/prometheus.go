package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the arena server
type Metrics struct {
	// UDP packet metrics
	PacketsReceived    *prometheus.CounterVec
	PacketsDropped     prometheus.Counter
	PacketsSent        prometheus.Counter
	SendErrors         prometheus.Counter
	ParseErrors        prometheus.Counter
	ProtocolViolations *prometheus.CounterVec
	QueueSize          prometheus.Gauge

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsAdmitted prometheus.Counter
	SessionsRejected *prometheus.CounterVec
	SessionsEvicted  *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Reliable delivery metrics
	Retransmissions  *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	// Simulation metrics
	Ticks              prometheus.Counter
	TickDuration       prometheus.Histogram
	Entities           *prometheus.GaugeVec
	BulletsCreated     prometheus.Counter
	BulletDuplicates   prometheus.Counter
	AsteroidsDestroyed prometheus.Counter
	ShipHits           prometheus.Counter
	MatchesStarted     prometheus.Counter
	MatchesFinished    prometheus.Counter
	MatchDuration      prometheus.Histogram

	// Task pool metrics
	TasksSubmitted prometheus.Counter
	TasksRejected  prometheus.Counter
	TaskFailures   *prometheus.CounterVec

	// Spectator metrics
	Spectators prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP packet metrics
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_packets_received_total",
			Help: "Total number of UDP datagrams received by command",
		}, []string{"command"}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_packets_dropped_total",
			Help: "Total number of datagrams dropped because the ingress queue was full",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_packets_sent_total",
			Help: "Total number of UDP datagrams sent",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_send_errors_total",
			Help: "Total number of failed UDP sends",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_parse_errors_total",
			Help: "Total number of malformed datagrams",
		}),
		ProtocolViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_protocol_violations_total",
			Help: "Total number of well-formed datagrams discarded by the dispatcher",
		}, []string{"reason"}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_ingress_queue_size",
			Help: "Current number of datagrams waiting for the dispatcher",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_active_sessions",
			Help: "Current number of connected sessions",
		}),
		SessionsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_sessions_admitted_total",
			Help: "Total number of admitted join requests",
		}),
		SessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_sessions_rejected_total",
			Help: "Total number of rejected join requests",
		}, []string{"reason"}),
		SessionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_sessions_evicted_total",
			Help: "Total number of evicted sessions",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_session_duration_seconds",
			Help:    "Lifetime of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Reliable delivery metrics
		Retransmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_reliable_retransmissions_total",
			Help: "Total number of reliable message retransmissions",
		}, []string{"message"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_reliable_deliveries_total",
			Help: "Total number of completed reliable deliveries",
		}, []string{"message", "outcome"}),
		DeliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arena_reliable_delivery_duration_seconds",
			Help:    "Time from first transmission until a delivery completes",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		}, []string{"message"}),

		// Simulation metrics
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_ticks_total",
			Help: "Total number of simulation ticks",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_tick_duration_seconds",
			Help:    "Time spent inside a simulation tick",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 10), // 50us to ~25ms
		}),
		Entities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arena_entities",
			Help: "Current number of entities in the world",
		}, []string{"kind"}),
		BulletsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_bullets_created_total",
			Help: "Total number of bullets spawned",
		}),
		BulletDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_bullet_duplicates_total",
			Help: "Total number of retransmitted NEW_BULLET requests",
		}),
		AsteroidsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_asteroids_destroyed_total",
			Help: "Total number of asteroids destroyed by bullets",
		}),
		ShipHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_ship_hits_total",
			Help: "Total number of lives lost to asteroids",
		}),
		MatchesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_matches_started_total",
			Help: "Total number of matches started",
		}),
		MatchesFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_matches_finished_total",
			Help: "Total number of matches finished",
		}),
		MatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_match_duration_seconds",
			Help:    "Duration of matches in seconds",
			Buckets: prometheus.LinearBuckets(10, 10, 12), // 10s to 2 minutes
		}),

		// Task pool metrics
		TasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_tasks_submitted_total",
			Help: "Total number of background tasks accepted",
		}),
		TasksRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_tasks_rejected_total",
			Help: "Total number of background tasks rejected by a full pool",
		}),
		TaskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_task_failures_total",
			Help: "Total number of background tasks that failed",
		}, []string{"kind"}),

		Spectators: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_spectators",
			Help: "Current number of websocket spectators",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arena_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the received counter for a command
func (m *Metrics) RecordPacketReceived(command string) {
	m.PacketsReceived.WithLabelValues(command).Inc()
}

// RecordPacketDropped increments the dropped packets counter
func (m *Metrics) RecordPacketDropped() {
	m.PacketsDropped.Inc()
}

// RecordPacketSent increments the sent counter or the send error counter
func (m *Metrics) RecordPacketSent(err error) {
	if err != nil {
		m.SendErrors.Inc()
		return
	}
	m.PacketsSent.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordProtocolViolation counts a datagram the dispatcher refused to apply
func (m *Metrics) RecordProtocolViolation(reason string) {
	m.ProtocolViolations.WithLabelValues(reason).Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordSessionAdmitted records an admission and the new session count
func (m *Metrics) RecordSessionAdmitted(active int) {
	m.SessionsAdmitted.Inc()
	m.ActiveSessions.Set(float64(active))
}

// RecordSessionRejected records a refused join request
func (m *Metrics) RecordSessionRejected(reason string) {
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// RecordSessionEvicted records an eviction and how long the session lived
func (m *Metrics) RecordSessionEvicted(reason string, lifetime time.Duration, active int) {
	m.SessionsEvicted.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
	m.ActiveSessions.Set(float64(active))
}

// RecordRetransmission increments the retransmission counter for a message
func (m *Metrics) RecordRetransmission(message string) {
	m.Retransmissions.WithLabelValues(message).Inc()
}

// RecordDelivery records the outcome of a reliable delivery
func (m *Metrics) RecordDelivery(message, outcome string, duration time.Duration) {
	m.Deliveries.WithLabelValues(message, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(message).Observe(duration.Seconds())
}

// RecordTick records one simulation tick and the entity counts it left behind
func (m *Metrics) RecordTick(duration time.Duration, ships, bullets, asteroids int) {
	m.Ticks.Inc()
	m.TickDuration.Observe(duration.Seconds())
	m.Entities.WithLabelValues("ship").Set(float64(ships))
	m.Entities.WithLabelValues("bullet").Set(float64(bullets))
	m.Entities.WithLabelValues("asteroid").Set(float64(asteroids))
}

// RecordBullet records a NEW_BULLET request
func (m *Metrics) RecordBullet(created bool) {
	if created {
		m.BulletsCreated.Inc()
		return
	}
	m.BulletDuplicates.Inc()
}

// RecordCollisions adds the collisions resolved during a tick
func (m *Metrics) RecordCollisions(asteroidsDestroyed, shipHits int) {
	m.AsteroidsDestroyed.Add(float64(asteroidsDestroyed))
	m.ShipHits.Add(float64(shipHits))
}

// RecordMatchStarted increments the matches started counter
func (m *Metrics) RecordMatchStarted() {
	m.MatchesStarted.Inc()
}

// RecordMatchFinished increments the matches finished counter and records duration
func (m *Metrics) RecordMatchFinished(duration time.Duration) {
	m.MatchesFinished.Inc()
	m.MatchDuration.Observe(duration.Seconds())
}

// RecordTaskSubmitted records a task submission attempt
func (m *Metrics) RecordTaskSubmitted(accepted bool) {
	if accepted {
		m.TasksSubmitted.Inc()
		return
	}
	m.TasksRejected.Inc()
}

// RecordTaskFailure records a task that returned an error or panicked
func (m *Metrics) RecordTaskFailure(kind string) {
	m.TaskFailures.WithLabelValues(kind).Inc()
}

// SetSpectators sets the current number of spectators
func (m *Metrics) SetSpectators(count int) {
	m.Spectators.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
