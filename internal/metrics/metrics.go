package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/eventbus"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// MetricsService exposes Prometheus metrics for Infinity Status
type MetricsService struct {
	eventBus *eventbus.EventBus
	gatherer prometheus.Gatherer

	// Counters
	timerActions       *prometheus.CounterVec
	cyclesCompleted    *prometheus.CounterVec
	syncFailures       *prometheus.CounterVec
	scheduleRuns       *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	activityChanges    *prometheus.CounterVec
	droppedEvents      *prometheus.CounterVec

	// Gauges
	runningTimers    prometheus.Gauge
	timerRemaining   *prometheus.GaugeVec
	timerCycles      *prometheus.GaugeVec
	websocketClients prometheus.Gauge
}

// NewMetricsService creates metrics registered with the default Prometheus registry
func NewMetricsService(eb *eventbus.EventBus) *MetricsService {
	return NewMetricsServiceWithRegistry(eb, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsServiceWithRegistry creates metrics registered with reg and served from gatherer.
// Tests pass a fresh prometheus.NewRegistry() for both.
func NewMetricsServiceWithRegistry(eb *eventbus.EventBus, reg prometheus.Registerer, gatherer prometheus.Gatherer) *MetricsService {
	m := &MetricsService{
		eventBus: eb,
		gatherer: gatherer,

		timerActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infinity_timer_actions_total",
				Help: "Total number of timer control actions",
			},
			[]string{"timer", "action"}, // start, stop, reset, restart, duration, create
		),

		cyclesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infinity_timer_cycles_completed_total",
				Help: "Total number of completed timer cycles observed",
			},
			[]string{"timer"},
		),

		syncFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infinity_sync_failures_total",
				Help: "Total number of shared store failures by operation",
			},
			[]string{"operation"}, // read, write, synchronize
		),

		scheduleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infinity_schedule_runs_total",
				Help: "Total number of scheduled actions by outcome",
			},
			[]string{"action", "outcome"}, // success, failed
		),

		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infinity_notifications_total",
				Help: "Total number of notifications sent by outcome",
			},
			[]string{"outcome"}, // sent, failed
		),

		activityChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infinity_activity_changes_total",
				Help: "Total number of counter and log changes",
			},
			[]string{"kind"}, // counter, log
		),

		droppedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infinity_dropped_events_total",
				Help: "Events dropped because a subscriber was too slow",
			},
			[]string{"event_type"},
		),

		runningTimers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "infinity_running_timers",
				Help: "Number of timers currently running",
			},
		),

		timerRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "infinity_timer_remaining_seconds",
				Help: "Seconds remaining in the current cycle",
			},
			[]string{"timer"},
		),

		timerCycles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "infinity_timer_cycles",
				Help: "Completed cycles per timer",
			},
			[]string{"timer"},
		),

		websocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "infinity_websocket_clients",
				Help: "Number of connected websocket viewers",
			},
		),
	}

	// Register all metrics
	reg.MustRegister(
		m.timerActions,
		m.cyclesCompleted,
		m.syncFailures,
		m.scheduleRuns,
		m.notificationsTotal,
		m.activityChanges,
		m.droppedEvents,
		m.runningTimers,
		m.timerRemaining,
		m.timerCycles,
		m.websocketClients,
	)

	return m
}

// Start subscribes to events and updates metrics
func (m *MetricsService) Start() {
	m.eventBus.Subscribe(domain.TimerCreated, m.handleTimerAction("create"))
	m.eventBus.Subscribe(domain.TimerStarted, m.handleTimerAction("start"))
	m.eventBus.Subscribe(domain.TimerStopped, m.handleTimerAction("stop"))
	m.eventBus.Subscribe(domain.TimerReset, m.handleTimerAction("reset"))
	m.eventBus.Subscribe(domain.TimerRestarted, m.handleTimerAction("restart"))
	m.eventBus.Subscribe(domain.TimerDurationChanged, m.handleTimerAction("duration"))
	m.eventBus.Subscribe(domain.TimersSynchronized, m.handleSynchronized)
	m.eventBus.Subscribe(domain.TimerCycleCompleted, m.handleCycleCompleted)
	m.eventBus.Subscribe(domain.SyncFailed, m.handleSyncFailed)
	m.eventBus.Subscribe(domain.ScheduleTriggered, m.handleScheduleTriggered)
	m.eventBus.Subscribe(domain.NotificationSent, m.handleNotificationSent)
	m.eventBus.Subscribe(domain.NotificationFailed, m.handleNotificationFailed)
	m.eventBus.Subscribe(domain.CounterChanged, m.handleActivity("counter"))
	m.eventBus.Subscribe(domain.ActivityLogged, m.handleActivity("log"))

	m.eventBus.OnDrop = m.RecordDroppedEvent

	logger.Infof("Metrics service started")
}

// Handler returns the Prometheus HTTP handler for /metrics endpoint
func (m *MetricsService) Handler() http.Handler {
	if m.gatherer == nil || m.gatherer == prometheus.DefaultGatherer {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveReadings updates the per-timer gauges from one poll.
func (m *MetricsService) ObserveReadings(readings []domain.Reading) {
	running := 0
	for _, r := range readings {
		if !r.Found {
			continue
		}
		if r.Running {
			running++
		}
		m.timerRemaining.WithLabelValues(r.ID).Set(r.Remaining.Seconds())
		m.timerCycles.WithLabelValues(r.ID).Set(float64(r.Cycles))
	}
	m.runningTimers.Set(float64(running))
}

// SetWebSocketClients records the number of connected viewers.
func (m *MetricsService) SetWebSocketClients(n int) {
	m.websocketClients.Set(float64(n))
}

// RecordDroppedEvent counts an event a subscriber could not keep up with.
func (m *MetricsService) RecordDroppedEvent(eventType domain.EventType) {
	m.droppedEvents.WithLabelValues(string(eventType)).Inc()
}

// Event handlers

func (m *MetricsService) handleTimerAction(action string) func(domain.Event) {
	return func(event domain.Event) {
		m.timerActions.WithLabelValues(event.AggregateID, action).Inc()
	}
}

func (m *MetricsService) handleSynchronized(event domain.Event) {
	timers, _ := event.GetStringSlice("timers")
	for _, id := range timers {
		m.timerActions.WithLabelValues(id, "synchronize").Inc()
	}
}

func (m *MetricsService) handleCycleCompleted(event domain.Event) {
	added := event.GetInt64Or("cycles_added", 1)
	if added <= 0 {
		return
	}
	m.cyclesCompleted.WithLabelValues(event.AggregateID).Add(float64(added))
}

func (m *MetricsService) handleSyncFailed(event domain.Event) {
	m.syncFailures.WithLabelValues(event.GetStringOr("operation", "unknown")).Inc()
}

func (m *MetricsService) handleScheduleTriggered(event domain.Event) {
	outcome := "success"
	if _, failed := event.GetString("error"); failed {
		outcome = "failed"
	}
	m.scheduleRuns.WithLabelValues(event.GetStringOr("action", "unknown"), outcome).Inc()
}

func (m *MetricsService) handleNotificationSent(event domain.Event) {
	m.notificationsTotal.WithLabelValues("sent").Inc()
}

func (m *MetricsService) handleNotificationFailed(event domain.Event) {
	m.notificationsTotal.WithLabelValues("failed").Inc()
}

func (m *MetricsService) handleActivity(kind string) func(domain.Event) {
	return func(event domain.Event) {
		m.activityChanges.WithLabelValues(kind).Inc()
	}
}
