package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of tasks per priority class in the
	// short-term scheduler.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rewind_sts_queue_depth",
		Help: "Current number of tasks per priority class",
	}, []string{"class"})

	// SchedulerDecisions counts scheduling decisions by type.
	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewind_scheduler_decisions_total",
		Help: "Total number of scheduling decisions made",
	}, []string{"decision", "reason"})

	// Disruptions counts classified disruptions by severity and action.
	Disruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewind_disruptions_total",
		Help: "Total number of classified disruptions",
	}, []string{"severity", "action"})

	// SwapOperations counts tasks moved by the medium-term scheduler.
	SwapOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewind_swap_operations_total",
		Help: "Tasks swapped in, out, or delegated during recovery",
	}, []string{"direction"})

	// PlanDayDuration tracks how long a full daily plan takes.
	PlanDayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rewind_plan_day_duration_seconds",
		Help:    "Duration of a long-term scheduler planning pass",
		Buckets: prometheus.DefBuckets,
	})

	// PollDuration tracks poller cycle durations per source.
	PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rewind_sentinel_poll_duration_seconds",
		Help:    "Duration of one poll cycle per context source",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// PollErrors counts swallowed per-cycle poller errors.
	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewind_sentinel_poll_errors_total",
		Help: "Poll cycles that failed and were skipped",
	}, []string{"source"})

	// ContextEvents counts events emitted by the pollers.
	ContextEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewind_context_events_total",
		Help: "Context change events emitted by source and type",
	}, []string{"source", "event_type"})

	// EnergyLevelGauge exposes the latest inferred energy level.
	EnergyLevelGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewind_energy_level",
		Help: "Current energy level estimate (1-5)",
	})

	// EnergyConfidence exposes the confidence of the latest estimate.
	EnergyConfidence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewind_energy_confidence",
		Help: "Confidence of the current energy estimate (0-1)",
	})

	// Delegations counts delegation outcomes.
	Delegations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewind_delegations_total",
		Help: "Delegated task outcomes",
	}, []string{"status"}) // executed, failed, rejected

	// DraftsPending tracks drafts awaiting approval.
	DraftsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewind_drafts_pending",
		Help: "Current number of drafts awaiting approval",
	})

	// ConnectedClients tracks live WebSocket connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewind_connected_clients",
		Help: "Current number of connected WebSocket clients",
	})

	// APIRateLimited tracks requests rejected by the storm limiters.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewind_api_rate_limited_total",
		Help: "API requests rejected by rate limiter (storm protection)",
	}, []string{"endpoint"})

	// StoreLatency tracks KV substrate roundtrip latency.
	StoreLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rewind_store_roundtrip_latency_seconds",
		Help:    "KV substrate operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// ProfileRecomputes counts profiler runs.
	ProfileRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewind_profile_recomputes_total",
		Help: "Total number of profiler recomputations",
	})

	// ProfileDrift counts detected profile drift events.
	ProfileDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewind_profile_drift_total",
		Help: "Profile snapshots whose axes moved past the drift threshold",
	})
)
