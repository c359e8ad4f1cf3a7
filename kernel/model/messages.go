package model

import (
	"encoding/json"
	"time"
)

// ContextEventType enumerates the raw signals emitted by the pollers.
type ContextEventType string

const (
	EventMeetingEndedEarly  ContextEventType = "meeting_ended_early"
	EventMeetingOverrun     ContextEventType = "meeting_overrun"
	EventCancelledMeeting   ContextEventType = "cancelled_meeting"
	EventScheduleConflict   ContextEventType = "schedule_conflict"
	EventNewEmail           ContextEventType = "new_email"
	EventSlackUrgentMessage ContextEventType = "slack_urgent_message"
	EventTaskCompleted      ContextEventType = "task_completed"
	EventNewCalendarEvent   ContextEventType = "new_calendar_event"
)

// ContextChangeEvent is a raw observation from an external source.
// Metadata stays opaque on this boundary; components parse what they need.
type ContextChangeEvent struct {
	EventType       ContextEventType       `json:"event_type"`
	Source          string                 `json:"source"`
	Timestamp       time.Time              `json:"timestamp"`
	AffectedTaskIDs []string               `json:"affected_task_ids"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Severity of a classified disruption.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Action is the recommended scheduling response.
type Action string

const (
	ActionSwapIn        Action = "swap_in"
	ActionSwapOut       Action = "swap_out"
	ActionRescheduleAll Action = "reschedule_all"
	ActionDelegate      Action = "delegate"
)

// DisruptionEvent is a classified context change with a recommended action.
type DisruptionEvent struct {
	Severity          Severity  `json:"severity"`
	AffectedTaskIDs   []string  `json:"affected_task_ids"`
	FreedMinutes      int       `json:"freed_minutes"` // signed: negative means time lost
	RecommendedAction Action    `json:"recommended_action"`
	ContextSummary    string    `json:"context_summary"`
	Timestamp         time.Time `json:"timestamp"`
}

// EnergySource tags how an energy reading was produced.
type EnergySource string

const (
	EnergyUserReported EnergySource = "user_reported"
	EnergyInferred     EnergySource = "inferred"
	EnergyTimeBased    EnergySource = "time_based"
	EnergyFallback     EnergySource = "fallback"
)

// EnergyLevel is the monitor's current estimate.
type EnergyLevel struct {
	Level      int          `json:"level"` // 1-5
	Confidence float64      `json:"confidence"`
	Source     EnergySource `json:"source"`
	Timestamp  time.Time    `json:"timestamp"`
}

// DelegationTask asks the ghost worker to execute an automatable task.
type DelegationTask struct {
	TaskID           string            `json:"task_id"`
	TaskType         string            `json:"task_type"`
	Context          map[string]string `json:"context,omitempty"`
	ApprovalRequired bool              `json:"approval_required"`
	MaxCost          int               `json:"max_cost"`
	Sender           string            `json:"sender,omitempty"`
}

// DraftStatus is the lifecycle state of a delegated draft.
type DraftStatus string

const (
	DraftPending  DraftStatus = "pending"
	DraftExecuted DraftStatus = "executed"
	DraftRejected DraftStatus = "rejected"
	DraftFailed   DraftStatus = "failed"
)

// Draft is a delegation in progress, awaiting approval or execution.
type Draft struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	TaskType  string      `json:"task_type"`
	Recipient string      `json:"recipient,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	Subject   string      `json:"subject,omitempty"`
	Body      string      `json:"body"`
	Status    DraftStatus `json:"status"`
	CostUnits int         `json:"cost_units"`
	CreatedAt time.Time   `json:"created_at"`
}

// TaskCompletion reports a terminal delegation outcome back to the sender.
type TaskCompletion struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"` // executed, failed, rejected
	Result    string `json:"result,omitempty"`
	CostUnits int    `json:"cost_units"`
	Recipient string `json:"recipient,omitempty"` // original sender
}

// ApprovalMessage arrives on the approvals pub/sub channel.
type ApprovalMessage struct {
	Action     string `json:"action"` // approve, reject
	DraftID    string `json:"draft_id"`
	EditedBody string `json:"edited_body,omitempty"`
}

// UserProfile holds the learned scheduling parameters.
type UserProfile struct {
	PeakHours         []int              `json:"peak_hours"`
	AvgTaskDurations  map[string]int     `json:"avg_task_durations"`
	EnergyCurve       [24]int            `json:"energy_curve"`
	AdherenceScore    float64            `json:"adherence_score"`
	EstimationBias    float64            `json:"estimation_bias"`
	DistractionLabels map[string]float64 `json:"distraction_patterns,omitempty"`
	AutomationComfort map[string]float64 `json:"automation_comfort"`
	Archetype         Archetype          `json:"archetype"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Archetype classifies the user's execution x growth profile.
type Archetype string

const (
	ArchetypeCompoundingBuilder Archetype = "compounding_builder"
	ArchetypeReliableOperator   Archetype = "reliable_operator"
	ArchetypeEmergingTalent     Archetype = "emerging_talent"
	ArchetypeAtRisk             Archetype = "at_risk"
)

// Envelope is the wire frame for everything sent to clients.
type Envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// NewEnvelope stamps the payload with the current time in RFC 3339.
func NewEnvelope(msgType string, payload interface{}) Envelope {
	return Envelope{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// Envelope types sent to clients.
const (
	MsgUpdatedSchedule   = "updated_schedule"
	MsgDisruptionEvent   = "disruption_event"
	MsgEnergyUpdate      = "energy_update"
	MsgAgentActivity     = "agent_activity"
	MsgReminder          = "reminder"
	MsgProfileUpdate     = "profile_update"
	MsgGhostworkerDraft  = "ghostworker_draft"
	MsgGhostWorkerStatus = "ghost_worker_status"
	MsgCalendarUpdate    = "calendar_update"
	MsgPing              = "ping"
)

// SwapOp records a single swap performed while handling a disruption.
type SwapOp struct {
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Direction string `json:"direction"` // in, out, delegated
}

// AgentActivity is a human-readable trace of what a subsystem just did.
type AgentActivity struct {
	Agent       string `json:"agent"`
	Message     string `json:"message"`
	Type        string `json:"type"` // info, ghostworker, warning
	ActionID    string `json:"action_id,omitempty"`
	ActionLabel string `json:"action_label,omitempty"`
}

// VoiceCommand arrives from clients over the socket.
type VoiceCommand struct {
	CommandType string `json:"command_type"` // start_task, complete_task, snooze_reminder
	TaskID      string `json:"task_id,omitempty"`
	Minutes     int    `json:"minutes,omitempty"`
}

// TaskCompletionRecord is one observed execution, consumed by the energy
// monitor and the profiler.
type TaskCompletionRecord struct {
	TaskID           string    `json:"task_id"`
	ActualMinutes    int       `json:"actual_minutes"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	CompletedAt      time.Time `json:"completed_at"`
}

// DecodeMetadataInt reads an integer out of opaque event metadata,
// tolerating the float64 that JSON decoding produces.
func DecodeMetadataInt(md map[string]interface{}, key string, fallback int) int {
	if md == nil {
		return fallback
	}
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

// DecodeMetadataBool reads a bool out of opaque event metadata.
func DecodeMetadataBool(md map[string]interface{}, key string) bool {
	if md == nil {
		return false
	}
	v, _ := md[key].(bool)
	return v
}
