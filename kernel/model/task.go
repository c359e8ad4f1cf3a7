package model

import (
	"errors"
	"math"
	"time"
)

// NumBuckets is the fixed size of the buffer's bucket space. Power of two.
const NumBuckets = 16

// Priority classes. Lower value means more urgent.
type Priority int

const (
	PriorityP0 Priority = 0 // urgent
	PriorityP1 Priority = 1 // important
	PriorityP2 Priority = 2 // normal
	PriorityP3 Priority = 3 // background
)

func (p Priority) String() string {
	switch p {
	case PriorityP0:
		return "P0"
	case PriorityP1:
		return "P1"
	case PriorityP2:
		return "P2"
	case PriorityP3:
		return "P3"
	default:
		return "P?"
	}
}

// Status is the task lifecycle state.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusActive     Status = "active"
	StatusInProgress Status = "in_progress"
	StatusSwappedOut Status = "swapped_out"
	StatusCompleted  Status = "completed"
	StatusDelegated  Status = "delegated"
)

// AutomatableTypes are task types the delegation worker can execute.
var AutomatableTypes = map[string]bool{
	"email_reply":        true,
	"slack_message":      true,
	"linkedin_post":      true,
	"meeting_reschedule": true,
	"cancel_appointment": true,
	"doc_update":         true,
}

// Task is the unit of work. The buffer is the sole owner of persisted
// Task records; everything else holds ids and looks up on demand.
type Task struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Priority          Priority   `json:"priority"`
	EnergyCost        int        `json:"energy_cost"`
	EstimatedDuration int        `json:"estimated_duration"` // minutes
	Deadline          *time.Time `json:"deadline,omitempty"`
	PreferredStart    *time.Time `json:"preferred_start,omitempty"`
	CognitiveLoad     int        `json:"cognitive_load"`
	TaskType          string     `json:"task_type,omitempty"`
	Status            Status     `json:"status"`
	ProgressNotes     string     `json:"progress_notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Validate checks field invariants before a task enters the buffer.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Title == "" {
		return errors.New("task title is required")
	}
	if t.EnergyCost < 1 || t.EnergyCost > 5 {
		return errors.New("energy_cost must be in [1,5]")
	}
	if t.CognitiveLoad < 1 || t.CognitiveLoad > 5 {
		return errors.New("cognitive_load must be in [1,5]")
	}
	if t.EstimatedDuration <= 0 {
		return errors.New("estimated_duration must be > 0")
	}
	if t.Priority < PriorityP0 || t.Priority > PriorityP3 {
		return errors.New("priority must be in {0,1,2,3}")
	}
	return nil
}

// inverseHourScore maps time-until-instant into a 0-10 urgency band.
// Past instants saturate at 10.
func inverseHourScore(now time.Time, at time.Time) float64 {
	hours := at.Sub(now).Hours()
	return math.Min(10, 10/math.Max(hours, 0.1))
}

// DeadlineUrgency scores how close the deadline is, 0 if none.
func (t *Task) DeadlineUrgency(now time.Time) float64 {
	if t.Deadline == nil {
		return 0
	}
	return inverseHourScore(now, *t.Deadline)
}

// ExecutionTimeScore favors short tasks: min(10, 100/duration).
func (t *Task) ExecutionTimeScore() float64 {
	return math.Min(10, 100/math.Max(float64(t.EstimatedDuration), 1))
}

// PreferredStartScore is neutral (5) when unset, 10 once the preferred
// start has passed, otherwise the inverse-hour band.
func (t *Task) PreferredStartScore(now time.Time) float64 {
	if t.PreferredStart == nil {
		return 5
	}
	if !t.PreferredStart.After(now) {
		return 10
	}
	return inverseHourScore(now, *t.PreferredStart)
}

// Bucket computes the buffer bucket from the composite urgency hash.
func (t *Task) Bucket(now time.Time) int {
	composite := 0.45*t.DeadlineUrgency(now) + 0.30*t.ExecutionTimeScore() + 0.25*t.PreferredStartScore(now)
	return int(math.Floor(composite)) % NumBuckets
}

// HoursToDeadline returns hours until the deadline, or false if none is set.
func (t *Task) HoursToDeadline(now time.Time) (float64, bool) {
	if t.Deadline == nil {
		return 0, false
	}
	return t.Deadline.Sub(now).Hours(), true
}

// Automatable reports whether the task type can be delegated.
func (t *Task) Automatable() bool {
	return AutomatableTypes[t.TaskType]
}
