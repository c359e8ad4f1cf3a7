package engine

import (
	"fmt"
	"time"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
)

// escalate bumps severity one level.
func escalate(s model.Severity) model.Severity {
	switch s {
	case model.SeverityMinor:
		return model.SeverityMajor
	default:
		return model.SeverityCritical
	}
}

// classifySeverity applies the per-event rules: a baseline plus an
// escalation threshold on the number of affected tasks or an urgency flag.
func classifySeverity(ev model.ContextChangeEvent) model.Severity {
	affected := len(ev.AffectedTaskIDs)

	switch ev.EventType {
	case model.EventMeetingEndedEarly:
		if affected >= 3 {
			return model.SeverityMajor
		}
		return model.SeverityMinor
	case model.EventCancelledMeeting:
		return model.SeverityMinor
	case model.EventScheduleConflict:
		if affected >= 4 {
			return model.SeverityCritical
		}
		return model.SeverityMajor
	case model.EventMeetingOverrun:
		if affected >= 3 {
			return model.SeverityCritical
		}
		return model.SeverityMajor
	case model.EventNewEmail, model.EventSlackUrgentMessage:
		if model.DecodeMetadataBool(ev.Metadata, "urgent") {
			return escalate(model.SeverityMinor)
		}
		return model.SeverityMinor
	case model.EventTaskCompleted:
		return model.SeverityMinor
	default:
		return model.SeverityMinor
	}
}

// CalculateFreedMinutes computes the signed time impact of an event.
// Positive means time was freed, negative means time was lost.
func CalculateFreedMinutes(ev model.ContextChangeEvent) int {
	switch ev.EventType {
	case model.EventMeetingEndedEarly, model.EventCancelledMeeting:
		return model.DecodeMetadataInt(ev.Metadata, "freed_minutes", 15)
	case model.EventScheduleConflict, model.EventMeetingOverrun:
		return -model.DecodeMetadataInt(ev.Metadata, "lost_minutes", 30)
	case model.EventNewEmail:
		if model.DecodeMetadataBool(ev.Metadata, "urgent") {
			return -15
		}
		return 0
	case model.EventTaskCompleted:
		return model.DecodeMetadataInt(ev.Metadata, "saved_minutes", 0)
	case model.EventSlackUrgentMessage:
		return 0
	case model.EventNewCalendarEvent:
		// A new meeting blocks its own duration out of the day.
		return -model.DecodeMetadataInt(ev.Metadata, "lost_minutes", 0)
	default:
		return 0
	}
}

// DetermineAction maps severity and time impact onto a recovery action.
func DetermineAction(severity model.Severity, freedMinutes int) model.Action {
	if severity == model.SeverityCritical {
		return model.ActionRescheduleAll
	}
	if freedMinutes > 0 {
		return model.ActionSwapIn
	}
	if freedMinutes < 0 {
		if severity == model.SeverityMajor {
			return model.ActionSwapOut
		}
		return model.ActionDelegate
	}
	return model.ActionSwapIn
}

// Classify turns a raw context change into a disruption with a
// recommended recovery action.
func Classify(ev model.ContextChangeEvent) model.DisruptionEvent {
	severity := classifySeverity(ev)
	freed := CalculateFreedMinutes(ev)
	action := DetermineAction(severity, freed)

	observability.Disruptions.WithLabelValues(string(severity), string(action)).Inc()

	return model.DisruptionEvent{
		Severity:          severity,
		AffectedTaskIDs:   ev.AffectedTaskIDs,
		FreedMinutes:      freed,
		RecommendedAction: action,
		ContextSummary:    fmt.Sprintf("%s from %s (%d tasks affected)", ev.EventType, ev.Source, len(ev.AffectedTaskIDs)),
		Timestamp:         time.Now(),
	}
}
