package store

import (
	"fmt"
)

// Reserved key namespaces. All readers and writers go through these
// helpers so the layout stays in one place.

const (
	KeyBacklog = "task:backlog"
	KeyActive  = "task:active"

	KeyEnergyUserReported   = "energy:user_reported"
	KeyEnergyUserReportedTS = "energy:user_reported_ts"
	KeyEnergyCompletions    = "energy:completions"
	KeyEnergyCurrent        = "energy:current"

	KeyProfilerCompletions = "profiler:task_completions"
	KeyProfilerLastResult  = "profiler:last_result"
	KeyProfilerTracker     = "profiler:temporal_tracker"

	KeyDraftsPending = "ghostworker:pending"

	ChannelApprovals   = "ghostworker:approvals"
	ChannelGhostEvents = "ghostworker:events"
	ChannelReminders   = "reminder:events"
)

// TaskKey is the hash holding one task's fields.
func TaskKey(id string) string {
	return fmt.Sprintf("task:%s", id)
}

// BucketKey is the set of task ids hashed into bucket n.
func BucketKey(n int) string {
	return fmt.Sprintf("bucket:%d", n)
}

// DraftKey is the hash holding one delegation draft.
func DraftKey(id string) string {
	return fmt.Sprintf("ghostworker:draft:%s", id)
}

// SentinelSnapshotKey holds the last-observed snapshot for a poller source.
func SentinelSnapshotKey(source string) string {
	return fmt.Sprintf("sentinel:snapshot:%s", source)
}

// SentinelFeedKey is where upstream items for a source are staged.
func SentinelFeedKey(source string) string {
	return fmt.Sprintf("sentinel:feed:%s", source)
}
