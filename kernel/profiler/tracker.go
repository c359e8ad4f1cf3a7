package profiler

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rewindlabs/rewind/kernel/observability"
	"github.com/rewindlabs/rewind/kernel/store"
)

const (
	driftThreshold = 0.15
	snapshotsKept  = 60
)

// Snapshot is one day's profile axes, kept for drift detection.
type Snapshot struct {
	Date               string  `json:"date"`
	ExecutionComposite float64 `json:"execution_composite"`
	GrowthComposite    float64 `json:"growth_composite"`
	AdherenceScore     float64 `json:"adherence_score"`
	EstimationBias     float64 `json:"estimation_bias"`
}

// ProfileUpdateEvent is emitted when the profile moved enough that
// downstream consumers should re-read it.
type ProfileUpdateEvent struct {
	ChangedFields []string `json:"changed_fields"`
	MaxMagnitude  float64  `json:"max_magnitude"`
	Previous      Snapshot `json:"previous"`
	Current       Snapshot `json:"current"`
}

// TemporalTracker keeps a rolling window of profile snapshots in the
// substrate and flags day-over-day drift.
type TemporalTracker struct {
	store store.Store
	now   func() time.Time
}

func NewTemporalTracker(s store.Store) *TemporalTracker {
	return &TemporalTracker{store: s, now: time.Now}
}

// Latest returns the most recent snapshot, or nil when none exists.
func (t *TemporalTracker) Latest(ctx context.Context) (*Snapshot, error) {
	raw, err := t.store.RecentRecords(ctx, store.KeyProfilerTracker, 1)
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw[0]), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// History returns up to limit snapshots, newest first.
func (t *TemporalTracker) History(ctx context.Context, limit int) ([]Snapshot, error) {
	raw, err := t.store.RecentRecords(ctx, store.KeyProfilerTracker, int64(limit))
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(raw))
	for _, r := range raw {
		var snap Snapshot
		if err := json.Unmarshal([]byte(r), &snap); err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Append stores the snapshot and compares it against the previous one.
// Returns a drift event when any axis moved past the threshold.
func (t *TemporalTracker) Append(ctx context.Context, snap Snapshot) (*ProfileUpdateEvent, error) {
	prev, err := t.Latest(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err := t.store.PushRecord(ctx, store.KeyProfilerTracker, string(data), snapshotsKept); err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}

	deltas := map[string]float64{
		"execution_composite": snap.ExecutionComposite - prev.ExecutionComposite,
		"growth_composite":    snap.GrowthComposite - prev.GrowthComposite,
		"adherence_score":     snap.AdherenceScore - prev.AdherenceScore,
		"estimation_bias":     snap.EstimationBias - prev.EstimationBias,
	}

	event := ProfileUpdateEvent{Previous: *prev, Current: snap}
	for _, field := range []string{"execution_composite", "growth_composite", "adherence_score", "estimation_bias"} {
		mag := math.Abs(deltas[field])
		if mag > driftThreshold {
			event.ChangedFields = append(event.ChangedFields, field)
		}
		if mag > event.MaxMagnitude {
			event.MaxMagnitude = mag
		}
	}
	if len(event.ChangedFields) == 0 {
		return nil, nil
	}
	observability.ProfileDrift.Inc()
	return &event, nil
}
