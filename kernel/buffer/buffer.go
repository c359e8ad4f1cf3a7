package buffer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/store"
)

// Buffer is the bucketed task store. It exclusively owns Task records:
// every mutation for a task id routes through here so the bucket and
// status indexes always match the persisted fields.
type Buffer struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store) *Buffer {
	return &Buffer{store: s, now: time.Now}
}

// NewWithClock injects a clock. Tests use this to pin bucket computation.
func NewWithClock(s store.Store, now func() time.Time) *Buffer {
	return &Buffer{store: s, now: now}
}

func statusSet(status model.Status) string {
	switch status {
	case model.StatusBacklog:
		return store.KeyBacklog
	case model.StatusActive, model.StatusInProgress:
		return store.KeyActive
	default:
		return ""
	}
}

// Put persists the task and moves its id into the bucket and status sets
// matching the current field values. Stale memberships from a previous
// version of the task are removed first.
func (b *Buffer) Put(ctx context.Context, t *model.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task %s: %w", t.ID, err)
	}
	now := b.now()

	prev, err := b.store.GetTask(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("failed to read previous task %s: %w", t.ID, err)
	}

	t.UpdatedAt = now
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if err := b.store.SaveTask(ctx, t); err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}

	newBucket := t.Bucket(now)
	if prev != nil {
		// The old membership sits in the bucket computed at the previous
		// put time, which urgency drift may have moved past. Sweep every
		// other bucket instead of recomputing where it should be.
		for n := 0; n < model.NumBuckets; n++ {
			if n == newBucket {
				continue
			}
			if err := b.store.RemoveFromSet(ctx, store.BucketKey(n), t.ID); err != nil {
				return err
			}
		}
		if oldSet := statusSet(prev.Status); oldSet != "" && oldSet != statusSet(t.Status) {
			if err := b.store.RemoveFromSet(ctx, oldSet, t.ID); err != nil {
				return err
			}
		}
	}

	if err := b.store.AddToSet(ctx, store.BucketKey(newBucket), t.ID); err != nil {
		return err
	}
	if set := statusSet(t.Status); set != "" {
		if err := b.store.AddToSet(ctx, set, t.ID); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the task or nil when absent.
func (b *Buffer) Get(ctx context.Context, id string) (*model.Task, error) {
	return b.store.GetTask(ctx, id)
}

// Delete removes the task from the record and every index.
func (b *Buffer) Delete(ctx context.Context, id string) error {
	t, err := b.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	for n := 0; n < model.NumBuckets; n++ {
		if err := b.store.RemoveFromSet(ctx, store.BucketKey(n), id); err != nil {
			return err
		}
	}
	if err := b.store.RemoveFromSet(ctx, store.KeyBacklog, id); err != nil {
		return err
	}
	if err := b.store.RemoveFromSet(ctx, store.KeyActive, id); err != nil {
		return err
	}
	return b.store.DeleteTask(ctx, id)
}

// SetStatus transitions a task and refreshes its index membership.
func (b *Buffer) SetStatus(ctx context.Context, id string, status model.Status) (*model.Task, error) {
	t, err := b.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	t.Status = status
	if err := b.Put(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Buffer) listByStatus(ctx context.Context, key string, want ...model.Status) ([]*model.Task, error) {
	ids, err := b.store.SetMembers(ctx, key)
	if err != nil {
		return nil, err
	}
	var tasks []*model.Task
	for _, id := range ids {
		t, err := b.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue // stale index entry
		}
		for _, s := range want {
			if t.Status == s {
				tasks = append(tasks, t)
				break
			}
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// ListBacklog returns tasks currently in the backlog.
func (b *Buffer) ListBacklog(ctx context.Context) ([]*model.Task, error) {
	return b.listByStatus(ctx, store.KeyBacklog, model.StatusBacklog)
}

// ListActive returns active and in-progress tasks.
func (b *Buffer) ListActive(ctx context.Context) ([]*model.Task, error) {
	return b.listByStatus(ctx, store.KeyActive, model.StatusActive, model.StatusInProgress)
}

// FindSwapInCandidates scans all buckets for backlog tasks that fit the
// freed time and the current energy level. During peak hours the ranking
// favors cognitively heavy work; otherwise pure deadline urgency.
func (b *Buffer) FindSwapInCandidates(ctx context.Context, availableMinutes int, energyLevel int, now time.Time, peakHours []int) ([]*model.Task, error) {
	seen := make(map[string]bool)
	var candidates []*model.Task

	for n := 0; n < model.NumBuckets; n++ {
		ids, err := b.store.SetMembers(ctx, store.BucketKey(n))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			t, err := b.store.GetTask(ctx, id)
			if err != nil {
				return nil, err
			}
			if t == nil || t.Status != model.StatusBacklog {
				continue
			}
			if t.EstimatedDuration > availableMinutes || t.EnergyCost > energyLevel {
				continue
			}
			candidates = append(candidates, t)
		}
	}

	inPeak := false
	for _, h := range peakHours {
		if now.Hour() == h {
			inPeak = true
			break
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, c := candidates[i], candidates[j]
		if inPeak && a.CognitiveLoad != c.CognitiveLoad {
			return a.CognitiveLoad > c.CognitiveLoad
		}
		ua, uc := a.DeadlineUrgency(now), c.DeadlineUrgency(now)
		if ua != uc {
			return ua > uc
		}
		if a.EstimatedDuration != c.EstimatedDuration {
			return a.EstimatedDuration < c.EstimatedDuration
		}
		return a.ID < c.ID
	})
	return candidates, nil
}

// FindSwapOutCandidates picks active tasks to push back when time is
// lost. Background work with distant deadlines goes first; the prefix
// stops once enough minutes are recovered.
func (b *Buffer) FindSwapOutCandidates(ctx context.Context, minutesNeeded int) ([]*model.Task, error) {
	active, err := b.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := b.now()

	var eligible []*model.Task
	for _, t := range active {
		if t.Status == model.StatusInProgress {
			continue
		}
		eligible = append(eligible, t)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, c := eligible[i], eligible[j]
		if a.Priority != c.Priority {
			return a.Priority > c.Priority // P3 before P0
		}
		ua, uc := a.DeadlineUrgency(now), c.DeadlineUrgency(now)
		if ua != uc {
			return ua < uc // least urgent first
		}
		return a.ID < c.ID
	})

	var out []*model.Task
	total := 0
	for _, t := range eligible {
		if total >= minutesNeeded {
			break
		}
		out = append(out, t)
		total += t.EstimatedDuration
	}
	return out, nil
}

// BucketDistribution returns live task counts per bucket.
func (b *Buffer) BucketDistribution(ctx context.Context) (map[int]int, error) {
	dist := make(map[int]int, model.NumBuckets)
	for n := 0; n < model.NumBuckets; n++ {
		ids, err := b.store.SetMembers(ctx, store.BucketKey(n))
		if err != nil {
			return nil, err
		}
		count := 0
		for _, id := range ids {
			t, err := b.store.GetTask(ctx, id)
			if err != nil {
				return nil, err
			}
			if t != nil {
				count++
			}
		}
		dist[n] = count
	}
	return dist, nil
}
