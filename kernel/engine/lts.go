package engine

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
)

// Daily plan scoring weights.
const (
	WeightUrgency   = 0.40
	WeightPriority  = 0.30
	WeightPeakAlign = 0.15
	WeightExecTime  = 0.15
)

// priorityScore maps classes onto the 0-10 scoring band.
var priorityScore = map[model.Priority]float64{
	model.PriorityP0: 10,
	model.PriorityP1: 7,
	model.PriorityP2: 4,
	model.PriorityP3: 1,
}

// LTS is the long-term scheduler: the daily planner that selects and
// bin-packs backlog tasks into the active set.
type LTS struct {
	buf *buffer.Buffer
	now func() time.Time
}

func NewLTS(buf *buffer.Buffer) *LTS {
	return &LTS{buf: buf, now: time.Now}
}

// NewLTSWithClock pins the clock for deterministic tests.
func NewLTSWithClock(buf *buffer.Buffer, now func() time.Time) *LTS {
	return &LTS{buf: buf, now: now}
}

func peakAlignment(t *model.Task, inPeak bool) float64 {
	if !inPeak {
		return 5
	}
	if t.CognitiveLoad >= 4 {
		return 8
	}
	if t.CognitiveLoad <= 2 {
		return 3
	}
	return 5
}

func (l *LTS) score(t *model.Task, now time.Time, inPeak bool) float64 {
	return WeightUrgency*t.DeadlineUrgency(now) +
		WeightPriority*priorityScore[ClassifyPriority(t, now)] +
		WeightPeakAlign*peakAlignment(t, inPeak) +
		WeightExecTime*t.ExecutionTimeScore()
}

// PlanDay selects a day's worth of work from the backlog. Durations are
// inflated by the learned estimation bias before packing, so a chronic
// underestimator gets a plan that survives reality. Returns the selected
// tasks and a fresh STS populated with them.
func (l *LTS) PlanDay(ctx context.Context, availableHours float64, peakHours []int, estimationBias float64) ([]*model.Task, *STS, error) {
	start := time.Now()
	defer func() {
		observability.PlanDayDuration.Observe(time.Since(start).Seconds())
	}()

	now := l.now()
	backlog, err := l.buf.ListBacklog(ctx)
	if err != nil {
		return nil, nil, err
	}

	if estimationBias <= 0 {
		estimationBias = 1
	}
	for _, t := range backlog {
		inflated := int(math.Floor(float64(t.EstimatedDuration) * estimationBias))
		if inflated < 1 {
			inflated = 1
		}
		t.EstimatedDuration = inflated
	}

	inPeak := false
	for _, h := range peakHours {
		if now.Hour() == h {
			inPeak = true
			break
		}
	}

	sort.Slice(backlog, func(i, j int) bool {
		si, sj := l.score(backlog[i], now, inPeak), l.score(backlog[j], now, inPeak)
		if si != sj {
			return si > sj
		}
		if backlog[i].EstimatedDuration != backlog[j].EstimatedDuration {
			return backlog[i].EstimatedDuration < backlog[j].EstimatedDuration
		}
		return backlog[i].ID < backlog[j].ID
	})

	// Greedy pack. Keep scanning past an overflowing task so smaller
	// tasks further down can still fit.
	budget := int(availableHours * 60)
	var selected []*model.Task
	for _, t := range backlog {
		if t.EstimatedDuration > budget {
			continue
		}
		t.Status = model.StatusActive
		if err := l.buf.Put(ctx, t); err != nil {
			return selected, nil, err
		}
		selected = append(selected, t)
		budget -= t.EstimatedDuration
	}

	sts := NewSTSWithClock(l.now)
	sts.EnqueueBatch(selected)

	log.Printf("PLAN-DAY: selected %d/%d tasks, %d min unused (bias %.2f)",
		len(selected), len(backlog), budget, estimationBias)
	return selected, sts, nil
}

// ReplanRemaining re-reads the active set and rebuilds the STS ordering.
func (l *LTS) ReplanRemaining(ctx context.Context, sts *STS) error {
	active, err := l.buf.ListActive(ctx)
	if err != nil {
		return err
	}
	sts.Reorder(active)
	return nil
}
