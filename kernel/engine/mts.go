package engine

import (
	"context"
	"log"
	"time"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
)

// MTS is the medium-term scheduler: stateless disruption-recovery
// operators over the buffer and an STS handle. Business outcomes are
// reported through SwapResult, never as errors.
type MTS struct {
	buf *buffer.Buffer
	now func() time.Time
}

// SwapResult records what a recovery pass actually moved.
type SwapResult struct {
	SwappedIn  []*model.Task
	SwappedOut []*model.Task
	Delegated  []*model.Task
}

// Ops flattens the result into client-facing swap operations.
func (r SwapResult) Ops() []model.SwapOp {
	var ops []model.SwapOp
	for _, t := range r.SwappedIn {
		ops = append(ops, model.SwapOp{TaskID: t.ID, Title: t.Title, Direction: "in"})
	}
	for _, t := range r.SwappedOut {
		ops = append(ops, model.SwapOp{TaskID: t.ID, Title: t.Title, Direction: "out"})
	}
	for _, t := range r.Delegated {
		ops = append(ops, model.SwapOp{TaskID: t.ID, Title: t.Title, Direction: "delegated"})
	}
	return ops
}

func NewMTS(buf *buffer.Buffer) *MTS {
	return &MTS{buf: buf, now: time.Now}
}

// NewMTSWithClock pins the clock for deterministic tests.
func NewMTSWithClock(buf *buffer.Buffer, now func() time.Time) *MTS {
	return &MTS{buf: buf, now: now}
}

// HandleSwapIn fills freed minutes with backlog tasks that fit the
// remaining budget, activating each and handing it to the STS.
func (m *MTS) HandleSwapIn(ctx context.Context, freedMinutes int, energyLevel int, peakHours []int, sts *STS) ([]*model.Task, error) {
	now := m.now()
	candidates, err := m.buf.FindSwapInCandidates(ctx, freedMinutes, energyLevel, now, peakHours)
	if err != nil {
		return nil, err
	}

	remaining := freedMinutes
	var selected []*model.Task
	for _, t := range candidates {
		if t.EstimatedDuration > remaining {
			continue
		}
		t.Status = model.StatusActive
		if err := m.buf.Put(ctx, t); err != nil {
			return selected, err
		}
		sts.Enqueue(t)
		selected = append(selected, t)
		remaining -= t.EstimatedDuration
		observability.SwapOperations.WithLabelValues("in").Inc()
		log.Printf("SWAP-IN: %s (%d min, %d min budget left)", t.ID, t.EstimatedDuration, remaining)
	}
	return selected, nil
}

// HandleSwapOut pushes active tasks back to recover lost minutes. When
// energy is depleted the background class is drained to the ghost worker
// as well.
func (m *MTS) HandleSwapOut(ctx context.Context, lostMinutes int, energyLevel int, sts *STS) (SwapResult, error) {
	var result SwapResult

	candidates, err := m.buf.FindSwapOutCandidates(ctx, lostMinutes)
	if err != nil {
		return result, err
	}
	for _, t := range candidates {
		t.Status = model.StatusSwappedOut
		if err := m.buf.Put(ctx, t); err != nil {
			return result, err
		}
		result.SwappedOut = append(result.SwappedOut, t)
		observability.SwapOperations.WithLabelValues("out").Inc()
		log.Printf("SWAP-OUT: %s (%d min recovered)", t.ID, t.EstimatedDuration)
	}

	if energyLevel <= 2 {
		for _, t := range sts.AutoDelegateP3(energyLevel) {
			if err := m.buf.Put(ctx, t); err != nil {
				return result, err
			}
			result.Delegated = append(result.Delegated, t)
			observability.SwapOperations.WithLabelValues("delegated").Inc()
		}
	}
	return result, nil
}

// HandleDisruption dispatches on the sign of the time delta: positive
// frees time, negative loses it, zero just reorders the active set.
func (m *MTS) HandleDisruption(ctx context.Context, freedMinutes int, energyLevel int, peakHours []int, sts *STS) (SwapResult, error) {
	switch {
	case freedMinutes > 0:
		in, err := m.HandleSwapIn(ctx, freedMinutes, energyLevel, peakHours, sts)
		return SwapResult{SwappedIn: in}, err
	case freedMinutes < 0:
		return m.HandleSwapOut(ctx, -freedMinutes, energyLevel, sts)
	default:
		active, err := m.buf.ListActive(ctx)
		if err != nil {
			return SwapResult{}, err
		}
		sts.Reorder(active)
		return SwapResult{}, nil
	}
}

// HandlePreemption activates the urgent task and interrupts the current
// one when it outranks it. Returns the preempted task, if any.
func (m *MTS) HandlePreemption(ctx context.Context, urgent *model.Task, energyLevel int, sts *STS) (*model.Task, error) {
	urgent.Status = model.StatusActive
	if err := m.buf.Put(ctx, urgent); err != nil {
		return nil, err
	}

	preempted := sts.Preempt(urgent, energyLevel)
	if preempted != nil {
		if err := m.buf.Put(ctx, preempted); err != nil {
			return preempted, err
		}
		log.Printf("PREEMPT: %s interrupted by %s", preempted.ID, urgent.ID)
	}
	return preempted, nil
}
