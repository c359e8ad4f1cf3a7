package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/store"
)

func mtsFixture(now time.Time) (*MTS, *buffer.Buffer) {
	buf := buffer.NewWithClock(store.NewMemoryStore(), fixedClock(now))
	return NewMTSWithClock(buf, fixedClock(now)), buf
}

func backlogTask(id string, duration, energy int) *model.Task {
	return &model.Task{
		ID:                id,
		Title:             "task " + id,
		Priority:          model.PriorityP2,
		EnergyCost:        energy,
		CognitiveLoad:     3,
		EstimatedDuration: duration,
		Status:            model.StatusBacklog,
	}
}

func activeTask(id string, prio model.Priority, duration int) *model.Task {
	t := backlogTask(id, duration, 2)
	t.Priority = prio
	t.Status = model.StatusActive
	return t
}

func TestHandleSwapInFitsBudget(t *testing.T) {
	now := time.Now()
	mts, buf := mtsFixture(now)
	ctx := context.Background()
	sts := NewSTSWithClock(fixedClock(now))

	for _, task := range []*model.Task{
		backlogTask("short1", 15, 2),
		backlogTask("short2", 15, 2),
		backlogTask("long", 45, 2),
	} {
		if err := buf.Put(ctx, task); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	swapped, err := mts.HandleSwapIn(ctx, 20, 3, nil, sts)
	if err != nil {
		t.Fatalf("HandleSwapIn failed: %v", err)
	}
	if len(swapped) != 1 {
		t.Fatalf("Expected 1 task within 20-min budget, got %d", len(swapped))
	}

	total := 0
	for _, task := range swapped {
		total += task.EstimatedDuration
		got, _ := buf.Get(ctx, task.ID)
		if got.Status != model.StatusActive {
			t.Errorf("Expected %s active, got %s", task.ID, got.Status)
		}
	}
	if total > 20 {
		t.Errorf("Swap-in exceeded budget: %d min", total)
	}
}

func TestHandleSwapInBothFit(t *testing.T) {
	now := time.Now()
	mts, buf := mtsFixture(now)
	ctx := context.Background()
	sts := NewSTSWithClock(fixedClock(now))

	buf.Put(ctx, backlogTask("a", 10, 2))
	buf.Put(ctx, backlogTask("b", 10, 2))

	swapped, err := mts.HandleSwapIn(ctx, 20, 3, nil, sts)
	if err != nil {
		t.Fatalf("HandleSwapIn failed: %v", err)
	}
	if len(swapped) != 2 {
		t.Errorf("Expected both 10-min tasks in 20-min budget, got %d", len(swapped))
	}
}

func TestHandleSwapOutMarksTasks(t *testing.T) {
	now := time.Now()
	mts, buf := mtsFixture(now)
	ctx := context.Background()
	sts := NewSTSWithClock(fixedClock(now))

	buf.Put(ctx, activeTask("bg", model.PriorityP3, 30))
	buf.Put(ctx, activeTask("urgent", model.PriorityP0, 30))

	result, err := mts.HandleSwapOut(ctx, 30, 3, sts)
	if err != nil {
		t.Fatalf("HandleSwapOut failed: %v", err)
	}
	if len(result.SwappedOut) != 1 || result.SwappedOut[0].ID != "bg" {
		t.Fatalf("Expected background task swapped out, got %v", result.SwappedOut)
	}
	got, _ := buf.Get(ctx, "bg")
	if got.Status != model.StatusSwappedOut {
		t.Errorf("Expected swapped_out status, got %s", got.Status)
	}
}

func TestHandleSwapOutLowEnergyDelegates(t *testing.T) {
	now := time.Now()
	mts, buf := mtsFixture(now)
	ctx := context.Background()
	sts := NewSTSWithClock(fixedClock(now))

	buf.Put(ctx, activeTask("out", model.PriorityP3, 30))
	p3 := activeTask("bg-queued", model.PriorityP3, 10)
	buf.Put(ctx, p3)
	sts.Enqueue(p3)

	result, err := mts.HandleSwapOut(ctx, 30, 2, sts)
	if err != nil {
		t.Fatalf("HandleSwapOut failed: %v", err)
	}
	if len(result.Delegated) == 0 {
		t.Fatal("Expected P3 queue drained at energy 2")
	}
	got, _ := buf.Get(ctx, "bg-queued")
	if got.Status != model.StatusDelegated {
		t.Errorf("Expected delegated status persisted, got %s", got.Status)
	}
}

func TestHandleDisruptionDispatch(t *testing.T) {
	now := time.Now()
	mts, buf := mtsFixture(now)
	ctx := context.Background()
	sts := NewSTSWithClock(fixedClock(now))

	buf.Put(ctx, backlogTask("in", 15, 2))
	buf.Put(ctx, activeTask("out", model.PriorityP3, 30))

	// Positive delta only swaps in
	result, err := mts.HandleDisruption(ctx, 20, 3, nil, sts)
	if err != nil {
		t.Fatalf("HandleDisruption failed: %v", err)
	}
	if len(result.SwappedIn) != 1 || len(result.SwappedOut) != 0 {
		t.Errorf("Expected swap-in only, got in=%d out=%d", len(result.SwappedIn), len(result.SwappedOut))
	}

	// Negative delta only swaps out
	result, err = mts.HandleDisruption(ctx, -30, 3, nil, sts)
	if err != nil {
		t.Fatalf("HandleDisruption failed: %v", err)
	}
	if len(result.SwappedIn) != 0 || len(result.SwappedOut) == 0 {
		t.Errorf("Expected swap-out only, got in=%d out=%d", len(result.SwappedIn), len(result.SwappedOut))
	}

	// Zero delta reorders without moving anything
	result, err = mts.HandleDisruption(ctx, 0, 3, nil, sts)
	if err != nil {
		t.Fatalf("HandleDisruption failed: %v", err)
	}
	if len(result.SwappedIn) != 0 || len(result.SwappedOut) != 0 || len(result.Delegated) != 0 {
		t.Error("Expected no swaps for zero delta")
	}
}

func TestHandleDisruptionZeroIsIdempotent(t *testing.T) {
	now := time.Now()
	mts, buf := mtsFixture(now)
	ctx := context.Background()
	sts := NewSTSWithClock(fixedClock(now))

	buf.Put(ctx, activeTask("a", model.PriorityP1, 30))
	buf.Put(ctx, activeTask("b", model.PriorityP2, 20))

	if _, err := mts.HandleDisruption(ctx, 0, 3, nil, sts); err != nil {
		t.Fatalf("HandleDisruption failed: %v", err)
	}
	first := sts.OrderedSchedule(5)

	if _, err := mts.HandleDisruption(ctx, 0, 3, nil, sts); err != nil {
		t.Fatalf("HandleDisruption failed: %v", err)
	}
	second := sts.OrderedSchedule(5)

	if len(first) != len(second) {
		t.Fatalf("Schedule length changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("Order changed at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestHandlePreemption(t *testing.T) {
	now := time.Now()
	mts, buf := mtsFixture(now)
	ctx := context.Background()
	sts := NewSTSWithClock(fixedClock(now))

	current := activeTask("current", model.PriorityP2, 30)
	current.Status = model.StatusInProgress
	buf.Put(ctx, current)
	sts.SetCurrent(current)

	urgent := backlogTask("urgent", 15, 3)
	urgent.Priority = model.PriorityP0

	preempted, err := mts.HandlePreemption(ctx, urgent, 3, sts)
	if err != nil {
		t.Fatalf("HandlePreemption failed: %v", err)
	}
	if preempted == nil || preempted.ID != "current" {
		t.Fatalf("Expected current preempted, got %v", preempted)
	}
	got, _ := buf.Get(ctx, "urgent")
	if got == nil || got.Status != model.StatusActive {
		t.Errorf("Expected urgent task activated, got %v", got)
	}
}
