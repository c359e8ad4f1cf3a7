package energy

import (
	"context"
	"testing"
	"time"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/store"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestUserReportedOverrides(t *testing.T) {
	now := time.Now()
	m := NewMonitorWithClock(store.NewMemoryStore(), fixedClock(now))
	ctx := context.Background()

	level, err := m.ReportLevel(ctx, 1)
	if err != nil {
		t.Fatalf("ReportLevel failed: %v", err)
	}
	if level.Level != 1 {
		t.Errorf("Expected level 1, got %d", level.Level)
	}
	if level.Source != model.EnergyUserReported {
		t.Errorf("Expected user_reported source, got %s", level.Source)
	}
	if level.Confidence < 0.89 || level.Confidence > 0.91 {
		t.Errorf("Expected fresh report confidence ~0.9, got %f", level.Confidence)
	}
}

func TestUserReportedConfidenceDecays(t *testing.T) {
	base := time.Now()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	m := NewMonitorWithClock(ms, fixedClock(base))
	if _, err := m.ReportLevel(ctx, 4); err != nil {
		t.Fatalf("ReportLevel failed: %v", err)
	}

	// One hour later: halfway through the window, confidence ~0.7
	later := NewMonitorWithClock(ms, fixedClock(base.Add(time.Hour)))
	level, err := later.Compute(ctx)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if level.Source != model.EnergyUserReported {
		t.Fatalf("Expected user_reported within 2h, got %s", level.Source)
	}
	if level.Confidence < 0.69 || level.Confidence > 0.71 {
		t.Errorf("Expected confidence ~0.7 after 1h, got %f", level.Confidence)
	}
}

func TestUserReportedExpires(t *testing.T) {
	base := time.Now()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	m := NewMonitorWithClock(ms, fixedClock(base))
	if _, err := m.ReportLevel(ctx, 1); err != nil {
		t.Fatalf("ReportLevel failed: %v", err)
	}

	stale := NewMonitorWithClock(ms, fixedClock(base.Add(3*time.Hour)))
	level, err := stale.Compute(ctx)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if level.Source == model.EnergyUserReported {
		t.Error("Expected stale report ignored after 2h")
	}
}

func TestCurveBaseline(t *testing.T) {
	// 10:00: baseline is the morning peak (5)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	m := NewMonitorWithClock(store.NewMemoryStore(), fixedClock(now))

	level, err := m.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if level.Level != 5 {
		t.Errorf("Expected baseline 5 at 10:00, got %d", level.Level)
	}
	if level.Source != model.EnergyTimeBased {
		t.Errorf("Expected time_based with no data, got %s", level.Source)
	}
	if level.Confidence != 0.4 {
		t.Errorf("Expected 0.4 confidence with no signals, got %f", level.Confidence)
	}
}

func TestVelocityLifts(t *testing.T) {
	now := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC) // baseline 4
	ms := store.NewMemoryStore()
	m := NewMonitorWithClock(ms, fixedClock(now))
	ctx := context.Background()

	// Finishing in half the estimated time: ratio 0.5 < 0.8 -> +1
	for i := 0; i < 3; i++ {
		rec := model.TaskCompletionRecord{
			TaskID:           "t",
			ActualMinutes:    15,
			EstimatedMinutes: 30,
			CompletedAt:      now.Add(-30 * time.Minute),
		}
		if _, err := m.RecordCompletion(ctx, rec); err != nil {
			t.Fatalf("RecordCompletion failed: %v", err)
		}
	}

	level, err := m.Compute(ctx)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if level.Level != 5 {
		t.Errorf("Expected baseline 4 + velocity 1 = 5, got %d", level.Level)
	}
	if level.Source != model.EnergyInferred {
		t.Errorf("Expected inferred source, got %s", level.Source)
	}
	if level.Confidence != 0.6 {
		t.Errorf("Expected 0.6 confidence (3 completions, no curve), got %f", level.Confidence)
	}
}

func TestVelocityDrops(t *testing.T) {
	now := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC) // baseline 4
	m := NewMonitorWithClock(store.NewMemoryStore(), fixedClock(now))
	ctx := context.Background()

	rec := model.TaskCompletionRecord{
		TaskID:           "slow",
		ActualMinutes:    60,
		EstimatedMinutes: 30,
		CompletedAt:      now.Add(-20 * time.Minute),
	}
	if _, err := m.RecordCompletion(ctx, rec); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}

	level, err := m.Compute(ctx)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if level.Level != 3 {
		t.Errorf("Expected baseline 4 - 1 for ratio 2.0, got %d", level.Level)
	}
}

func TestStallDetection(t *testing.T) {
	now := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC) // baseline 4
	m := NewMonitorWithClock(store.NewMemoryStore(), fixedClock(now))
	ctx := context.Background()

	// Only completion is 3h old: outside the velocity window and past
	// the 30-min inactivity threshold, so the stall penalty applies.
	rec := model.TaskCompletionRecord{
		TaskID:           "old",
		ActualMinutes:    30,
		EstimatedMinutes: 30,
		CompletedAt:      now.Add(-3 * time.Hour),
	}
	if _, err := m.RecordCompletion(ctx, rec); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}

	level, err := m.Compute(ctx)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if level.Level != 3 {
		t.Errorf("Expected stall penalty (4-1), got %d", level.Level)
	}
}

func TestProfilerCurveConfidence(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	m := NewMonitorWithClock(store.NewMemoryStore(), fixedClock(now))
	ctx := context.Background()

	var curve [24]int
	for i := range curve {
		curve[i] = 3
	}
	m.SetCurve(curve)

	level, err := m.Compute(ctx)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if level.Level != 3 {
		t.Errorf("Expected learned curve baseline 3, got %d", level.Level)
	}
	if level.Confidence != 0.7 {
		t.Errorf("Expected 0.7 confidence (curve, no completions), got %f", level.Confidence)
	}
}

func TestCurrentUsesCache(t *testing.T) {
	now := time.Now()
	ms := store.NewMemoryStore()
	m := NewMonitorWithClock(ms, fixedClock(now))
	ctx := context.Background()

	first, err := m.Compute(ctx)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	cached, err := m.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if cached.Level != first.Level || cached.Source != first.Source {
		t.Errorf("Cached value mismatch: %+v vs %+v", cached, first)
	}

	// The substrate cache must hold the same value for external readers
	raw, _ := ms.Get(ctx, store.KeyEnergyCurrent)
	if raw == "" {
		t.Error("Expected energy:current populated")
	}
}
