package profiler

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/store"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func goalDays(now time.Time, rates ...float64) []DailyGoal {
	goals := make([]DailyGoal, len(rates))
	for i, rate := range rates {
		date := now.AddDate(0, 0, -(len(rates) - 1 - i))
		goals[i] = DailyGoal{
			DateID:         date.Format("2006-01-02"),
			CompletionRate: rate,
			Date:           date,
		}
	}
	return goals
}

func TestNoDataDefaults(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	p := NewWithClock(store.NewMemoryStore(), fixedClock(now))

	result, drift, err := p.Recompute(context.Background(), Inputs{})
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if drift != nil {
		t.Error("Expected no drift on first recompute")
	}
	if result.Profile.Archetype != model.ArchetypeAtRisk {
		t.Errorf("Expected at_risk with no data, got %s", result.Profile.Archetype)
	}
	if result.Profile.EstimationBias != 1.2 {
		t.Errorf("Expected default bias 1.2, got %f", result.Profile.EstimationBias)
	}
	if result.Profile.AdherenceScore != 0.7 {
		t.Errorf("Expected default adherence 0.7, got %f", result.Profile.AdherenceScore)
	}
	want := []int{9, 10, 14, 15}
	if len(result.Profile.PeakHours) != 4 {
		t.Fatalf("Expected default peak hours, got %v", result.Profile.PeakHours)
	}
	for i, h := range want {
		if result.Profile.PeakHours[i] != h {
			t.Errorf("Expected peak hours %v, got %v", want, result.Profile.PeakHours)
			break
		}
	}
}

func TestEstimationBiasRecentDominates(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	completions := []model.TaskCompletionRecord{
		// Today: ran 2x over estimate
		{TaskID: "a", ActualMinutes: 60, EstimatedMinutes: 30, CompletedAt: now},
		// Ten days ago: on time
		{TaskID: "b", ActualMinutes: 30, EstimatedMinutes: 30, CompletedAt: now.AddDate(0, 0, -10)},
	}
	bias := EstimationBias(completions, now)
	if bias <= 1.5 {
		t.Errorf("Expected recent overrun to dominate (bias > 1.5), got %f", bias)
	}

	// Records past the window are ignored entirely
	old := []model.TaskCompletionRecord{
		{TaskID: "c", ActualMinutes: 90, EstimatedMinutes: 30, CompletedAt: now.AddDate(0, 0, -20)},
	}
	if got := EstimationBias(old, now); got != 1.2 {
		t.Errorf("Expected default bias for stale records, got %f", got)
	}
}

func TestPeakHoursWeighting(t *testing.T) {
	in := Inputs{
		PostingHours: map[string][]int{"linkedin": {7, 7, 7}, "twitter": {8}},
		Completions: []model.TaskCompletionRecord{
			{TaskID: "a", CompletedAt: time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)},
			{TaskID: "b", CompletedAt: time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC)},
			{TaskID: "c", CompletedAt: time.Date(2026, 8, 22, 20, 0, 0, 0, time.UTC)},
			{TaskID: "d", CompletedAt: time.Date(2026, 8, 22, 20, 15, 0, 0, time.UTC)},
			{TaskID: "e", CompletedAt: time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)},
		},
	}

	hours := PeakHours(in)
	if len(hours) != 4 {
		t.Fatalf("Expected 4 peak hours, got %v", hours)
	}
	has := func(h int) bool {
		for _, got := range hours {
			if got == h {
				return true
			}
		}
		return false
	}
	// Completions weigh double: 10 and 20 (weight 4) beat posting hour 7
	// (weight 3), which beats the single completion at 6 (weight 2) and
	// the single post at 8 (weight 1).
	if !has(10) || !has(20) {
		t.Errorf("Expected completion hours ranked in, got %v", hours)
	}
	if !has(7) {
		t.Errorf("Expected posting hour ranked in, got %v", hours)
	}
	if has(8) {
		t.Errorf("Expected single post hour outranked, got %v", hours)
	}
}

func TestDriftDirection(t *testing.T) {
	fade := []DailyGoal{
		{TaskCompletions: []bool{true, true, true, true, false, false}},
		{TaskCompletions: []bool{true, true, true, false}},
	}
	if got := DriftDirection(fade); got != "evening_fade" {
		t.Errorf("Expected evening_fade, got %s", got)
	}

	scattered := []DailyGoal{
		{TaskCompletions: []bool{false, true, true, false, true, false}},
		{TaskCompletions: []bool{true, false, true, true}},
	}
	if got := DriftDirection(scattered); got != "distraction" {
		t.Errorf("Expected distraction, got %s", got)
	}

	if got := DriftDirection(nil); got != "balanced" {
		t.Errorf("Expected balanced with no data, got %s", got)
	}
}

func TestAutomationComfortEvolves(t *testing.T) {
	outcomes := []DelegationOutcome{
		{TaskType: "email_reply", Outcome: "approved_quickly"},
		{TaskType: "email_reply", Outcome: "approved_quickly"},
		{TaskType: "linkedin_post", Outcome: "rejected"},
	}
	comfort := AutomationComfort(map[string]float64{"linkedin_post": 0.15}, outcomes)

	if math.Abs(comfort["email_reply"]-0.6) > 1e-9 {
		t.Errorf("Expected 0.5 + 2*0.05 = 0.6, got %f", comfort["email_reply"])
	}
	// 0.15 - 0.10 would be 0.05, clamped to the floor
	if comfort["linkedin_post"] != 0.1 {
		t.Errorf("Expected clamp at 0.1, got %f", comfort["linkedin_post"])
	}
}

func TestEnergyCurveBumpsActiveHours(t *testing.T) {
	in := Inputs{
		Completions: []model.TaskCompletionRecord{
			{TaskID: "a", CompletedAt: time.Date(2026, 8, 23, 21, 0, 0, 0, time.UTC)},
			{TaskID: "b", CompletedAt: time.Date(2026, 8, 22, 21, 0, 0, 0, time.UTC)},
			{TaskID: "c", CompletedAt: time.Date(2026, 8, 21, 21, 0, 0, 0, time.UTC)},
		},
	}
	curve := EnergyCurve(in)
	// Seed at 21:00 is 2; full-strength activity bumps it by 2
	if curve[21] != 4 {
		t.Errorf("Expected hour 21 bumped to 4, got %d", curve[21])
	}
	for h, level := range curve {
		if level < 1 || level > 5 {
			t.Errorf("Curve out of range at hour %d: %d", h, level)
		}
	}
}

func TestHistoryReturnsSnapshotsNewestFirst(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ms := store.NewMemoryStore()
	ctx := context.Background()

	day1 := NewWithClock(ms, fixedClock(now))
	if _, _, err := day1.Recompute(ctx, Inputs{DailyGoals: goalDays(now, 0.9, 0.9)}); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	day2 := NewWithClock(ms, fixedClock(now.AddDate(0, 0, 1)))
	if _, _, err := day2.Recompute(ctx, Inputs{DailyGoals: goalDays(now, 0.8, 0.8)}); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	snaps, err := day2.History(ctx, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Date != "2026-08-25" || snaps[1].Date != "2026-08-24" {
		t.Errorf("Expected newest first, got %s then %s", snaps[0].Date, snaps[1].Date)
	}

	// A non-positive limit falls back to the full retained window
	snaps, err = day2.History(ctx, 0)
	if err != nil || len(snaps) != 2 {
		t.Errorf("Expected full window for limit 0, got %d (%v)", len(snaps), err)
	}

	limited, err := day2.History(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("Expected 1 snapshot with limit 1, got %d (%v)", len(limited), err)
	}
}

func TestRecomputePersistsAndTracks(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ms := store.NewMemoryStore()
	ctx := context.Background()

	p := NewWithClock(ms, fixedClock(now))
	strong := Inputs{DailyGoals: goalDays(now, 0.9, 0.85, 0.9, 0.95, 0.9, 0.85)}
	if _, _, err := p.Recompute(ctx, strong); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	last, err := p.LastResult(ctx)
	if err != nil || last == nil {
		t.Fatalf("Expected persisted result, got %v (%v)", last, err)
	}

	// A collapse the next day must register as drift
	next := NewWithClock(ms, fixedClock(now.AddDate(0, 0, 1)))
	weak := Inputs{DailyGoals: goalDays(now, 0.1, 0.2, 0.1, 0.3, 0.2, 0.1)}
	_, drift, err := next.Recompute(ctx, weak)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if drift == nil {
		t.Fatal("Expected drift event after collapse")
	}
	if drift.MaxMagnitude <= 0.15 {
		t.Errorf("Expected magnitude past threshold, got %f", drift.MaxMagnitude)
	}
	found := false
	for _, f := range drift.ChangedFields {
		if f == "execution_composite" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected execution_composite flagged, got %v", drift.ChangedFields)
	}
}
