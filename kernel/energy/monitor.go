package energy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
	"github.com/rewindlabs/rewind/kernel/store"
)

const (
	reportValidity  = 2 * time.Hour
	stallThreshold  = 30 * time.Minute
	recomputeEvery  = 5 * time.Minute
	completionsKept = 50

	cacheKeyCurrent = "current"
)

// circadianBaseline is the canonical hour-of-day energy curve used until
// the profiler supplies a learned one.
var circadianBaseline = [24]int{
	2, 1, 1, 1, 1, 2, // 00-05 night
	2, 3, 4, 4, 5, 4, // 06-11 morning ramp to peak
	3, 3, 4, 4, 4, 3, // 12-17 post-lunch dip and recovery
	3, 3, 3, 2, 2, 2, // 18-23 evening fade
}

// Monitor infers the user's current energy level (1-5) from self-reports,
// the circadian curve, and recent execution velocity. The latest estimate
// is always cached so readers never block on a recompute.
type Monitor struct {
	store store.Store
	cache *gocache.Cache
	now   func() time.Time

	mu               sync.RWMutex
	curve            [24]int
	hasProfilerCurve bool
}

func NewMonitor(s store.Store) *Monitor {
	return &Monitor{
		store: s,
		cache: gocache.New(recomputeEvery, 10*time.Minute),
		now:   time.Now,
		curve: circadianBaseline,
	}
}

// NewMonitorWithClock pins the clock for deterministic tests.
func NewMonitorWithClock(s store.Store, now func() time.Time) *Monitor {
	m := NewMonitor(s)
	m.now = now
	return m
}

// SetCurve installs a learned energy curve from the profiler.
func (m *Monitor) SetCurve(curve [24]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.curve = curve
	m.hasProfilerCurve = true
}

func clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 5 {
		return 5
	}
	return level
}

// ReportLevel records a self-reported energy level and recomputes.
func (m *Monitor) ReportLevel(ctx context.Context, level int) (model.EnergyLevel, error) {
	now := m.now()
	if err := m.store.Set(ctx, store.KeyEnergyUserReported, strconv.Itoa(level), 0); err != nil {
		return model.EnergyLevel{}, err
	}
	if err := m.store.Set(ctx, store.KeyEnergyUserReportedTS, now.Format(time.RFC3339Nano), 0); err != nil {
		return model.EnergyLevel{}, err
	}
	return m.Compute(ctx)
}

// RecordCompletion appends one execution record and recomputes.
func (m *Monitor) RecordCompletion(ctx context.Context, rec model.TaskCompletionRecord) (model.EnergyLevel, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return model.EnergyLevel{}, err
	}
	if err := m.store.PushRecord(ctx, store.KeyEnergyCompletions, string(data), completionsKept); err != nil {
		return model.EnergyLevel{}, err
	}
	return m.Compute(ctx)
}

func (m *Monitor) userReported(ctx context.Context, now time.Time) (*model.EnergyLevel, error) {
	raw, err := m.store.Get(ctx, store.KeyEnergyUserReported)
	if err != nil || raw == "" {
		return nil, err
	}
	rawTS, err := m.store.Get(ctx, store.KeyEnergyUserReportedTS)
	if err != nil || rawTS == "" {
		return nil, err
	}

	level, err := strconv.Atoi(raw)
	if err != nil {
		return nil, nil
	}
	reportedAt, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return nil, nil
	}

	age := now.Sub(reportedAt)
	if age < 0 || age > reportValidity {
		return nil, nil
	}

	// Confidence decays linearly 0.9 -> 0.5 across the validity window
	confidence := 0.9 - 0.4*(age.Seconds()/reportValidity.Seconds())
	return &model.EnergyLevel{
		Level:      clampLevel(level),
		Confidence: confidence,
		Source:     model.EnergyUserReported,
		Timestamp:  now,
	}, nil
}

func (m *Monitor) completions(ctx context.Context) ([]model.TaskCompletionRecord, error) {
	raw, err := m.store.RecentRecords(ctx, store.KeyEnergyCompletions, completionsKept)
	if err != nil {
		return nil, err
	}
	records := make([]model.TaskCompletionRecord, 0, len(raw))
	for _, r := range raw {
		var rec model.TaskCompletionRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue // malformed record, skip
		}
		records = append(records, rec)
	}
	return records, nil
}

// velocityAdjustment compares recent actual vs estimated minutes.
// Finishing fast lifts energy by one; dragging lowers it. A long gap
// since the last completion reads as a stall.
func velocityAdjustment(records []model.TaskCompletionRecord, now time.Time) int {
	var sumActual, sumEstimated int
	recent := 0
	var newest time.Time
	for _, rec := range records {
		if rec.CompletedAt.After(newest) {
			newest = rec.CompletedAt
		}
		if now.Sub(rec.CompletedAt) <= reportValidity {
			sumActual += rec.ActualMinutes
			sumEstimated += rec.EstimatedMinutes
			recent++
		}
	}

	if recent == 0 {
		if len(records) > 0 && now.Sub(newest) > stallThreshold {
			return -1
		}
		return 0
	}
	if sumEstimated == 0 {
		return 0
	}
	ratio := float64(sumActual) / float64(sumEstimated)
	if ratio < 0.8 {
		return 1
	}
	if ratio > 1.3 {
		return -1
	}
	return 0
}

// Compute derives the current energy level and caches it.
func (m *Monitor) Compute(ctx context.Context) (model.EnergyLevel, error) {
	now := m.now()

	reported, err := m.userReported(ctx, now)
	if err != nil {
		return model.EnergyLevel{}, err
	}
	if reported != nil {
		return m.publish(ctx, *reported)
	}

	m.mu.RLock()
	baseline := m.curve[now.Hour()]
	hasCurve := m.hasProfilerCurve
	m.mu.RUnlock()

	records, err := m.completions(ctx)
	if err != nil {
		return model.EnergyLevel{}, err
	}
	adj := velocityAdjustment(records, now)

	recentCount := 0
	for _, rec := range records {
		if now.Sub(rec.CompletedAt) <= reportValidity {
			recentCount++
		}
	}

	var confidence float64
	switch {
	case hasCurve && recentCount >= 3:
		confidence = 0.8
	case hasCurve:
		confidence = 0.7
	case recentCount >= 3:
		confidence = 0.6
	default:
		confidence = 0.4
	}

	source := model.EnergyTimeBased
	if adj != 0 || recentCount > 0 {
		source = model.EnergyInferred
	}

	level := model.EnergyLevel{
		Level:      clampLevel(baseline + adj),
		Confidence: confidence,
		Source:     source,
		Timestamp:  now,
	}
	return m.publish(ctx, level)
}

// publish caches the estimate locally and in the substrate so readers
// without the monitor still see a fresh value.
func (m *Monitor) publish(ctx context.Context, level model.EnergyLevel) (model.EnergyLevel, error) {
	m.cache.Set(cacheKeyCurrent, level, gocache.DefaultExpiration)
	observability.EnergyLevelGauge.Set(float64(level.Level))
	observability.EnergyConfidence.Set(level.Confidence)

	data, err := json.Marshal(level)
	if err != nil {
		return level, err
	}
	if err := m.store.Set(ctx, store.KeyEnergyCurrent, string(data), 0); err != nil {
		return level, fmt.Errorf("failed to cache energy level: %w", err)
	}
	return level, nil
}

// Current returns the cached estimate, recomputing only on a cold cache.
func (m *Monitor) Current(ctx context.Context) (model.EnergyLevel, error) {
	if cached, found := m.cache.Get(cacheKeyCurrent); found {
		return cached.(model.EnergyLevel), nil
	}
	if raw, err := m.store.Get(ctx, store.KeyEnergyCurrent); err == nil && raw != "" {
		var level model.EnergyLevel
		if json.Unmarshal([]byte(raw), &level) == nil && m.now().Sub(level.Timestamp) <= recomputeEvery {
			return level, nil
		}
	}
	return m.Compute(ctx)
}

// Run recomputes on a fixed interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(recomputeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Compute(ctx); err != nil {
				log.Printf("ENERGY: recompute failed: %v", err)
			}
		}
	}
}
