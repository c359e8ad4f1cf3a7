package profiler

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
	"github.com/rewindlabs/rewind/kernel/store"
)

const (
	decayWindow = 14   // days of history considered
	decayFactor = 0.85 // per day of age

	defaultEstimationBias = 1.2
	defaultAdherence      = 0.7
)

// defaultPeakHours is used until enough activity exists to rank hours.
var defaultPeakHours = []int{9, 10, 14, 15}

// DailyGoal is one day of planning outcome. TaskCompletions preserves the
// in-day ordering so drift direction can be derived; it may be empty when
// only the aggregate rate survived.
type DailyGoal struct {
	DateID          string    `json:"date_id"` // YYYY-MM-DD
	TaskCompletions []bool    `json:"task_completions,omitempty"`
	Reflection      string    `json:"reflection,omitempty"`
	CompletionRate  float64   `json:"completion_rate"`
	Date            time.Time `json:"date"`
}

// Reflection is a structured retrospective.
type Reflection struct {
	Continue  []string `json:"continue,omitempty"`
	Stop      []string `json:"stop,omitempty"`
	Start     []string `json:"start,omitempty"`
	Mitigated []string `json:"mitigated,omitempty"`
	Needs     []string `json:"needs,omitempty"`
}

// DelegationOutcome is one observed reaction to a delegated draft.
type DelegationOutcome struct {
	TaskType string `json:"task_type"`
	Outcome  string `json:"outcome"` // approved_quickly, edited, rejected
}

// Inputs is everything one recomputation consumes.
type Inputs struct {
	DailyGoals      []DailyGoal
	Completions     []model.TaskCompletionRecord
	PostingHours    map[string][]int // platform -> hours of day
	Reflections     []Reflection
	Delegations     []DelegationOutcome
	ResumeSummary   string
	PriorAutomation map[string]float64 // carried comfort scores, if any
}

// Result is the full recomputation output.
type Result struct {
	Profile            model.UserProfile `json:"profile"`
	ExecutionComposite float64           `json:"execution_composite"`
	GrowthComposite    float64           `json:"growth_composite"`
	Vectors            Vectors           `json:"vectors"`
	DriftDirection     string            `json:"drift_direction"`
	SentimentTrend     string            `json:"sentiment_trend"`
	SuccessPlot        SuccessPlot       `json:"success_plot"`
	ComputedAt         time.Time         `json:"computed_at"`
}

// SuccessPlot places the user on the two-axis execution x growth plane.
type SuccessPlot struct {
	ExecutionVelocity float64 `json:"execution_velocity"`
	GrowthTrajectory  float64 `json:"growth_trajectory"`
}

// Profiler derives the UserProfile and archetype from observed history.
// The computation itself is pure; the store only holds the last result
// and the temporal snapshots.
type Profiler struct {
	store   store.Store
	tracker *TemporalTracker
	now     func() time.Time
}

func New(s store.Store) *Profiler {
	return &Profiler{store: s, tracker: NewTemporalTracker(s), now: time.Now}
}

// NewWithClock pins the clock for deterministic tests.
func NewWithClock(s store.Store, now func() time.Time) *Profiler {
	p := New(s)
	p.now = now
	p.tracker.now = now
	return p
}

// decayWeight is the exponential age weight: recent days dominate.
func decayWeight(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(decayFactor, ageDays)
}

// EstimationBias is the decay-weighted mean of actual/estimated ratios.
// Above 1 means the user underestimates.
func EstimationBias(completions []model.TaskCompletionRecord, now time.Time) float64 {
	var weighted, weights float64
	for _, rec := range completions {
		age := now.Sub(rec.CompletedAt).Hours() / 24
		if age > decayWindow || rec.EstimatedMinutes <= 0 {
			continue
		}
		w := decayWeight(age)
		weighted += w * float64(rec.ActualMinutes) / float64(rec.EstimatedMinutes)
		weights += w
	}
	if weights == 0 {
		return defaultEstimationBias
	}
	return weighted / weights
}

// AdherenceScore is the decay-weighted mean completion rate.
func AdherenceScore(goals []DailyGoal, now time.Time) float64 {
	var weighted, weights float64
	for _, g := range goals {
		age := now.Sub(g.Date).Hours() / 24
		if age > decayWindow {
			continue
		}
		w := decayWeight(age)
		weighted += w * g.CompletionRate
		weights += w
	}
	if weights == 0 {
		return defaultAdherence
	}
	return weighted / weights
}

// PeakHours ranks hours by weighted activity: posts count once,
// completions twice, and high-completion days bump the office hours.
func PeakHours(in Inputs) []int {
	weights := make(map[int]float64, 24)
	for _, hours := range in.PostingHours {
		for _, h := range hours {
			weights[h%24] += 1
		}
	}
	for _, rec := range in.Completions {
		weights[rec.CompletedAt.Hour()] += 2
	}
	for _, g := range in.DailyGoals {
		if g.CompletionRate >= 0.8 {
			for h := 9; h <= 17; h++ {
				weights[h] += 1
			}
		}
	}
	if len(weights) == 0 {
		return append([]int(nil), defaultPeakHours...)
	}

	hours := lo.Keys(weights)
	sort.Slice(hours, func(i, j int) bool {
		if weights[hours[i]] != weights[hours[j]] {
			return weights[hours[i]] > weights[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > 4 {
		hours = hours[:4]
	}
	sort.Ints(hours)
	return hours
}

// circadianSeed mirrors the energy monitor's canonical curve.
var circadianSeed = [24]int{
	2, 1, 1, 1, 1, 2,
	2, 3, 4, 4, 5, 4,
	3, 3, 4, 4, 4, 3,
	3, 3, 3, 2, 2, 2,
}

// EnergyCurve blends the circadian seed with observed activity: hours
// that see real work get a bump of up to 2, clamped into [1,5].
func EnergyCurve(in Inputs) [24]int {
	activity := make([]float64, 24)
	for _, rec := range in.Completions {
		activity[rec.CompletedAt.Hour()]++
	}
	for _, hours := range in.PostingHours {
		for _, h := range hours {
			activity[h%24] += 0.5
		}
	}

	maxActivity := lo.Max(activity)
	curve := circadianSeed
	if maxActivity == 0 {
		return curve
	}
	for h := 0; h < 24; h++ {
		bump := int(math.Round(2 * activity[h] / maxActivity))
		level := curve[h] + bump
		if level > 5 {
			level = 5
		}
		if level < 1 {
			level = 1
		}
		curve[h] = level
	}
	return curve
}

// DriftDirection reads where incomplete tasks land within a day:
// clustered at the end reads as evening fade, scattered as distraction.
func DriftDirection(goals []DailyGoal) string {
	fade, scattered := 0, 0
	for _, g := range goals {
		n := len(g.TaskCompletions)
		if n < 3 {
			continue
		}
		var incomplete []int
		for i, done := range g.TaskCompletions {
			if !done {
				incomplete = append(incomplete, i)
			}
		}
		if len(incomplete) == 0 {
			continue
		}
		finalThird := 2 * n / 3
		allLate := lo.EveryBy(incomplete, func(i int) bool { return i >= finalThird })
		if allLate {
			fade++
		} else {
			scattered++
		}
	}
	switch {
	case fade > scattered:
		return "evening_fade"
	case scattered > fade:
		return "distraction"
	default:
		return "balanced"
	}
}

// AutomationComfort evolves per-type comfort from delegation outcomes.
func AutomationComfort(prior map[string]float64, outcomes []DelegationOutcome) map[string]float64 {
	comfort := make(map[string]float64)
	for k, v := range prior {
		comfort[k] = v
	}
	for _, o := range outcomes {
		score, ok := comfort[o.TaskType]
		if !ok {
			score = 0.5
		}
		switch o.Outcome {
		case "approved_quickly":
			score += 0.05
		case "edited":
			score -= 0.02
		case "rejected":
			score -= 0.10
		}
		comfort[o.TaskType] = math.Min(1.0, math.Max(0.1, score))
	}
	return comfort
}

// avgDurations aggregates completion actuals. Completion records carry
// no task type, so the rollup lands under a single key.
func avgDurations(completions []model.TaskCompletionRecord) map[string]int {
	if len(completions) == 0 {
		return map[string]int{}
	}
	total := lo.SumBy(completions, func(r model.TaskCompletionRecord) int { return r.ActualMinutes })
	return map[string]int{"default": total / len(completions)}
}

// Recompute runs the full derivation, persists the result, and feeds the
// temporal tracker. Returns the result plus a drift event when the axes
// moved past the threshold.
func (p *Profiler) Recompute(ctx context.Context, in Inputs) (Result, *ProfileUpdateEvent, error) {
	observability.ProfileRecomputes.Inc()
	now := p.now()

	vectors := ComputeVectors(in)
	execComposite, growthComposite := Composites(vectors)
	archetype := ClassifyArchetype(execComposite, growthComposite)

	result := Result{
		Profile: model.UserProfile{
			PeakHours:         PeakHours(in),
			AvgTaskDurations:  avgDurations(in.Completions),
			EnergyCurve:       EnergyCurve(in),
			AdherenceScore:    AdherenceScore(in.DailyGoals, now),
			EstimationBias:    EstimationBias(in.Completions, now),
			AutomationComfort: AutomationComfort(in.PriorAutomation, in.Delegations),
			Archetype:         archetype,
			UpdatedAt:         now,
		},
		ExecutionComposite: execComposite,
		GrowthComposite:    growthComposite,
		Vectors:            vectors,
		DriftDirection:     DriftDirection(in.DailyGoals),
		SentimentTrend:     SentimentTrend(reflectionTexts(in)),
		SuccessPlot: SuccessPlot{
			ExecutionVelocity: execComposite,
			GrowthTrajectory:  growthComposite,
		},
		ComputedAt: now,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return result, nil, err
	}
	if err := p.store.Set(ctx, store.KeyProfilerLastResult, string(data), 0); err != nil {
		return result, nil, err
	}

	drift, err := p.tracker.Append(ctx, Snapshot{
		Date:               now.Format("2006-01-02"),
		ExecutionComposite: execComposite,
		GrowthComposite:    growthComposite,
		AdherenceScore:     result.Profile.AdherenceScore,
		EstimationBias:     result.Profile.EstimationBias,
	})
	if err != nil {
		return result, nil, err
	}
	if drift != nil {
		log.Printf("PROFILER: drift detected, fields %v (max %.2f)", drift.ChangedFields, drift.MaxMagnitude)
	}
	return result, drift, nil
}

// History returns recent daily snapshots, newest first.
func (p *Profiler) History(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 || limit > snapshotsKept {
		limit = snapshotsKept
	}
	return p.tracker.History(ctx, limit)
}

// LastResult returns the persisted result, or nil when never computed.
func (p *Profiler) LastResult(ctx context.Context) (*Result, error) {
	raw, err := p.store.Get(ctx, store.KeyProfilerLastResult)
	if err != nil || raw == "" {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func reflectionTexts(in Inputs) []string {
	texts := lo.Map(in.DailyGoals, func(g DailyGoal, _ int) string { return g.Reflection })
	return lo.Filter(texts, func(s string, _ int) bool { return s != "" })
}
