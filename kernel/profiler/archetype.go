package profiler

import (
	"math"

	"github.com/samber/lo"

	"github.com/rewindlabs/rewind/kernel/model"
)

const (
	sigmoidTemperature = 8.0
	sigmoidCenter      = 0.5

	weightPrimary   = 0.40
	weightSecondary = 0.30
	weightTertiary  = 0.15
)

// Vectors are the six raw behavioral signals, each in [0,1].
type Vectors struct {
	CompletionConsistency float64 `json:"completion_consistency"`
	ExecutionRate         float64 `json:"execution_rate"`
	GrowthVelocity        float64 `json:"growth_velocity"`
	SelfAwareness         float64 `json:"self_awareness"`
	AmbitionCalibration   float64 `json:"ambition_calibration"`
	RecoverySpeed         float64 `json:"recovery_speed"`
}

func clamp01(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}

// sigmoid sharpens raw vectors around the center so middling signals
// do not read as strong ones.
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-sigmoidTemperature*(x-sigmoidCenter)))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return lo.Sum(xs) / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// completionRates extracts the daily rates in chronological order.
func completionRates(goals []DailyGoal) []float64 {
	return lo.Map(goals, func(g DailyGoal, _ int) float64 { return g.CompletionRate })
}

// growthVelocity compares the second half of the window against the
// first, centered at 0.5 so flat history reads neutral.
func growthVelocity(rates []float64) float64 {
	if len(rates) < 4 {
		return 0.5
	}
	mid := len(rates) / 2
	return clamp01(0.5 + mean(rates[mid:]) - mean(rates[:mid]))
}

// selfAwareness rewards structured reflection: each filled bucket
// counts, with a bonus when risks were actually mitigated.
func selfAwareness(reflections []Reflection) float64 {
	if len(reflections) == 0 {
		return 0.5
	}
	scores := lo.Map(reflections, func(r Reflection, _ int) float64 {
		filled := 0
		for _, bucket := range [][]string{r.Continue, r.Stop, r.Start, r.Mitigated, r.Needs} {
			if len(bucket) > 0 {
				filled++
			}
		}
		score := float64(filled) / 5
		if len(r.Mitigated) > 0 {
			score += 0.2
		}
		return clamp01(score)
	})
	return mean(scores)
}

// recoverySpeed measures how often a bad day (<0.5) is followed by a
// strong one (>=0.7). No bad days means nothing to recover from.
func recoverySpeed(rates []float64) float64 {
	badDays, recoveries := 0, 0
	for i, rate := range rates {
		if rate >= 0.5 {
			continue
		}
		badDays++
		if i+1 < len(rates) && rates[i+1] >= 0.7 {
			recoveries++
		}
	}
	if badDays == 0 {
		return 0.5
	}
	return float64(recoveries) / float64(badDays)
}

// ComputeVectors derives the six raw signals from the inputs.
func ComputeVectors(in Inputs) Vectors {
	rates := completionRates(in.DailyGoals)
	execution := mean(rates)

	return Vectors{
		CompletionConsistency: clamp01(1 - 3*stddev(rates)),
		ExecutionRate:         execution,
		GrowthVelocity:        growthVelocity(rates),
		SelfAwareness:         selfAwareness(in.Reflections),
		AmbitionCalibration:   clamp01(1 - 2*math.Abs(execution-0.8)),
		RecoverySpeed:         recoverySpeed(rates),
	}
}

// Composites folds the normalized vectors into the two archetype axes.
// Consistency is gated by execution: a consistent record of not
// finishing is not execution strength.
func Composites(v Vectors) (execution, growth float64) {
	execNorm := sigmoid(v.ExecutionRate)
	consNorm := sigmoid(v.CompletionConsistency)
	growthNorm := sigmoid(v.GrowthVelocity)
	awareNorm := sigmoid(v.SelfAwareness)
	ambitionNorm := sigmoid(v.AmbitionCalibration)
	recoveryNorm := sigmoid(v.RecoverySpeed)

	if v.ExecutionRate < 0.5 {
		consNorm *= 2 * v.ExecutionRate
	}

	execution = weightPrimary*execNorm + weightSecondary*consNorm +
		weightTertiary*ambitionNorm + weightTertiary*recoveryNorm
	growth = weightPrimary*growthNorm + weightSecondary*awareNorm +
		weightTertiary*recoveryNorm + weightTertiary*ambitionNorm
	return execution, growth
}

// ClassifyArchetype maps the two composites onto the archetype grid.
// Bands are checked in order; anything unmatched is at risk.
func ClassifyArchetype(execution, growth float64) model.Archetype {
	switch {
	case execution >= 0.85 && growth >= 0.80:
		return model.ArchetypeCompoundingBuilder
	case execution >= 0.70 && growth < 0.50:
		return model.ArchetypeReliableOperator
	case execution < 0.50 && growth >= 0.65:
		return model.ArchetypeEmergingTalent
	default:
		return model.ArchetypeAtRisk
	}
}
