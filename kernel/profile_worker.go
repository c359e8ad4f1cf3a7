package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/samber/lo"

	"github.com/rewindlabs/rewind/kernel/energy"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/profiler"
	"github.com/rewindlabs/rewind/kernel/store"
)

const (
	profileRefreshInterval = 24 * time.Hour
	profileHistoryWindow   = 14 * 24 * time.Hour
	profileGoalsKept       = 14
)

// ProfileWorker periodically regathers observed history and recomputes
// the user profile. The relational archive is the richer source; without
// it the hot-path completion records still give bias and peak hours.
type ProfileWorker struct {
	store    store.Store
	history  *store.HistoryStore
	profiler *profiler.Profiler
	monitor  *energy.Monitor
	hub      *ClientHub
	now      func() time.Time
}

func NewProfileWorker(s store.Store, history *store.HistoryStore, prof *profiler.Profiler, monitor *energy.Monitor, hub *ClientHub) *ProfileWorker {
	return &ProfileWorker{
		store:    s,
		history:  history,
		profiler: prof,
		monitor:  monitor,
		hub:      hub,
		now:      time.Now,
	}
}

// Run refreshes once at startup, then daily.
func (w *ProfileWorker) Run(ctx context.Context) {
	if _, err := w.Refresh(ctx); err != nil {
		log.Printf("PROFILER: initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(profileRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Refresh(ctx); err != nil {
				log.Printf("PROFILER: refresh failed: %v", err)
			}
		}
	}
}

// Refresh gathers inputs, recomputes, and pushes the learned curve into
// the energy monitor. Drift events go out to connected clients.
func (w *ProfileWorker) Refresh(ctx context.Context) (profiler.Result, error) {
	inputs, err := w.gatherInputs(ctx)
	if err != nil {
		return profiler.Result{}, err
	}

	result, event, err := w.profiler.Recompute(ctx, inputs)
	if err != nil {
		return profiler.Result{}, err
	}

	w.monitor.SetCurve(result.Profile.EnergyCurve)
	if event != nil {
		w.hub.Broadcast(model.NewEnvelope(model.MsgProfileUpdate, event))
	}
	log.Printf("PROFILER: refreshed (archetype=%s, bias=%.2f, adherence=%.2f)",
		result.Profile.Archetype, result.Profile.EstimationBias, result.Profile.AdherenceScore)
	return result, nil
}

func (w *ProfileWorker) gatherInputs(ctx context.Context) (profiler.Inputs, error) {
	var inputs profiler.Inputs

	if last, err := w.profiler.LastResult(ctx); err == nil && last != nil {
		inputs.PriorAutomation = last.Profile.AutomationComfort
	}

	if w.history != nil {
		completions, err := w.history.ListCompletions(ctx, w.now().Add(-profileHistoryWindow))
		if err != nil {
			return inputs, err
		}
		inputs.Completions = completions

		goals, err := w.history.ListDailyGoals(ctx, profileGoalsKept)
		if err != nil {
			return inputs, err
		}
		inputs.DailyGoals = lo.Map(goals, func(g store.DailyGoalEntry, _ int) profiler.DailyGoal {
			return profiler.DailyGoal{
				DateID:         g.DateID,
				Reflection:     g.Reflection,
				CompletionRate: g.CompletionRate,
				Date:           g.RecordedAt,
			}
		})
		return inputs, nil
	}

	// No archive: fall back to the hot-path completion records.
	raw, err := w.store.RecentRecords(ctx, store.KeyEnergyCompletions, 50)
	if err != nil {
		return inputs, err
	}
	for _, r := range raw {
		var rec model.TaskCompletionRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		inputs.Completions = append(inputs.Completions, rec)
	}
	return inputs, nil
}
