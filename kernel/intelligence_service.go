package main

import (
	"context"
	"time"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/energy"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/store"
)

// ScheduleIntelligence is the aggregate snapshot served to dashboards:
// scheduler configuration, queue state, and buffer shape in one read.
type ScheduleIntelligence struct {
	// Scoring configuration
	UrgencyWeight   float64 `json:"urgency_weight"`
	PriorityWeight  float64 `json:"priority_weight"`
	PeakWeight      float64 `json:"peak_weight"`
	ExecutionWeight float64 `json:"execution_weight"`

	// Live scheduling state
	QueueCounts        map[string]int `json:"queue_counts"`
	BucketDistribution map[int]int    `json:"bucket_distribution"`
	BacklogCount       int            `json:"backlog_count"`
	ActiveCount        int            `json:"active_count"`
	PendingDrafts      int            `json:"pending_drafts"`

	// Energy
	EnergyLevel      int     `json:"energy_level"`
	EnergyConfidence float64 `json:"energy_confidence"`
	EnergySource     string  `json:"energy_source"`

	Timestamp int64 `json:"timestamp"`
}

// IntelligenceService aggregates kernel state for the intelligence
// endpoint and the WS snapshot. It decouples the API from direct store
// access.
type IntelligenceService struct {
	store   store.Store
	buf     *buffer.Buffer
	orch    *Orchestrator
	monitor *energy.Monitor
}

func NewIntelligenceService(s store.Store, buf *buffer.Buffer, orch *Orchestrator, monitor *energy.Monitor) *IntelligenceService {
	return &IntelligenceService{
		store:   s,
		buf:     buf,
		orch:    orch,
		monitor: monitor,
	}
}

// Snapshot collects the full intelligence view.
func (s *IntelligenceService) Snapshot(ctx context.Context) (ScheduleIntelligence, error) {
	counts, err := s.orch.QueueCounts(ctx)
	if err != nil {
		return ScheduleIntelligence{}, err
	}

	buckets, err := s.buf.BucketDistribution(ctx)
	if err != nil {
		return ScheduleIntelligence{}, err
	}

	backlog, err := s.buf.ListBacklog(ctx)
	if err != nil {
		return ScheduleIntelligence{}, err
	}
	active, err := s.buf.ListActive(ctx)
	if err != nil {
		return ScheduleIntelligence{}, err
	}

	pending, err := s.store.SetMembers(ctx, store.KeyDraftsPending)
	if err != nil {
		return ScheduleIntelligence{}, err
	}

	level, err := s.monitor.Current(ctx)
	if err != nil {
		level = model.EnergyLevel{Level: 3, Source: model.EnergyFallback}
	}

	return ScheduleIntelligence{
		UrgencyWeight:   0.40,
		PriorityWeight:  0.30,
		PeakWeight:      0.15,
		ExecutionWeight: 0.15,

		QueueCounts:        counts,
		BucketDistribution: buckets,
		BacklogCount:       len(backlog),
		ActiveCount:        len(active),
		PendingDrafts:      len(pending),

		EnergyLevel:      level.Level,
		EnergyConfidence: level.Confidence,
		EnergySource:     string(level.Source),

		Timestamp: time.Now().Unix(),
	}, nil
}
