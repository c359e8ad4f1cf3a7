package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/energy"
	"github.com/rewindlabs/rewind/kernel/engine"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
	"github.com/rewindlabs/rewind/kernel/profiler"
	"github.com/rewindlabs/rewind/kernel/store"
	"github.com/rewindlabs/rewind/kernel/streaming"
)

// autoApproveComfort is the automation-comfort level above which drafts
// execute without waiting for approval.
const autoApproveComfort = 0.8

// fullReplanHours is the working window assumed when a critical
// disruption forces a replan outside an explicit plan request.
const fullReplanHours = 8

// Orchestrator owns the active STS and serializes every mutation of the
// scheduling state: context events, API commands, and delegation
// completions all funnel through one goroutine. I/O-heavy collaborators
// (pollers, ghost worker, energy ticker) run outside and talk to it over
// channels.
type Orchestrator struct {
	store     store.Store
	history   *store.HistoryStore
	buf       *buffer.Buffer
	mts       *engine.MTS
	lts       *engine.LTS
	sts       *engine.STS
	monitor   *energy.Monitor
	profiler  *profiler.Profiler
	hub       *ClientHub
	publisher streaming.Publisher

	contextEvents chan model.ContextChangeEvent
	delegations   chan model.DelegationTask
	completions   chan model.TaskCompletion
	commands      chan func(context.Context)

	now func() time.Time
}

// OrchestratorDeps wires the collaborators; history may be nil when no
// relational archive is configured.
type OrchestratorDeps struct {
	Store     store.Store
	History   *store.HistoryStore
	Buffer    *buffer.Buffer
	Monitor   *energy.Monitor
	Profiler  *profiler.Profiler
	Hub       *ClientHub
	Publisher streaming.Publisher
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		store:         deps.Store,
		history:       deps.History,
		buf:           deps.Buffer,
		mts:           engine.NewMTS(deps.Buffer),
		lts:           engine.NewLTS(deps.Buffer),
		sts:           engine.NewSTS(),
		monitor:       deps.Monitor,
		profiler:      deps.Profiler,
		hub:           deps.Hub,
		publisher:     deps.Publisher,
		contextEvents: make(chan model.ContextChangeEvent, 64),
		delegations:   make(chan model.DelegationTask, 32),
		completions:   make(chan model.TaskCompletion, 32),
		commands:      make(chan func(context.Context), 32),
		now:           time.Now,
	}
}

// ContextEvents is the inbound channel the pollers feed.
func (o *Orchestrator) ContextEvents() chan<- model.ContextChangeEvent { return o.contextEvents }

// Delegations is the outbound channel the ghost worker consumes.
func (o *Orchestrator) Delegations() <-chan model.DelegationTask { return o.delegations }

// Completions is the inbound channel for ghost worker outcomes.
func (o *Orchestrator) Completions() chan<- model.TaskCompletion { return o.completions }

// Run is the single-writer loop. All scheduling state mutations happen
// here, one at a time.
func (o *Orchestrator) Run(ctx context.Context) {
	go o.relay(ctx, store.ChannelGhostEvents)
	go o.relay(ctx, store.ChannelReminders)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.contextEvents:
			o.handleContextEvent(ctx, ev)
		case completion := <-o.completions:
			o.handleCompletion(ctx, completion)
		case cmd := <-o.commands:
			cmd(ctx)
		}
	}
}

// relay pumps substrate pub/sub envelopes straight to connected clients.
// Read-only, so it lives outside the single-writer loop.
func (o *Orchestrator) relay(ctx context.Context, channel string) {
	messages, err := o.store.Subscribe(ctx, channel)
	if err != nil {
		log.Printf("ORCH: subscribe %s failed: %v", channel, err)
		return
	}
	for raw := range messages {
		var envelope model.Envelope
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			log.Printf("ORCH: malformed envelope on %s: %v", channel, err)
			continue
		}
		o.hub.Broadcast(envelope)
	}
}

// exec runs fn inside the single-writer loop and waits for it.
func (o *Orchestrator) exec(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	select {
	case o.commands <- func(c context.Context) { done <- fn(c) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// profileParams reads the learned scheduling parameters, falling back to
// defaults when the profiler has never run.
func (o *Orchestrator) profileParams(ctx context.Context) (peakHours []int, bias float64, comfort map[string]float64) {
	peakHours = []int{9, 10, 14, 15}
	bias = 1.2
	result, err := o.profiler.LastResult(ctx)
	if err != nil {
		log.Printf("ORCH: profile lookup failed: %v", err)
		return peakHours, bias, nil
	}
	if result == nil {
		return peakHours, bias, nil
	}
	if len(result.Profile.PeakHours) > 0 {
		peakHours = result.Profile.PeakHours
	}
	if result.Profile.EstimationBias > 0 {
		bias = result.Profile.EstimationBias
	}
	return peakHours, bias, result.Profile.AutomationComfort
}

func (o *Orchestrator) energyLevel(ctx context.Context) int {
	level, err := o.monitor.Current(ctx)
	if err != nil {
		log.Printf("ORCH: energy lookup failed: %v", err)
		return 3
	}
	return level.Level
}

// handleContextEvent runs the full disruption pipeline: classify, pick
// the scheduling response, route delegations, broadcast the outcome.
func (o *Orchestrator) handleContextEvent(ctx context.Context, ev model.ContextChangeEvent) model.DisruptionEvent {
	disruption := engine.Classify(ev)
	level := o.energyLevel(ctx)
	peakHours, bias, comfort := o.profileParams(ctx)

	var result engine.SwapResult
	var err error
	switch disruption.RecommendedAction {
	case model.ActionRescheduleAll:
		// Critical: rebuild the whole day. The backlog is pulled back in,
		// then the full active set is reordered into the fresh STS.
		var fresh *engine.STS
		if _, fresh, err = o.lts.PlanDay(ctx, fullReplanHours, peakHours, bias); err == nil {
			o.sts = fresh
			err = o.lts.ReplanRemaining(ctx, o.sts)
			observability.SchedulerDecisions.WithLabelValues("plan_day", "disruption").Inc()
		}
		if err == nil && level <= 2 {
			// Depleted during a critical replan: background work goes out too
			delegated := o.sts.AutoDelegateP3(level)
			for _, task := range delegated {
				if _, serr := o.buf.SetStatus(ctx, task.ID, model.StatusDelegated); serr != nil {
					log.Printf("ORCH: delegate status update failed for %s: %v", task.ID, serr)
				}
			}
			result.Delegated = delegated
		}
	case model.ActionDelegate:
		// Recover the lost time like any swap, then shed whatever
		// background work is left.
		result, err = o.mts.HandleDisruption(ctx, disruption.FreedMinutes, level, peakHours, o.sts)
		if err == nil {
			for _, task := range o.sts.AutoDelegateP3(level) {
				if _, serr := o.buf.SetStatus(ctx, task.ID, model.StatusDelegated); serr != nil {
					log.Printf("ORCH: delegate status update failed for %s: %v", task.ID, serr)
				}
				result.Delegated = append(result.Delegated, task)
			}
		}
	default:
		result, err = o.mts.HandleDisruption(ctx, disruption.FreedMinutes, level, peakHours, o.sts)
	}
	if err != nil {
		log.Printf("ORCH: disruption handling failed: %v", err)
		o.broadcastActivity("kernel", fmt.Sprintf("disruption handling failed: %v", err), "warning")
		return disruption
	}

	o.routeDelegations(ctx, comfort)

	o.hub.Broadcast(model.NewEnvelope(model.MsgDisruptionEvent, disruption))
	switch ev.EventType {
	case model.EventNewCalendarEvent, model.EventCancelledMeeting,
		model.EventMeetingEndedEarly, model.EventScheduleConflict, model.EventMeetingOverrun:
		o.hub.Broadcast(model.NewEnvelope(model.MsgCalendarUpdate, ev))
	}
	o.broadcastSchedule(ctx, result.Ops())
	if len(result.SwappedIn)+len(result.SwappedOut)+len(result.Delegated) > 0 {
		o.broadcastActivity("mts", fmt.Sprintf("%s: %d in, %d out, %d delegated",
			disruption.RecommendedAction, len(result.SwappedIn), len(result.SwappedOut), len(result.Delegated)), "info")
	}
	if o.publisher != nil {
		if perr := o.publisher.Publish(ctx, "kernel.disruption", disruption); perr != nil {
			log.Printf("ORCH: disruption publish failed: %v", perr)
		}
	}
	return disruption
}

// routeDelegations drains the STS delegation queue into the ghost worker.
// Approval is skipped only for task types the user has grown to trust.
func (o *Orchestrator) routeDelegations(ctx context.Context, comfort map[string]float64) {
	for _, task := range o.sts.DrainDelegations() {
		if !task.Automatable() {
			// Nothing can execute this; park it for the next replan
			if _, err := o.buf.SetStatus(ctx, task.ID, model.StatusSwappedOut); err != nil {
				log.Printf("ORCH: park failed for %s: %v", task.ID, err)
			}
			continue
		}
		delegation := model.DelegationTask{
			TaskID:           task.ID,
			TaskType:         task.TaskType,
			Context:          map[string]string{"subject": task.Title, "notes": task.Description},
			ApprovalRequired: comfort[task.TaskType] < autoApproveComfort,
			MaxCost:          10,
			Sender:           "kernel",
		}
		select {
		case o.delegations <- delegation:
			o.broadcastActivity("ghostworker", "delegated: "+task.Title, "ghostworker")
		case <-ctx.Done():
			return
		}
	}
}

// handleCompletion lands a ghost worker outcome back in the buffer.
func (o *Orchestrator) handleCompletion(ctx context.Context, completion model.TaskCompletion) {
	status := model.StatusCompleted
	if completion.Status != "executed" {
		// Failed or rejected delegations go back to the backlog
		status = model.StatusBacklog
	}
	if _, err := o.buf.SetStatus(ctx, completion.TaskID, status); err != nil {
		log.Printf("ORCH: completion status update failed for %s: %v", completion.TaskID, err)
	}
	o.broadcastActivity("ghostworker",
		fmt.Sprintf("%s %s (%d units)", completion.TaskID, completion.Status, completion.CostUnits), "ghostworker")
}

// SchedulePayload is the updated_schedule envelope body.
type SchedulePayload struct {
	Tasks  []*model.Task     `json:"tasks"`
	Swaps  []model.SwapOp    `json:"swaps"`
	Energy model.EnergyLevel `json:"energy"`
}

func (o *Orchestrator) broadcastSchedule(ctx context.Context, swaps []model.SwapOp) {
	level, err := o.monitor.Current(ctx)
	if err != nil {
		level = model.EnergyLevel{Level: 3, Source: model.EnergyFallback, Timestamp: o.now()}
	}
	if swaps == nil {
		swaps = []model.SwapOp{}
	}
	o.hub.Broadcast(model.NewEnvelope(model.MsgUpdatedSchedule, SchedulePayload{
		Tasks:  o.sts.OrderedSchedule(level.Level),
		Swaps:  swaps,
		Energy: level,
	}))
}

func (o *Orchestrator) broadcastActivity(agent, message, kind string) {
	o.hub.Broadcast(model.NewEnvelope(model.MsgAgentActivity, model.AgentActivity{
		Agent:    agent,
		Message:  message,
		Type:     kind,
		ActionID: uuid.NewString(),
	}))
}

// PlanDay runs the LTS for the given working window and installs the
// resulting STS as the active one.
func (o *Orchestrator) PlanDay(ctx context.Context, availableHours float64) ([]*model.Task, error) {
	var selected []*model.Task
	err := o.exec(ctx, func(c context.Context) error {
		peakHours, bias, _ := o.profileParams(c)
		tasks, sts, err := o.lts.PlanDay(c, availableHours, peakHours, bias)
		if err != nil {
			return err
		}
		selected = tasks
		o.sts = sts
		observability.SchedulerDecisions.WithLabelValues("plan_day", "requested").Inc()
		o.broadcastSchedule(c, nil)
		o.broadcastActivity("lts", fmt.Sprintf("planned %d tasks for %.1fh", len(tasks), availableHours), "info")
		return nil
	})
	return selected, err
}

// Schedule returns the current non-destructive ordered schedule.
func (o *Orchestrator) Schedule(ctx context.Context) ([]*model.Task, error) {
	var tasks []*model.Task
	err := o.exec(ctx, func(c context.Context) error {
		tasks = o.sts.OrderedSchedule(o.energyLevel(c))
		return nil
	})
	return tasks, err
}

// ReportContextEvent injects a context change as if a poller saw it.
func (o *Orchestrator) ReportContextEvent(ctx context.Context, ev model.ContextChangeEvent) (model.DisruptionEvent, error) {
	var disruption model.DisruptionEvent
	err := o.exec(ctx, func(c context.Context) error {
		disruption = o.handleContextEvent(c, ev)
		return nil
	})
	return disruption, err
}

// StartTask marks a task in progress and pins it as the STS current.
func (o *Orchestrator) StartTask(ctx context.Context, id string) (*model.Task, error) {
	var task *model.Task
	err := o.exec(ctx, func(c context.Context) error {
		t, err := o.buf.SetStatus(c, id, model.StatusInProgress)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("unknown task %s", id)
		}
		task = t
		o.sts.SetCurrent(t)
		o.broadcastActivity("sts", "started: "+t.Title, "info")
		return nil
	})
	return task, err
}

// CompleteTask finishes a task, records the execution for the energy
// monitor and the archive, and frees the saved minutes.
func (o *Orchestrator) CompleteTask(ctx context.Context, id string, actualMinutes int) (*model.Task, error) {
	var task *model.Task
	err := o.exec(ctx, func(c context.Context) error {
		t, err := o.buf.SetStatus(c, id, model.StatusCompleted)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("unknown task %s", id)
		}
		task = t
		o.sts.ClearCurrent(id)

		if actualMinutes <= 0 {
			actualMinutes = t.EstimatedDuration
		}
		record := model.TaskCompletionRecord{
			TaskID:           id,
			ActualMinutes:    actualMinutes,
			EstimatedMinutes: t.EstimatedDuration,
			CompletedAt:      o.now(),
		}
		if _, err := o.monitor.RecordCompletion(c, record); err != nil {
			log.Printf("ORCH: energy record failed: %v", err)
		}
		if o.history != nil {
			if err := o.history.RecordCompletion(c, record); err != nil {
				log.Printf("ORCH: archive record failed: %v", err)
			}
		}

		saved := t.EstimatedDuration - actualMinutes
		if saved < 0 {
			saved = 0
		}
		o.handleContextEvent(c, model.ContextChangeEvent{
			EventType: model.EventTaskCompleted,
			Source:    "kernel",
			Timestamp: o.now(),
			Metadata:  map[string]interface{}{"saved_minutes": saved},
		})
		return nil
	})
	return task, err
}

// ReportEnergy records a self-reported level. At very low energy the P3
// queue is drained for delegation immediately.
func (o *Orchestrator) ReportEnergy(ctx context.Context, level int) (model.EnergyLevel, error) {
	var current model.EnergyLevel
	err := o.exec(ctx, func(c context.Context) error {
		reported, err := o.monitor.ReportLevel(c, level)
		if err != nil {
			return err
		}
		current = reported

		if reported.Level <= 2 {
			delegated := o.sts.AutoDelegateP3(reported.Level)
			for _, task := range delegated {
				if _, serr := o.buf.SetStatus(c, task.ID, model.StatusDelegated); serr != nil {
					log.Printf("ORCH: delegate status update failed for %s: %v", task.ID, serr)
				}
			}
			_, _, comfort := o.profileParams(c)
			o.routeDelegations(c, comfort)
		}
		o.hub.Broadcast(model.NewEnvelope(model.MsgEnergyUpdate, reported))
		o.broadcastSchedule(c, nil)
		return nil
	})
	return current, err
}

// HandleVoiceCommand maps a client voice command onto kernel operations.
func (o *Orchestrator) HandleVoiceCommand(ctx context.Context, cmd model.VoiceCommand) error {
	switch cmd.CommandType {
	case "start_task":
		_, err := o.StartTask(ctx, cmd.TaskID)
		return err
	case "complete_task":
		_, err := o.CompleteTask(ctx, cmd.TaskID, cmd.Minutes)
		return err
	case "snooze_reminder":
		o.broadcastActivity("reminder", fmt.Sprintf("snoozed %s for %d min", cmd.TaskID, cmd.Minutes), "info")
		return nil
	default:
		return fmt.Errorf("unknown voice command %q", cmd.CommandType)
	}
}

// QueueCounts snapshots the active STS depths.
func (o *Orchestrator) QueueCounts(ctx context.Context) (map[string]int, error) {
	var counts map[string]int
	err := o.exec(ctx, func(context.Context) error {
		counts = o.sts.QueueCounts()
		return nil
	})
	return counts, err
}
