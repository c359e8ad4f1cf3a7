package main

import (
	"context"
	"testing"
	"time"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/energy"
	"github.com/rewindlabs/rewind/kernel/ghostworker"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/profiler"
	"github.com/rewindlabs/rewind/kernel/store"
	"github.com/rewindlabs/rewind/kernel/streaming"
)

type kernelHarness struct {
	ctx     context.Context
	store   *store.MemoryStore
	buf     *buffer.Buffer
	monitor *energy.Monitor
	orch    *Orchestrator
}

func newKernelHarness(t *testing.T) *kernelHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := store.NewMemoryStore()
	buf := buffer.New(s)
	monitor := energy.NewMonitor(s)
	hub := NewClientHub()

	orch := NewOrchestrator(OrchestratorDeps{
		Store:     s,
		Buffer:    buf,
		Monitor:   monitor,
		Profiler:  profiler.New(s),
		Hub:       hub,
		Publisher: streaming.NewLogPublisher(),
	})
	go orch.Run(ctx)

	// Pin the energy level so scheduling decisions do not depend on the
	// wall-clock circadian fallback.
	if _, err := monitor.ReportLevel(ctx, 4); err != nil {
		t.Fatalf("report level: %v", err)
	}

	return &kernelHarness{ctx: ctx, store: s, buf: buf, monitor: monitor, orch: orch}
}

func (h *kernelHarness) seedTask(t *testing.T, task *model.Task) {
	t.Helper()
	if task.Status == "" {
		task.Status = model.StatusBacklog
	}
	if task.EnergyCost == 0 {
		task.EnergyCost = 2
	}
	if task.CognitiveLoad == 0 {
		task.CognitiveLoad = 2
	}
	if err := h.buf.Put(h.ctx, task); err != nil {
		t.Fatalf("seed %s: %v", task.ID, err)
	}
}

func (h *kernelHarness) taskStatus(t *testing.T, id string) model.Status {
	t.Helper()
	task, err := h.store.GetTask(h.ctx, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	if task == nil {
		t.Fatalf("task %s missing", id)
	}
	return task.Status
}

// waitForStatus polls until the task reaches the status or the deadline
// passes. Needed where the state change happens on the orchestrator
// goroutine after the API call returns.
func (h *kernelHarness) waitForStatus(t *testing.T, id string, want model.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.taskStatus(t, id) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s (last %s)", id, want, h.taskStatus(t, id))
}

func TestPlanDayPacksWithinBudget(t *testing.T) {
	h := newKernelHarness(t)

	for _, id := range []string{"a", "b", "c", "d"} {
		h.seedTask(t, &model.Task{ID: id, Title: "chunk " + id, Priority: model.PriorityP1, EstimatedDuration: 30})
	}
	h.seedTask(t, &model.Task{ID: "epic", Title: "epic", Priority: model.PriorityP1, EstimatedDuration: 120})

	selected, err := h.orch.PlanDay(h.ctx, 2.0)
	if err != nil {
		t.Fatalf("plan day: %v", err)
	}

	// Default estimation bias 1.2 inflates 30 min to 36: three fit in
	// 120 min, the fourth and the 144-min epic do not.
	if len(selected) != 3 {
		t.Fatalf("selected %d tasks, want 3", len(selected))
	}
	for _, task := range selected {
		if task.Status != model.StatusActive {
			t.Errorf("task %s status %s, want active", task.ID, task.Status)
		}
		if task.ID == "epic" {
			t.Errorf("epic should not fit the budget")
		}
	}

	backlog, err := h.buf.ListBacklog(h.ctx)
	if err != nil {
		t.Fatalf("list backlog: %v", err)
	}
	if len(backlog) != 2 {
		t.Errorf("backlog has %d tasks, want 2", len(backlog))
	}
}

func TestCancelledMeetingSwapsInFreedTime(t *testing.T) {
	h := newKernelHarness(t)

	h.seedTask(t, &model.Task{ID: "quick-fix", Title: "Fix flaky test", Priority: model.PriorityP2, EstimatedDuration: 20})
	h.seedTask(t, &model.Task{ID: "long-read", Title: "Read design doc", Priority: model.PriorityP2, EstimatedDuration: 45})

	disruption, err := h.orch.ReportContextEvent(h.ctx, model.ContextChangeEvent{
		EventType: model.EventCancelledMeeting,
		Source:    "calendar",
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"freed_minutes": 20},
	})
	if err != nil {
		t.Fatalf("report event: %v", err)
	}

	if disruption.Severity != model.SeverityMinor {
		t.Errorf("severity %s, want minor", disruption.Severity)
	}
	if disruption.RecommendedAction != model.ActionSwapIn {
		t.Errorf("action %s, want swap_in", disruption.RecommendedAction)
	}
	if disruption.FreedMinutes != 20 {
		t.Errorf("freed %d, want 20", disruption.FreedMinutes)
	}

	if got := h.taskStatus(t, "quick-fix"); got != model.StatusActive {
		t.Errorf("quick-fix status %s, want active", got)
	}
	if got := h.taskStatus(t, "long-read"); got != model.StatusBacklog {
		t.Errorf("long-read status %s, want backlog (does not fit 20 min)", got)
	}
}

func TestMeetingOverrunReschedulesEverything(t *testing.T) {
	h := newKernelHarness(t)

	for _, id := range []string{"t1", "t2", "t3"} {
		h.seedTask(t, &model.Task{ID: id, Title: id, Priority: model.PriorityP1, EstimatedDuration: 30, Status: model.StatusActive})
	}
	// A replan must pull waiting backlog work back in, not just reorder
	// what survived the overrun.
	deadline := time.Now().Add(3 * time.Hour)
	h.seedTask(t, &model.Task{ID: "urgent-memo", Title: "Urgent memo", Priority: model.PriorityP0, EstimatedDuration: 30, Deadline: &deadline})

	disruption, err := h.orch.ReportContextEvent(h.ctx, model.ContextChangeEvent{
		EventType:       model.EventMeetingOverrun,
		Source:          "calendar",
		Timestamp:       time.Now(),
		AffectedTaskIDs: []string{"t1", "t2", "t3"},
		Metadata:        map[string]interface{}{"lost_minutes": 45},
	})
	if err != nil {
		t.Fatalf("report event: %v", err)
	}

	if disruption.Severity != model.SeverityCritical {
		t.Errorf("severity %s, want critical", disruption.Severity)
	}
	if disruption.RecommendedAction != model.ActionRescheduleAll {
		t.Errorf("action %s, want reschedule_all", disruption.RecommendedAction)
	}

	if got := h.taskStatus(t, "urgent-memo"); got != model.StatusActive {
		t.Errorf("urgent-memo status %s, want active after full replan", got)
	}
	schedule, err := h.orch.Schedule(h.ctx)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(schedule) != 4 {
		t.Errorf("rebuilt schedule has %d tasks, want 4", len(schedule))
	}
}

func TestNewCalendarEventRecoversBlockedTime(t *testing.T) {
	h := newKernelHarness(t)

	h.seedTask(t, &model.Task{ID: "deep", Title: "Deep work block", Priority: model.PriorityP0, EstimatedDuration: 60, Status: model.StatusActive})
	h.seedTask(t, &model.Task{ID: "errand", Title: "Order supplies", Priority: model.PriorityP3, EstimatedDuration: 30, Status: model.StatusActive})

	disruption, err := h.orch.ReportContextEvent(h.ctx, model.ContextChangeEvent{
		EventType: model.EventNewCalendarEvent,
		Source:    "calendar",
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"title": "Vet appointment", "lost_minutes": 30},
	})
	if err != nil {
		t.Fatalf("report event: %v", err)
	}

	if disruption.RecommendedAction != model.ActionDelegate {
		t.Errorf("action %s, want delegate", disruption.RecommendedAction)
	}
	if disruption.FreedMinutes != -30 {
		t.Errorf("freed %d, want -30", disruption.FreedMinutes)
	}

	// The background task yields the blocked time; the urgent one stays.
	if got := h.taskStatus(t, "errand"); got != model.StatusSwappedOut {
		t.Errorf("errand status %s, want swapped_out", got)
	}
	if got := h.taskStatus(t, "deep"); got != model.StatusActive {
		t.Errorf("deep status %s, want active", got)
	}
}

func TestLowEnergyDrainsBackgroundQueue(t *testing.T) {
	h := newKernelHarness(t)

	h.seedTask(t, &model.Task{
		ID: "inbox", Title: "Reply to recruiter", Priority: model.PriorityP3,
		EnergyCost: 1, CognitiveLoad: 1, EstimatedDuration: 15, TaskType: "email_reply",
	})
	if _, err := h.orch.PlanDay(h.ctx, 4.0); err != nil {
		t.Fatalf("plan day: %v", err)
	}

	if _, err := h.orch.ReportEnergy(h.ctx, 1); err != nil {
		t.Fatalf("report energy: %v", err)
	}

	select {
	case d := <-h.orch.Delegations():
		if d.TaskID != "inbox" {
			t.Errorf("delegated %s, want inbox", d.TaskID)
		}
		if d.TaskType != "email_reply" {
			t.Errorf("task type %s, want email_reply", d.TaskType)
		}
		if !d.ApprovalRequired {
			t.Errorf("approval should be required without a learned comfort level")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delegation emitted for background task at energy 1")
	}

	h.waitForStatus(t, "inbox", model.StatusDelegated)
}

func TestDelegationRoundTrip(t *testing.T) {
	h := newKernelHarness(t)

	h.seedTask(t, &model.Task{
		ID: "inbox", Title: "Reply to recruiter", Priority: model.PriorityP3,
		EnergyCost: 1, CognitiveLoad: 1, EstimatedDuration: 15, TaskType: "email_reply",
	})
	if _, err := h.orch.PlanDay(h.ctx, 4.0); err != nil {
		t.Fatalf("plan day: %v", err)
	}
	if _, err := h.orch.ReportEnergy(h.ctx, 1); err != nil {
		t.Fatalf("report energy: %v", err)
	}

	worker := ghostworker.New(h.store, ghostworker.LogGenerator{}, ghostworker.LogExecutor{},
		h.orch.Delegations(), h.orch.Completions())

	var delegation model.DelegationTask
	select {
	case delegation = <-h.orch.Delegations():
	case <-time.After(2 * time.Second):
		t.Fatal("no delegation emitted")
	}
	if err := worker.HandleDelegation(h.ctx, delegation); err != nil {
		t.Fatalf("handle delegation: %v", err)
	}

	drafts, err := worker.PendingDrafts(h.ctx)
	if err != nil {
		t.Fatalf("pending drafts: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("pending drafts %d, want 1", len(drafts))
	}

	if err := worker.Resolve(h.ctx, model.ApprovalMessage{Action: "approve", DraftID: drafts[0].ID}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The completion flows back through the orchestrator loop.
	h.waitForStatus(t, "inbox", model.StatusCompleted)
}

func TestCompleteTaskEarlyFreesTime(t *testing.T) {
	h := newKernelHarness(t)

	h.seedTask(t, &model.Task{ID: "deep", Title: "Deep work block", Priority: model.PriorityP1, EstimatedDuration: 60, Status: model.StatusActive})
	h.seedTask(t, &model.Task{ID: "quick", Title: "Quick errand", Priority: model.PriorityP2, EstimatedDuration: 15})

	if _, err := h.orch.StartTask(h.ctx, "deep"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := h.taskStatus(t, "deep"); got != model.StatusInProgress {
		t.Fatalf("deep status %s, want in_progress", got)
	}

	// Finishing 30 min early frees enough room for the errand.
	if _, err := h.orch.CompleteTask(h.ctx, "deep", 30); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if got := h.taskStatus(t, "deep"); got != model.StatusCompleted {
		t.Errorf("deep status %s, want completed", got)
	}
	h.waitForStatus(t, "quick", model.StatusActive)
}

func TestVoiceCommandCompletesTask(t *testing.T) {
	h := newKernelHarness(t)

	h.seedTask(t, &model.Task{ID: "memo", Title: "Write memo", Priority: model.PriorityP2, EstimatedDuration: 25, Status: model.StatusActive})

	if err := h.orch.HandleVoiceCommand(h.ctx, model.VoiceCommand{CommandType: "start_task", TaskID: "memo"}); err != nil {
		t.Fatalf("start command: %v", err)
	}
	if err := h.orch.HandleVoiceCommand(h.ctx, model.VoiceCommand{CommandType: "complete_task", TaskID: "memo", Minutes: 20}); err != nil {
		t.Fatalf("complete command: %v", err)
	}
	if got := h.taskStatus(t, "memo"); got != model.StatusCompleted {
		t.Errorf("memo status %s, want completed", got)
	}

	if err := h.orch.HandleVoiceCommand(h.ctx, model.VoiceCommand{CommandType: "teleport"}); err == nil {
		t.Error("unknown command should fail")
	}
}
