package ghostworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
	"github.com/rewindlabs/rewind/kernel/store"
)

const externalCallTimeout = 10 * time.Second

// Worker consumes delegated tasks, drafts content for them, and executes
// approved drafts. Approvals arrive over pub/sub so any surface (REST,
// WS, CLI) can resolve a pending draft.
type Worker struct {
	store       store.Store
	gen         Generator
	exec        Executor
	delegations <-chan model.DelegationTask
	completions chan<- model.TaskCompletion
	now         func() time.Time
}

func New(s store.Store, gen Generator, exec Executor, delegations <-chan model.DelegationTask, completions chan<- model.TaskCompletion) *Worker {
	return &Worker{
		store:       s,
		gen:         gen,
		exec:        exec,
		delegations: delegations,
		completions: completions,
		now:         time.Now,
	}
}

// NewWithClock pins the clock for deterministic tests.
func NewWithClock(s store.Store, gen Generator, exec Executor, delegations <-chan model.DelegationTask, completions chan<- model.TaskCompletion, now func() time.Time) *Worker {
	w := New(s, gen, exec, delegations, completions)
	w.now = now
	return w
}

// Run consumes the delegation channel and the approval pub/sub until ctx
// is cancelled. Per-task failures are reported as completions, never as
// a crashed loop.
func (w *Worker) Run(ctx context.Context) error {
	approvals, err := w.store.Subscribe(ctx, store.ChannelApprovals)
	if err != nil {
		return fmt.Errorf("failed to subscribe to approvals: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-w.delegations:
			if !ok {
				return nil
			}
			if err := w.HandleDelegation(ctx, task); err != nil {
				log.Printf("GHOST: delegation %s failed: %v", task.TaskID, err)
			}
		case raw, ok := <-approvals:
			if !ok {
				return nil
			}
			var msg model.ApprovalMessage
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				log.Printf("GHOST: malformed approval message: %v", err)
				continue
			}
			if err := w.Resolve(ctx, msg); err != nil {
				log.Printf("GHOST: approval %s failed: %v", msg.DraftID, err)
			}
		}
	}
}

// HandleDelegation drafts content for the task. Unapproved work executes
// immediately; everything else parks as a pending draft.
func (w *Worker) HandleDelegation(ctx context.Context, task model.DelegationTask) error {
	cost := CostUnits(task.TaskType)
	if task.MaxCost > 0 && cost > task.MaxCost {
		w.complete(ctx, model.TaskCompletion{
			TaskID:    task.TaskID,
			Status:    "failed",
			Result:    fmt.Sprintf("cost %d exceeds budget %d", cost, task.MaxCost),
			CostUnits: 0,
			Recipient: task.Sender,
		})
		return nil
	}

	system, prompt := buildPrompt(task.TaskType, task.Context)
	genCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	body, err := w.gen.Generate(genCtx, GenerateRequest{
		TaskType: task.TaskType,
		System:   system,
		Prompt:   prompt,
	})
	cancel()
	if err != nil {
		w.complete(ctx, model.TaskCompletion{
			TaskID:    task.TaskID,
			Status:    "failed",
			Result:    fmt.Sprintf("generation failed: %v", err),
			Recipient: task.Sender,
		})
		return err
	}

	draft := model.Draft{
		ID:        uuid.NewString(),
		TaskID:    task.TaskID,
		TaskType:  task.TaskType,
		Recipient: task.Context["recipient"],
		Channel:   task.Context["channel"],
		Subject:   task.Context["subject"],
		Body:      body,
		Status:    model.DraftPending,
		CostUnits: cost,
		CreatedAt: w.now(),
	}

	if !task.ApprovalRequired {
		return w.execute(ctx, &draft, task.Sender)
	}

	if err := w.saveDraft(ctx, &draft, true); err != nil {
		return err
	}
	observability.DraftsPending.Inc()
	w.publishEvent(ctx, model.MsgGhostworkerDraft, draft)
	log.Printf("GHOST: draft %s pending approval for task %s", draft.ID, draft.TaskID)
	return nil
}

// Resolve applies an approval-channel decision to a pending draft.
func (w *Worker) Resolve(ctx context.Context, msg model.ApprovalMessage) error {
	draft, err := w.GetDraft(ctx, msg.DraftID)
	if err != nil {
		return err
	}
	if draft == nil {
		return fmt.Errorf("unknown draft %s", msg.DraftID)
	}
	if draft.Status != model.DraftPending {
		return fmt.Errorf("draft %s already %s", draft.ID, draft.Status)
	}

	switch msg.Action {
	case "approve":
		if msg.EditedBody != "" {
			draft.Body = msg.EditedBody
		}
		observability.DraftsPending.Dec()
		return w.execute(ctx, draft, "")
	case "reject":
		draft.Status = model.DraftRejected
		if err := w.saveDraft(ctx, draft, false); err != nil {
			return err
		}
		observability.DraftsPending.Dec()
		observability.Delegations.WithLabelValues("rejected").Inc()
		w.complete(ctx, model.TaskCompletion{
			TaskID:    draft.TaskID,
			Status:    "rejected",
			CostUnits: 0,
		})
		w.publishEvent(ctx, model.MsgGhostWorkerStatus, draft)
		return nil
	default:
		return fmt.Errorf("unknown approval action %q", msg.Action)
	}
}

func (w *Worker) execute(ctx context.Context, draft *model.Draft, sender string) error {
	execCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	result, err := w.exec.Execute(execCtx, draft.TaskType, draft.Body)
	cancel()

	completion := model.TaskCompletion{
		TaskID:    draft.TaskID,
		CostUnits: draft.CostUnits,
		Recipient: sender,
	}
	if err != nil {
		draft.Status = model.DraftFailed
		completion.Status = "failed"
		completion.Result = fmt.Sprintf("execution failed: %v", err)
		completion.CostUnits = 0
	} else {
		draft.Status = model.DraftExecuted
		completion.Status = "executed"
		completion.Result = result
	}

	if saveErr := w.saveDraft(ctx, draft, false); saveErr != nil {
		return saveErr
	}
	observability.Delegations.WithLabelValues(completion.Status).Inc()
	w.complete(ctx, completion)
	w.publishEvent(ctx, model.MsgGhostWorkerStatus, draft)
	return err
}

// saveDraft persists the draft and keeps the pending index in sync.
func (w *Worker) saveDraft(ctx context.Context, draft *model.Draft, pending bool) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	if err := w.store.Set(ctx, store.DraftKey(draft.ID), string(data), 0); err != nil {
		return err
	}
	if pending {
		return w.store.AddToSet(ctx, store.KeyDraftsPending, draft.ID)
	}
	return w.store.RemoveFromSet(ctx, store.KeyDraftsPending, draft.ID)
}

// GetDraft returns a draft by id, nil when unknown.
func (w *Worker) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	raw, err := w.store.Get(ctx, store.DraftKey(id))
	if err != nil || raw == "" {
		return nil, err
	}
	var draft model.Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// PendingDrafts lists all drafts awaiting approval.
func (w *Worker) PendingDrafts(ctx context.Context) ([]*model.Draft, error) {
	ids, err := w.store.SetMembers(ctx, store.KeyDraftsPending)
	if err != nil {
		return nil, err
	}
	drafts := make([]*model.Draft, 0, len(ids))
	for _, id := range ids {
		draft, err := w.GetDraft(ctx, id)
		if err != nil {
			return nil, err
		}
		if draft != nil {
			drafts = append(drafts, draft)
		}
	}
	return drafts, nil
}

func (w *Worker) complete(ctx context.Context, completion model.TaskCompletion) {
	select {
	case w.completions <- completion:
	case <-ctx.Done():
	}
}

func (w *Worker) publishEvent(ctx context.Context, msgType string, payload interface{}) {
	data, err := json.Marshal(model.NewEnvelope(msgType, payload))
	if err != nil {
		return
	}
	if err := w.store.Publish(ctx, store.ChannelGhostEvents, string(data)); err != nil {
		log.Printf("GHOST: event publish failed: %v", err)
	}
}
