package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/store"
)

const (
	reminderCheckInterval = time.Minute
	reminderLeadTime      = 30 * time.Minute
)

// ReminderWorker watches the active set for approaching deadlines and
// preferred starts, and publishes reminder events. Each task is reminded
// once per trigger.
type ReminderWorker struct {
	store store.Store
	buf   *buffer.Buffer
	now   func() time.Time

	mu       sync.Mutex
	reminded map[string]struct{}
}

func NewReminderWorker(s store.Store, buf *buffer.Buffer) *ReminderWorker {
	return &ReminderWorker{
		store:    s,
		buf:      buf,
		now:      time.Now,
		reminded: make(map[string]struct{}),
	}
}

// NewReminderWorkerWithClock pins the clock for deterministic tests.
func NewReminderWorkerWithClock(s store.Store, buf *buffer.Buffer, now func() time.Time) *ReminderWorker {
	w := NewReminderWorker(s, buf)
	w.now = now
	return w
}

// Run checks on a fixed interval until ctx is cancelled.
func (w *ReminderWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(reminderCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Check(ctx); err != nil {
				log.Printf("REMINDER: check failed: %v", err)
			}
		}
	}
}

// Check scans active tasks and publishes due reminders.
func (w *ReminderWorker) Check(ctx context.Context) error {
	active, err := w.buf.ListActive(ctx)
	if err != nil {
		return err
	}

	now := w.now()
	for _, task := range active {
		if task.Deadline != nil {
			until := task.Deadline.Sub(now)
			if until > 0 && until <= reminderLeadTime {
				w.publish(ctx, task.ID+":deadline", map[string]interface{}{
					"task_id": task.ID,
					"title":   task.Title,
					"reason":  "deadline",
					"message": fmt.Sprintf("%s is due in %d minutes", task.Title, int(until.Minutes())),
				})
			}
		}
		if task.PreferredStart != nil {
			until := task.PreferredStart.Sub(now)
			if until > 0 && until <= reminderLeadTime {
				w.publish(ctx, task.ID+":start", map[string]interface{}{
					"task_id": task.ID,
					"title":   task.Title,
					"reason":  "preferred_start",
					"message": fmt.Sprintf("%s is scheduled to start in %d minutes", task.Title, int(until.Minutes())),
				})
			}
		}
	}
	return nil
}

func (w *ReminderWorker) publish(ctx context.Context, key string, payload map[string]interface{}) {
	w.mu.Lock()
	if _, done := w.reminded[key]; done {
		w.mu.Unlock()
		return
	}
	w.reminded[key] = struct{}{}
	w.mu.Unlock()

	data, err := json.Marshal(model.NewEnvelope(model.MsgReminder, payload))
	if err != nil {
		return
	}
	if err := w.store.Publish(ctx, store.ChannelReminders, string(data)); err != nil {
		log.Printf("REMINDER: publish failed: %v", err)
	}
}
