package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/sentinel"
	"github.com/rewindlabs/rewind/kernel/store"
)

// SeedDemoDay loads a canonical working day: a mixed-priority backlog
// plus staged upstream feeds for the pollers to baseline against. Used
// by the DEMO_SEED startup path and by integration tests.
func SeedDemoDay(ctx context.Context, s store.Store, buf *buffer.Buffer) error {
	now := time.Now()
	deadline := now.Add(3 * time.Hour)
	writeupStart := now.Add(90 * time.Minute)
	blogStart := now.Add(5 * time.Hour)

	tasks := []*model.Task{
		{
			ID:                "demo-investor-update",
			Title:             "Finish investor update",
			Description:       "Q3 numbers plus the hiring plan",
			Priority:          model.PriorityP0,
			EnergyCost:        4,
			EstimatedDuration: 60,
			Deadline:          &deadline,
			CognitiveLoad:     4,
			TaskType:          "deep_work",
		},
		{
			ID:                "demo-pr-review",
			Title:             "Review open pull requests",
			Priority:          model.PriorityP1,
			EnergyCost:        3,
			EstimatedDuration: 45,
			CognitiveLoad:     3,
			TaskType:          "deep_work",
		},
		{
			ID:                "demo-standup-writeup",
			Title:             "Write standup summary",
			Priority:          model.PriorityP2,
			EnergyCost:        2,
			EstimatedDuration: 30,
			PreferredStart:    &writeupStart,
			CognitiveLoad:     2,
			TaskType:          "doc_update",
		},
		{
			ID:                "demo-blog-draft",
			Title:             "Draft blog post outline",
			Priority:          model.PriorityP2,
			EnergyCost:        3,
			EstimatedDuration: 30,
			PreferredStart:    &blogStart,
			CognitiveLoad:     3,
			TaskType:          "deep_work",
		},
		{
			ID:                "demo-inbox-sweep",
			Title:             "Reply to recruiter email",
			Priority:          model.PriorityP3,
			EnergyCost:        1,
			EstimatedDuration: 15,
			CognitiveLoad:     1,
			TaskType:          "email_reply",
		},
		{
			ID:                "demo-dentist",
			Title:             "Cancel Thursday dentist appointment",
			Priority:          model.PriorityP3,
			EnergyCost:        1,
			EstimatedDuration: 10,
			CognitiveLoad:     1,
			TaskType:          "cancel_appointment",
		},
	}

	for _, t := range tasks {
		t.Status = model.StatusBacklog
		if err := buf.Put(ctx, t); err != nil {
			return fmt.Errorf("seed task %s: %w", t.ID, err)
		}
	}

	// Stage upstream feeds so the first poll establishes a baseline.
	// Demos then mutate these keys to trigger disruptions.
	calendar := []sentinel.CalendarEvent{
		{ID: "cal-design-sync", Title: "Design sync", Start: now.Add(time.Hour), End: now.Add(time.Hour + 45*time.Minute)},
		{ID: "cal-1on1", Title: "1:1 with Sam", Start: now.Add(4 * time.Hour), End: now.Add(4*time.Hour + 30*time.Minute)},
	}
	mail := []sentinel.MailMessage{
		{ID: "mail-newsletter", From: "digest@news.example", Subject: "Weekly roundup", ReceivedAt: now.Add(-time.Hour)},
	}
	chat := []sentinel.ChatMessage{
		{ID: "chat-goodmorning", Channel: "#team", Author: "sam", Text: "morning all", SentAt: now.Add(-30 * time.Minute)},
	}

	if err := stageFeed(ctx, s, "calendar", calendar); err != nil {
		return err
	}
	if err := stageFeed(ctx, s, "mail", mail); err != nil {
		return err
	}
	return stageFeed(ctx, s, "chat", chat)
}

func stageFeed(ctx context.Context, s store.Store, source string, items interface{}) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("stage %s feed: %w", source, err)
	}
	if err := s.Set(ctx, store.SentinelFeedKey(source), string(data), 0); err != nil {
		return fmt.Errorf("stage %s feed: %w", source, err)
	}
	return nil
}
