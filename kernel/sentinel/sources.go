package sentinel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rewindlabs/rewind/kernel/store"
)

// CalendarEvent is one upstream calendar entry.
type CalendarEvent struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MailMessage is one upstream inbox entry.
type MailMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Urgent     bool      `json:"urgent"`
	ReceivedAt time.Time `json:"received_at"`
}

// ChatMessage is one upstream chat entry.
type ChatMessage struct {
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	Author  string    `json:"author"`
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sent_at"`
}

// CalendarSource yields the current upstream calendar state.
type CalendarSource interface {
	Name() string
	Events(ctx context.Context) ([]CalendarEvent, error)
}

// MailSource yields the current upstream inbox state.
type MailSource interface {
	Name() string
	Messages(ctx context.Context) ([]MailMessage, error)
}

// ChatSource yields the current upstream chat state.
type ChatSource interface {
	Name() string
	Messages(ctx context.Context) ([]ChatMessage, error)
}

// StoreCalendarSource reads calendar state staged at sentinel:feed:<name>.
// Upstream connectors (and tests) write there; the poller stays decoupled
// from OAuth and vendor APIs.
type StoreCalendarSource struct {
	store store.Store
	name  string
}

func NewStoreCalendarSource(s store.Store, name string) *StoreCalendarSource {
	return &StoreCalendarSource{store: s, name: name}
}

func (s *StoreCalendarSource) Name() string { return s.name }

func (s *StoreCalendarSource) Events(ctx context.Context) ([]CalendarEvent, error) {
	raw, err := s.store.Get(ctx, store.SentinelFeedKey(s.name))
	if err != nil || raw == "" {
		return nil, err
	}
	var events []CalendarEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// StoreMailSource reads inbox state staged at sentinel:feed:<name>.
type StoreMailSource struct {
	store store.Store
	name  string
}

func NewStoreMailSource(s store.Store, name string) *StoreMailSource {
	return &StoreMailSource{store: s, name: name}
}

func (s *StoreMailSource) Name() string { return s.name }

func (s *StoreMailSource) Messages(ctx context.Context) ([]MailMessage, error) {
	raw, err := s.store.Get(ctx, store.SentinelFeedKey(s.name))
	if err != nil || raw == "" {
		return nil, err
	}
	var messages []MailMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// StoreChatSource reads chat state staged at sentinel:feed:<name>.
type StoreChatSource struct {
	store store.Store
	name  string
}

func NewStoreChatSource(s store.Store, name string) *StoreChatSource {
	return &StoreChatSource{store: s, name: name}
}

func (s *StoreChatSource) Name() string { return s.name }

func (s *StoreChatSource) Messages(ctx context.Context) ([]ChatMessage, error) {
	raw, err := s.store.Get(ctx, store.SentinelFeedKey(s.name))
	if err != nil || raw == "" {
		return nil, err
	}
	var messages []ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
