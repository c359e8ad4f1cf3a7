package sentinel

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
	"github.com/rewindlabs/rewind/kernel/store"
)

const defaultInterval = 30 * time.Second

// defaultUrgencyKeywords flag a chat message as urgent when any appears.
var defaultUrgencyKeywords = []string{
	"urgent", "asap", "deadline", "blocked", "critical", "p0", "hotfix",
}

// Sentinel polls external sources, diffs each against its last-observed
// snapshot, and emits raw context events. One goroutine per source; a
// failed cycle is logged and the next tick tries again.
type Sentinel struct {
	store    store.Store
	buf      *buffer.Buffer
	events   chan<- model.ContextChangeEvent
	memo     *gocache.Cache
	now      func() time.Time
	interval time.Duration
	keywords map[string]struct{}

	calendars []CalendarSource
	mailboxes []MailSource
	chats     []ChatSource
}

func New(s store.Store, buf *buffer.Buffer, events chan<- model.ContextChangeEvent, interval time.Duration) *Sentinel {
	if interval <= 0 {
		interval = defaultInterval
	}
	keywords := make(map[string]struct{}, len(defaultUrgencyKeywords))
	for _, kw := range defaultUrgencyKeywords {
		keywords[kw] = struct{}{}
	}
	return &Sentinel{
		store:    s,
		buf:      buf,
		events:   events,
		memo:     gocache.New(10*time.Minute, 30*time.Minute),
		now:      time.Now,
		interval: interval,
		keywords: keywords,
	}
}

// NewWithClock pins the clock for deterministic tests.
func NewWithClock(s store.Store, buf *buffer.Buffer, events chan<- model.ContextChangeEvent, interval time.Duration, now func() time.Time) *Sentinel {
	sen := New(s, buf, events, interval)
	sen.now = now
	return sen
}

func (s *Sentinel) AddCalendar(src CalendarSource) { s.calendars = append(s.calendars, src) }
func (s *Sentinel) AddMail(src MailSource)         { s.mailboxes = append(s.mailboxes, src) }
func (s *Sentinel) AddChat(src ChatSource)         { s.chats = append(s.chats, src) }

// SetKeywords replaces the chat urgency keyword set.
func (s *Sentinel) SetKeywords(words []string) {
	keywords := make(map[string]struct{}, len(words))
	for _, kw := range words {
		keywords[strings.ToLower(kw)] = struct{}{}
	}
	s.keywords = keywords
}

// Run polls every registered source on the configured interval until ctx
// is cancelled.
func (s *Sentinel) Run(ctx context.Context) {
	for _, src := range s.calendars {
		go s.loop(ctx, src.Name(), func(ctx context.Context) error {
			return s.PollCalendar(ctx, src)
		})
	}
	for _, src := range s.mailboxes {
		go s.loop(ctx, src.Name(), func(ctx context.Context) error {
			return s.PollMail(ctx, src)
		})
	}
	for _, src := range s.chats {
		go s.loop(ctx, src.Name(), func(ctx context.Context) error {
			return s.PollChat(ctx, src)
		})
	}
}

func (s *Sentinel) loop(ctx context.Context, name string, poll func(context.Context) error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := poll(ctx); err != nil {
			observability.PollErrors.WithLabelValues(name).Inc()
			log.Printf("SENTINEL: %s poll failed: %v", name, err)
		}
		observability.PollDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sentinel) emit(ctx context.Context, event model.ContextChangeEvent) {
	observability.ContextEvents.WithLabelValues(event.Source, string(event.EventType)).Inc()
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// loadSnapshot fills dst from the memo cache or the substrate. Returns
// false when no snapshot exists yet.
func (s *Sentinel) loadSnapshot(ctx context.Context, source string, dst interface{}) (bool, error) {
	key := store.SentinelSnapshotKey(source)
	if cached, found := s.memo.Get(key); found {
		return true, json.Unmarshal([]byte(cached.(string)), dst)
	}
	raw, err := s.store.Get(ctx, key)
	if err != nil || raw == "" {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), dst)
}

func (s *Sentinel) saveSnapshot(ctx context.Context, source string, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	key := store.SentinelSnapshotKey(source)
	s.memo.Set(key, string(data), gocache.DefaultExpiration)
	return s.store.Set(ctx, key, string(data), 0)
}

// affectedTasks returns active tasks whose preferred start falls inside
// the event interval.
func (s *Sentinel) affectedTasks(ctx context.Context, start, end time.Time) []string {
	active, err := s.buf.ListActive(ctx)
	if err != nil {
		log.Printf("SENTINEL: active-task lookup failed: %v", err)
		return nil
	}
	var ids []string
	for _, task := range active {
		if task.PreferredStart == nil {
			continue
		}
		at := *task.PreferredStart
		if !at.Before(start) && at.Before(end) {
			ids = append(ids, task.ID)
		}
	}
	return ids
}

// PollCalendar diffs the upstream calendar against the cached snapshot.
func (s *Sentinel) PollCalendar(ctx context.Context, src CalendarSource) error {
	current, err := src.Events(ctx)
	if err != nil {
		return err
	}

	var previous []CalendarEvent
	seeded, err := s.loadSnapshot(ctx, src.Name(), &previous)
	if err != nil {
		return err
	}
	if err := s.saveSnapshot(ctx, src.Name(), current); err != nil {
		return err
	}
	if !seeded {
		// First observation: populate the cache, emit nothing
		return nil
	}

	prevByID := lo.KeyBy(previous, func(ev CalendarEvent) string { return ev.ID })
	currByID := lo.KeyBy(current, func(ev CalendarEvent) string { return ev.ID })

	now := s.now()
	for _, ev := range current {
		old, known := prevByID[ev.ID]
		if !known {
			s.emit(ctx, model.ContextChangeEvent{
				EventType:       model.EventNewCalendarEvent,
				Source:          src.Name(),
				Timestamp:       now,
				AffectedTaskIDs: s.affectedTasks(ctx, ev.Start, ev.End),
				Metadata: map[string]interface{}{
					"title":        ev.Title,
					"lost_minutes": int(ev.End.Sub(ev.Start).Minutes()),
				},
			})
			continue
		}
		if old.Start.Equal(ev.Start) && old.End.Equal(ev.End) {
			continue
		}
		if ev.End.Before(old.End) {
			s.emit(ctx, model.ContextChangeEvent{
				EventType:       model.EventMeetingEndedEarly,
				Source:          src.Name(),
				Timestamp:       now,
				AffectedTaskIDs: s.affectedTasks(ctx, ev.Start, old.End),
				Metadata: map[string]interface{}{
					"title":         ev.Title,
					"freed_minutes": int(old.End.Sub(ev.End).Minutes()),
				},
			})
		} else {
			s.emit(ctx, model.ContextChangeEvent{
				EventType:       model.EventScheduleConflict,
				Source:          src.Name(),
				Timestamp:       now,
				AffectedTaskIDs: s.affectedTasks(ctx, ev.Start, ev.End),
				Metadata: map[string]interface{}{
					"title":        ev.Title,
					"lost_minutes": int(ev.End.Sub(old.End).Minutes()),
				},
			})
		}
	}

	for _, old := range previous {
		if _, still := currByID[old.ID]; still {
			continue
		}
		s.emit(ctx, model.ContextChangeEvent{
			EventType:       model.EventCancelledMeeting,
			Source:          src.Name(),
			Timestamp:       now,
			AffectedTaskIDs: s.affectedTasks(ctx, old.Start, old.End),
			Metadata: map[string]interface{}{
				"title":         old.Title,
				"freed_minutes": int(old.End.Sub(old.Start).Minutes()),
			},
		})
	}
	return nil
}

// PollMail emits new_email for ids not in the cached snapshot.
func (s *Sentinel) PollMail(ctx context.Context, src MailSource) error {
	current, err := src.Messages(ctx)
	if err != nil {
		return err
	}

	var previous []string
	seeded, err := s.loadSnapshot(ctx, src.Name(), &previous)
	if err != nil {
		return err
	}

	ids := lo.Map(current, func(msg MailMessage, _ int) string { return msg.ID })
	if err := s.saveSnapshot(ctx, src.Name(), ids); err != nil {
		return err
	}
	if !seeded {
		return nil
	}

	now := s.now()
	for _, msg := range current {
		if lo.Contains(previous, msg.ID) {
			continue
		}
		s.emit(ctx, model.ContextChangeEvent{
			EventType: model.EventNewEmail,
			Source:    src.Name(),
			Timestamp: now,
			Metadata: map[string]interface{}{
				"from":    msg.From,
				"subject": msg.Subject,
				"urgent":  msg.Urgent,
			},
		})
	}
	return nil
}

// chatUrgent applies the keyword heuristic plus the mention marker.
func (s *Sentinel) chatUrgent(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "@") {
		return true
	}
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?;:\"'")
		if _, ok := s.keywords[word]; ok {
			return true
		}
	}
	return false
}

// PollChat emits slack_urgent_message for new messages that read urgent.
func (s *Sentinel) PollChat(ctx context.Context, src ChatSource) error {
	current, err := src.Messages(ctx)
	if err != nil {
		return err
	}

	var previous []string
	seeded, err := s.loadSnapshot(ctx, src.Name(), &previous)
	if err != nil {
		return err
	}

	ids := lo.Map(current, func(msg ChatMessage, _ int) string { return msg.ID })
	if err := s.saveSnapshot(ctx, src.Name(), ids); err != nil {
		return err
	}
	if !seeded {
		return nil
	}

	now := s.now()
	for _, msg := range current {
		if lo.Contains(previous, msg.ID) {
			continue
		}
		if !s.chatUrgent(msg.Text) {
			continue
		}
		s.emit(ctx, model.ContextChangeEvent{
			EventType: model.EventSlackUrgentMessage,
			Source:    src.Name(),
			Timestamp: now,
			Metadata: map[string]interface{}{
				"channel": msg.Channel,
				"author":  msg.Author,
				"urgent":  true,
			},
		})
	}
	return nil
}
