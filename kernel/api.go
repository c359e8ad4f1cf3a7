package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/energy"
	"github.com/rewindlabs/rewind/kernel/ghostworker"
	"github.com/rewindlabs/rewind/kernel/idempotency"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
	"github.com/rewindlabs/rewind/kernel/profiler"
	"github.com/rewindlabs/rewind/kernel/store"
)

type API struct {
	store    store.Store
	orch     *Orchestrator
	buf      *buffer.Buffer
	monitor  *energy.Monitor
	profiler *profiler.Profiler
	worker   *ghostworker.Worker
	profiles *ProfileWorker

	// Services
	intelligence *IntelligenceService
	wsHub        *ClientHub

	idempotency *idempotency.Store

	// Storm Protection
	disruptionLimiter *rate.Limiter
	planLimiter       *rate.Limiter
	energyLimiter     *rate.Limiter
}

func NewAPI(s store.Store, orch *Orchestrator, buf *buffer.Buffer, monitor *energy.Monitor, prof *profiler.Profiler, worker *ghostworker.Worker, profiles *ProfileWorker, hub *ClientHub) *API {
	api := &API{
		store:       s,
		orch:        orch,
		buf:         buf,
		monitor:     monitor,
		profiler:    prof,
		worker:      worker,
		profiles:    profiles,
		wsHub:       hub,
		idempotency: idempotency.NewStore(idempotency.DefaultTTL),
		// Allow 10 disruptions/sec, burst 20
		disruptionLimiter: rate.NewLimiter(rate.Limit(10), 20),
		// Allow 1 plan/sec, burst 3
		planLimiter: rate.NewLimiter(rate.Limit(1), 3),
		// Allow 5 energy reports/sec, burst 10
		energyLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}

	api.intelligence = NewIntelligenceService(s, buf, orch, monitor)
	return api
}

// registerRoutes wires every handler onto the mux.
func (a *API) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/schedule", a.handleSchedule)
	mux.HandleFunc("/schedule/plan", a.withIdempotency(a.handlePlanDay))
	mux.HandleFunc("/disruption", a.withIdempotency(a.handleDisruption))
	mux.HandleFunc("/energy", a.handleEnergy)
	mux.HandleFunc("/tasks", a.handleTasks)
	mux.HandleFunc("/tasks/", a.handleTaskByID)
	mux.HandleFunc("/drafts", a.handleListDrafts)
	mux.HandleFunc("/drafts/", a.handleDraftAction)
	mux.HandleFunc("/profile", a.handleProfile)
	mux.HandleFunc("/profile/history", a.handleProfileHistory)
	mux.HandleFunc("/profile/recompute", a.handleProfileRecompute)
	mux.HandleFunc("/goals", a.handleGoals)
	mux.HandleFunc("/intelligence", a.handleIntelligence)
	mux.HandleFunc("/ws", a.handleClientStream)
}

// apiError is the structured error body for every failure response.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body apiError
	body.Error.Code = code
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// Wrapper for capturing responses replayed on idempotent retries
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		if resp, found := a.idempotency.Get(key); found {
			for k, v := range resp.Headers {
				for _, val := range v {
					w.Header().Add(k, val)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		a.idempotency.Set(key, idempotency.Response{
			StatusCode: rec.statusCode,
			Body:       rec.body,
			Headers:    rec.Header(),
		})
	}
}

// writeRateLimitError writes a 429 response with jittered Retry-After
func (a *API) writeRateLimitError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()

	// Jitter: 1s base + 0-1000ms random
	retryAfter := 1000 + rand.Intn(1000)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter/1000))
	writeError(w, http.StatusTooManyRequests, "capacity", "too many requests, storm protection active")
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": a.wsHub.ClientCount(),
	})
}

// handleSchedule returns the consistent snapshot: ordered active
// schedule, backlog, energy, and queue depths.
func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}

	schedule, err := a.orch.Schedule(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	backlog, err := a.buf.ListBacklog(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	counts, err := a.orch.QueueCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	level, err := a.monitor.Current(r.Context())
	if err != nil {
		level = model.EnergyLevel{Level: 3, Source: model.EnergyFallback}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedule":     schedule,
		"backlog":      backlog,
		"queue_counts": counts,
		"energy":       level,
	})
}

func (a *API) handlePlanDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	if !a.planLimiter.Allow() {
		a.writeRateLimitError(w, "plan")
		return
	}

	var req struct {
		AvailableHours float64 `json:"available_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	if req.AvailableHours <= 0 || req.AvailableHours > 24 {
		writeError(w, http.StatusBadRequest, "invalid_input", "available_hours must be in (0,24]")
		return
	}

	selected, err := a.orch.PlanDay(r.Context(), req.AvailableHours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected": selected,
		"count":    len(selected),
	})
}

func (a *API) handleDisruption(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	// Storm Protection
	if !a.disruptionLimiter.Allow() {
		a.writeRateLimitError(w, "disruption")
		return
	}

	var ev model.ContextChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	if ev.EventType == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "event_type is required")
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Source == "" {
		ev.Source = "api"
	}

	disruption, err := a.orch.ReportContextEvent(r.Context(), ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, disruption)
}

func (a *API) handleEnergy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		level, err := a.monitor.Current(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, level)

	case http.MethodPost:
		if !a.energyLimiter.Allow() {
			a.writeRateLimitError(w, "energy")
			return
		}
		var req struct {
			Level int `json:"level"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
			return
		}
		if req.Level < 1 || req.Level > 5 {
			writeError(w, http.StatusBadRequest, "invalid_input", "level must be in [1,5]")
			return
		}
		level, err := a.orch.ReportEnergy(r.Context(), req.Level)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, level)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
	}
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var tasks []*model.Task
		var err error
		switch r.URL.Query().Get("status") {
		case "active":
			tasks, err = a.buf.ListActive(r.Context())
		default:
			tasks, err = a.buf.ListBacklog(r.Context())
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, tasks)

	case http.MethodPost:
		var task model.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			// Malformed timestamps (naive, non-RFC3339) land here
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body: "+err.Error())
			return
		}
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if task.Status == "" {
			task.Status = model.StatusBacklog
		}
		task.CreatedAt = time.Now()
		if err := task.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		if err := a.buf.Put(r.Context(), &task); err != nil {
			writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, task)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
	}
}

// handleTaskByID serves /tasks/{id} and the /start, /complete subpaths.
func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 2 || pathParts[1] == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid task id")
		return
	}
	id := pathParts[1]

	if len(pathParts) == 3 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
			return
		}
		switch pathParts[2] {
		case "start":
			a.handleStartTask(w, r, id)
		case "complete":
			a.handleCompleteTask(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "not_found", "unknown action")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := a.buf.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
			return
		}
		if task == nil {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeJSON(w, http.StatusOK, task)

	case http.MethodDelete:
		if err := a.buf.Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
	}
}

func (a *API) handleStartTask(w http.ResponseWriter, r *http.Request, id string) {
	task, err := a.orch.StartTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) handleCompleteTask(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		ActualMinutes int `json:"actual_minutes"`
	}
	if r.Body != nil {
		// Empty body means "took as long as estimated"
		json.NewDecoder(r.Body).Decode(&req)
	}

	task, err := a.orch.CompleteTask(r.Context(), id, req.ActualMinutes)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	drafts, err := a.worker.PendingDrafts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, drafts)
}

// handleDraftAction serves /drafts/{id}/approve and /drafts/{id}/reject.
// Decisions go over the approvals channel so the worker resolves them in
// its own loop, same as any other surface.
func (a *API) handleDraftAction(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 3 {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid draft path")
		return
	}
	id, action := pathParts[1], pathParts[2]
	if action != "approve" && action != "reject" {
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}

	draft, err := a.worker.GetDraft(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	if draft == nil {
		writeError(w, http.StatusNotFound, "not_found", "draft not found")
		return
	}
	if draft.Status != model.DraftPending {
		writeError(w, http.StatusConflict, "conflict", fmt.Sprintf("draft already %s", draft.Status))
		return
	}

	var req struct {
		EditedBody string `json:"edited_body"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	msg := model.ApprovalMessage{Action: action, DraftID: id, EditedBody: req.EditedBody}
	data, err := json.Marshal(msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	if err := a.store.Publish(r.Context(), store.ChannelApprovals, string(data)); err != nil {
		log.Printf("Failed to publish approval for draft %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": action + "_queued", "draft_id": id})
}

// handleProfile serves the full profile; ?view=linkedin narrows it to
// the public-facing fields.
func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}

	result, err := a.profiler.LastResult(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "not_found", "profile not computed yet")
		return
	}

	if r.URL.Query().Get("view") == "linkedin" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"archetype":       result.Profile.Archetype,
			"success_plot":    result.SuccessPlot,
			"sentiment_trend": result.SentimentTrend,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGoals records and lists daily planning outcomes in the archive.
// These feed the next profile recomputation.
func (a *API) handleGoals(w http.ResponseWriter, r *http.Request) {
	history := a.profiles.history
	if history == nil {
		writeError(w, http.StatusServiceUnavailable, "external_unavailable", "history archive not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		goals, err := history.ListDailyGoals(r.Context(), 14)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, goals)

	case http.MethodPost:
		var entry store.DailyGoalEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
			return
		}
		if entry.DateID == "" {
			entry.DateID = time.Now().Format("2006-01-02")
		}
		if entry.TasksTotal < entry.TasksCompleted || entry.TasksTotal < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "tasks_completed cannot exceed tasks_total")
			return
		}
		if entry.CompletionRate == 0 && entry.TasksTotal > 0 {
			entry.CompletionRate = float64(entry.TasksCompleted) / float64(entry.TasksTotal)
		}
		entry.RecordedAt = time.Now()
		if err := history.RecordDailyGoal(r.Context(), entry); err != nil {
			writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, entry)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
	}
}

// handleProfileHistory serves the rolling snapshot window the drift
// detector works from, newest first.
func (a *API) handleProfileHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}

	limit := 14
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = n
	}

	snapshots, err := a.profiler.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	if snapshots == nil {
		snapshots = []profiler.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// handleProfileRecompute forces a profile refresh outside the daily cycle.
func (a *API) handleProfileRecompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	result, err := a.profiles.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleIntelligence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
		return
	}
	snapshot, err := a.intelligence.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
