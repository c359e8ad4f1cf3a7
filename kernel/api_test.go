package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rewindlabs/rewind/kernel/ghostworker"
	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/profiler"
)

func newAPIHarness(t *testing.T) (*kernelHarness, *http.ServeMux) {
	t.Helper()
	h := newKernelHarness(t)

	worker := ghostworker.New(h.store, ghostworker.LogGenerator{}, ghostworker.LogExecutor{},
		h.orch.Delegations(), h.orch.Completions())
	prof := profiler.New(h.store)
	profiles := NewProfileWorker(h.store, nil, prof, h.monitor, NewClientHub())
	api := NewAPI(h.store, h.orch, h.buf, h.monitor, prof, worker, profiles, NewClientHub())

	mux := http.NewServeMux()
	api.registerRoutes(mux)
	return h, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not a structured error: %s", rec.Body.String())
	}
	return body.Error.Code
}

func TestCreateTaskValidation(t *testing.T) {
	_, mux := newAPIHarness(t)

	rec := doJSON(t, mux, http.MethodPost, "/tasks",
		`{"title":"bad","energy_cost":9,"cognitive_load":2,"estimated_duration":30}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	if code := decodeAPIError(t, rec); code != "invalid_input" {
		t.Errorf("error code %s, want invalid_input", code)
	}

	// Naive datetimes are rejected at decode time.
	rec = doJSON(t, mux, http.MethodPost, "/tasks",
		`{"title":"bad date","energy_cost":2,"cognitive_load":2,"estimated_duration":30,"deadline":"2025-03-10 14:00"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d for naive datetime, want 400", rec.Code)
	}
	if code := decodeAPIError(t, rec); code != "invalid_input" {
		t.Errorf("error code %s, want invalid_input", code)
	}
}

func TestCreateAndFetchTask(t *testing.T) {
	_, mux := newAPIHarness(t)

	rec := doJSON(t, mux, http.MethodPost, "/tasks",
		`{"id":"memo","title":"Write memo","priority":2,"energy_cost":2,"cognitive_load":2,"estimated_duration":25}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/tasks/memo", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var task model.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Status != model.StatusBacklog {
		t.Errorf("status %s, want backlog default", task.Status)
	}

	rec = doJSON(t, mux, http.MethodGet, "/tasks/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d for missing task, want 404", rec.Code)
	}
	if code := decodeAPIError(t, rec); code != "not_found" {
		t.Errorf("error code %s, want not_found", code)
	}
}

func TestPlanDayBounds(t *testing.T) {
	_, mux := newAPIHarness(t)

	for _, body := range []string{
		`{"available_hours":0}`,
		`{"available_hours":25}`,
	} {
		rec := doJSON(t, mux, http.MethodPost, "/schedule/plan", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status %d, want 400", body, rec.Code)
		}
	}

	rec := doJSON(t, mux, http.MethodPost, "/schedule/plan", `{"available_hours":6}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestPlanDayIdempotentReplay(t *testing.T) {
	h, mux := newAPIHarness(t)

	h.seedTask(t, &model.Task{ID: "one", Title: "one", Priority: model.PriorityP1, EstimatedDuration: 30})

	headers := map[string]string{"X-Idempotency-Key": "plan-123"}
	first := doJSON(t, mux, http.MethodPost, "/schedule/plan", `{"available_hours":2}`, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", first.Code)
	}
	second := doJSON(t, mux, http.MethodPost, "/schedule/plan", `{"available_hours":2}`, headers)
	if second.Code != first.Code {
		t.Errorf("replay status %d, want %d", second.Code, first.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replay body differs:\n%s\nvs\n%s", second.Body.String(), first.Body.String())
	}
}

func TestDisruptionEndpoint(t *testing.T) {
	h, mux := newAPIHarness(t)

	h.seedTask(t, &model.Task{ID: "filler", Title: "filler", Priority: model.PriorityP2, EstimatedDuration: 15})

	rec := doJSON(t, mux, http.MethodPost, "/disruption",
		`{"event_type":"cancelled_meeting","metadata":{"freed_minutes":20}}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var disruption model.DisruptionEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &disruption); err != nil {
		t.Fatalf("decode disruption: %v", err)
	}
	if disruption.RecommendedAction != model.ActionSwapIn {
		t.Errorf("action %s, want swap_in", disruption.RecommendedAction)
	}

	rec = doJSON(t, mux, http.MethodPost, "/disruption", `{"metadata":{}}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d for missing event_type, want 400", rec.Code)
	}
}

func TestEnergyEndpointValidatesLevel(t *testing.T) {
	_, mux := newAPIHarness(t)

	rec := doJSON(t, mux, http.MethodPost, "/energy", `{"level":7}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/energy", `{"level":4}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var level model.EnergyLevel
	if err := json.Unmarshal(rec.Body.Bytes(), &level); err != nil {
		t.Fatalf("decode level: %v", err)
	}
	if level.Level != 4 || level.Source != model.EnergyUserReported {
		t.Errorf("got level %d source %s, want 4 user_reported", level.Level, level.Source)
	}
}

func TestDraftActionOnMissingDraft(t *testing.T) {
	_, mux := newAPIHarness(t)

	rec := doJSON(t, mux, http.MethodPost, "/drafts/nope/approve", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	if code := decodeAPIError(t, rec); code != "not_found" {
		t.Errorf("error code %s, want not_found", code)
	}
}

func TestGoalsRequireArchive(t *testing.T) {
	_, mux := newAPIHarness(t)

	rec := doJSON(t, mux, http.MethodPost, "/goals", `{"tasks_total":5,"tasks_completed":4}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d without archive, want 503", rec.Code)
	}
	if code := decodeAPIError(t, rec); code != "external_unavailable" {
		t.Errorf("error code %s, want external_unavailable", code)
	}
}

func TestProfileLifecycle(t *testing.T) {
	_, mux := newAPIHarness(t)

	rec := doJSON(t, mux, http.MethodGet, "/profile", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404 before first recompute", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/profile/recompute", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recompute status %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/profile", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d after recompute, want 200", rec.Code)
	}
	var result profiler.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	// No observed history: conservative defaults.
	if result.Profile.Archetype != model.ArchetypeAtRisk {
		t.Errorf("archetype %s, want at_risk with no history", result.Profile.Archetype)
	}
	if result.Profile.EstimationBias != 1.2 {
		t.Errorf("bias %.2f, want default 1.2", result.Profile.EstimationBias)
	}

	rec = doJSON(t, mux, http.MethodGet, "/profile/history?limit=5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var snaps []profiler.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("history has %d snapshots after one recompute, want 1", len(snaps))
	}

	rec = doJSON(t, mux, http.MethodGet, "/profile/history?limit=zero", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("history status %d for bad limit, want 400", rec.Code)
	}
}
