package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/engine"
	"github.com/stanstork/chartdata-api/internal/models"
	"github.com/stanstork/chartdata-api/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuns struct {
	startErr error
	stopErr  error
	mode     models.RunMode
	subset   []string
	state    models.RunState
}

func (f *fakeRuns) Start(ctx context.Context, mode models.RunMode, subset []string) (models.RunState, error) {
	f.mode = mode
	f.subset = subset
	return f.state, f.startErr
}

func (f *fakeRuns) Stop() error { return f.stopErr }

type fixedStatus models.RunState

func (s fixedStatus) Snapshot() models.RunState { return models.RunState(s).Clone() }

type fakeResults map[string][]models.ExecutionResult

func (f fakeResults) ListByRun(ctx context.Context, runID string) ([]models.ExecutionResult, error) {
	return f[runID], nil
}

func TestRunHandlerStart(t *testing.T) {
	runs := &fakeRuns{state: models.RunState{RunID: "run-1", Phase: models.PhaseRunning, Total: 2}}
	h := NewRunHandler(runs, fixedStatus{}, nil, zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Start(rr, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"mode":"prod","data_point_ids":["a","b"]}`)))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, models.ModeProduction, runs.mode)
	assert.Equal(t, []string{"a", "b"}, runs.subset)

	var state models.RunState
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&state))
	assert.Equal(t, "run-1", state.RunID)
}

func TestRunHandlerStartDefaultsToTestMode(t *testing.T) {
	runs := &fakeRuns{}
	h := NewRunHandler(runs, fixedStatus{}, nil, zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Start(rr, httptest.NewRequest(http.MethodPost, "/api/runs", nil))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, models.ModeTest, runs.mode)
}

func TestRunHandlerStartErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"bad mode", `{"mode":"staging"}`, nil, http.StatusBadRequest},
		{"already running", `{}`, &worker.AlreadyRunningError{RunID: "run-0"}, http.StatusConflict},
		{"missing profile", `{}`, &engine.ConfigurationError{System: models.SourceFile}, http.StatusUnprocessableEntity},
		{"catalog down", `{}`, errors.New("failed to load data point catalog"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRunHandler(&fakeRuns{startErr: tt.err}, fixedStatus{}, nil, zerolog.Nop())
			rr := httptest.NewRecorder()
			h.Start(rr, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestRunHandlerStop(t *testing.T) {
	h := NewRunHandler(&fakeRuns{}, fixedStatus{Phase: models.PhaseStopping}, nil, zerolog.Nop())
	rr := httptest.NewRecorder()
	h.Stop(rr, httptest.NewRequest(http.MethodPost, "/api/runs/stop", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), `"phase":"stopping"`)

	h = NewRunHandler(&fakeRuns{stopErr: worker.ErrNotRunning}, fixedStatus{}, nil, zerolog.Nop())
	rr = httptest.NewRecorder()
	h.Stop(rr, httptest.NewRequest(http.MethodPost, "/api/runs/stop", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRunHandlerStatus(t *testing.T) {
	status := fixedStatus{
		RunID:          "run-1",
		Phase:          models.PhaseRunning,
		ProcessedCount: 1,
		Results:        []models.ExecutionResult{{RunID: "run-1", DataPointID: "orders", Value: 1500}},
	}
	h := NewRunHandler(&fakeRuns{}, status, nil, zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/api/runs/status", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "results")
	assert.Contains(t, rr.Body.String(), `"processed_count":1`)

	rr = httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/api/runs/status?results=true", nil))
	assert.Contains(t, rr.Body.String(), `"data_point_id":"orders"`)
}

func TestRunHandlerResults(t *testing.T) {
	live, old := uuid.NewString(), uuid.NewString()
	status := fixedStatus{RunID: live, Results: []models.ExecutionResult{{RunID: live, DataPointID: "a"}}}
	history := fakeResults{old: {{RunID: old, DataPointID: "b"}}}
	h := NewRunHandler(&fakeRuns{}, status, history, zerolog.Nop())

	get := func(runID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/results", nil)
		req = mux.SetURLVars(req, map[string]string{"runID": runID})
		rr := httptest.NewRecorder()
		h.Results(rr, req)
		return rr
	}

	rr := get(live)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"data_point_id":"a"`)

	rr = get(old)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"data_point_id":"b"`)

	assert.Equal(t, http.StatusNotFound, get(uuid.NewString()).Code)
}

type failingResults struct{ t *testing.T }

func (f failingResults) ListByRun(ctx context.Context, runID string) ([]models.ExecutionResult, error) {
	f.t.Errorf("history queried for %q", runID)
	return nil, errors.New("invalid input syntax for type uuid")
}

func TestRunHandlerResultsRejectsMalformedRunID(t *testing.T) {
	h := NewRunHandler(&fakeRuns{}, fixedStatus{}, failingResults{t}, zerolog.Nop())

	for _, runID := range []string{"nope", "run-1", "12345"} {
		req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/results", nil)
		req = mux.SetURLVars(req, map[string]string{"runID": runID})
		rr := httptest.NewRecorder()
		h.Results(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code, runID)
	}
}
