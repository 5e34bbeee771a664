package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/engine"
	"github.com/stanstork/chartdata-api/internal/models"
	"github.com/stanstork/chartdata-api/internal/worker"
)

// RunController is the control surface of the coordinator.
type RunController interface {
	Start(ctx context.Context, mode models.RunMode, subset []string) (models.RunState, error)
	Stop() error
}

type StatusReader interface {
	Snapshot() models.RunState
}

type ResultLister interface {
	ListByRun(ctx context.Context, runID string) ([]models.ExecutionResult, error)
}

type RunHandler struct {
	runs    RunController
	status  StatusReader
	results ResultLister
	logger  zerolog.Logger
}

func NewRunHandler(runs RunController, status StatusReader, results ResultLister, logger zerolog.Logger) *RunHandler {
	return &RunHandler{
		runs:    runs,
		status:  status,
		results: results,
		logger:  logger.With().Str("handler", "run").Logger(),
	}
}

type startRunRequest struct {
	Mode         string   `json:"mode"`
	DataPointIDs []string `json:"data_point_ids"`
}

func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	mode, err := models.ParseRunMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.runs.Start(r.Context(), mode, req.DataPointIDs)
	if err != nil {
		var cfgErr *engine.ConfigurationError
		switch {
		case errors.Is(err, worker.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &cfgErr):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error().Err(err).Msg("failed to start run")
			writeError(w, http.StatusInternalServerError, "Failed to start run: "+err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

func (h *RunHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.runs.Stop(); err != nil {
		if errors.Is(err, worker.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, h.status.Snapshot())
}

// Status returns the latest snapshot. Per-row results are omitted unless
// ?results=true is given, since pollers hit this every few seconds.
func (h *RunHandler) Status(w http.ResponseWriter, r *http.Request) {
	state := h.status.Snapshot()
	if !strings.EqualFold(r.URL.Query().Get("results"), "true") {
		state.Results = nil
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *RunHandler) Results(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(mux.Vars(r)["runID"])
	if runID == "" {
		writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}
	// History is keyed by a uuid column; anything else cannot exist.
	if _, err := uuid.Parse(runID); err != nil {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}

	// The live run is served from memory; older runs come from history.
	if state := h.status.Snapshot(); state.RunID == runID {
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": state.Results})
		return
	}
	if h.results == nil {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	results, err := h.results.ListByRun(r.Context(), runID)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("failed to list run results")
		writeError(w, http.StatusInternalServerError, "Failed to list run results")
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}
