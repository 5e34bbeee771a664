package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/engine"
	"github.com/stanstork/chartdata-api/internal/models"
	"github.com/stanstork/chartdata-api/internal/worker"
)

type ProfileRegistry interface {
	Profiles(ctx context.Context) (map[models.SourceSystem]models.ConnectionProfile, error)
	Invalidate()
}

type Reconfigurer interface {
	Reconfigure(profiles map[models.SourceSystem]models.ConnectionProfile) error
}

type ProfileStore interface {
	Replace(ctx context.Context, profiles []models.ConnectionProfile) error
}

type ConnectionTester interface {
	Ping(ctx context.Context, profile models.ConnectionProfile) error
}

type ConnectionHandler struct {
	registry ProfileRegistry
	runs     Reconfigurer
	store    ProfileStore // nil when profiles come from the config file
	testers  map[models.SourceSystem]ConnectionTester
	logger   zerolog.Logger
}

func NewConnectionHandler(registry ProfileRegistry, runs Reconfigurer, store ProfileStore, testers map[models.SourceSystem]ConnectionTester, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		registry: registry,
		runs:     runs,
		store:    store,
		testers:  testers,
		logger:   logger.With().Str("handler", "connection").Logger(),
	}
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.registry.Profiles(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load connection profiles")
		writeError(w, http.StatusInternalServerError, "Failed to load connection profiles")
		return
	}
	out := make([]models.ConnectionProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.Redacted())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].System < out[j].System })
	writeJSON(w, http.StatusOK, out)
}

// Reconfigure replaces every profile with the ones in the body, keyed by
// source system name. It is refused while a run is active.
func (h *ConnectionHandler) Reconfigure(w http.ResponseWriter, r *http.Request) {
	var payload map[string]models.ConnectionProfile
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	current, err := h.registry.Profiles(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load connection profiles")
		writeError(w, http.StatusInternalServerError, "Failed to load connection profiles")
		return
	}

	profiles := make(map[models.SourceSystem]models.ConnectionProfile, len(payload))
	for key, p := range payload {
		system, err := models.ParseSourceSystem(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.System = system
		// A redacted password echoed back by a client keeps the stored one.
		if p.Password == models.RedactedPassword {
			p.Password = current[system].Password
		}
		if _, err := p.DSN(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		profiles[system] = p
	}

	if err := h.runs.Reconfigure(profiles); err != nil {
		if errors.Is(err, worker.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]models.ConnectionProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].System < out[j].System })

	if h.store != nil {
		if err := h.store.Replace(r.Context(), out); err != nil {
			h.logger.Error().Err(err).Msg("failed to persist connection profiles")
			writeError(w, http.StatusInternalServerError, "Profiles applied but could not be persisted: "+err.Error())
			return
		}
		// Reload from the table so ids and timestamps are served.
		h.registry.Invalidate()
	}

	for i := range out {
		out[i] = out[i].Redacted()
	}
	writeJSON(w, http.StatusOK, out)
}

// Test checks that the registered profile for a source system is reachable.
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	system, err := models.ParseSourceSystem(mux.Vars(r)["system"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tester, ok := h.testers[system]
	if !ok {
		writeError(w, http.StatusNotFound, "No adapter for "+string(system))
		return
	}
	profiles, err := h.registry.Profiles(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load connection profiles")
		writeError(w, http.StatusInternalServerError, "Failed to load connection profiles")
		return
	}
	profile, ok := profiles[system]
	if !ok {
		writeError(w, http.StatusNotFound, "No connection profile for "+string(system))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := tester.Ping(ctx, profile); err != nil {
		h.logger.Warn().Err(err).Str("system", string(system)).Msg("connection test failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "failed",
			"kind":   engine.ErrorKind(err),
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
