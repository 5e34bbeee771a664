package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/models"
)

type DataPointReader interface {
	LoadAll(ctx context.Context) ([]*models.DataPoint, error)
	Get(ctx context.Context, id string) (*models.DataPoint, error)
}

type DataPointHandler struct {
	repo   DataPointReader
	logger zerolog.Logger
}

func NewDataPointHandler(repo DataPointReader, logger zerolog.Logger) *DataPointHandler {
	return &DataPointHandler{
		repo:   repo,
		logger: logger.With().Str("handler", "data_point").Logger(),
	}
}

func (h *DataPointHandler) List(w http.ResponseWriter, r *http.Request) {
	points, err := h.repo.LoadAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list data points")
		writeError(w, http.StatusInternalServerError, "Failed to list data points")
		return
	}
	if points == nil {
		points = []*models.DataPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *DataPointHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dp, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Data point not found")
			return
		}
		h.logger.Error().Err(err).Str("data_point", id).Msg("failed to get data point")
		writeError(w, http.StatusInternalServerError, "Failed to get data point")
		return
	}
	writeJSON(w, http.StatusOK, dp)
}
