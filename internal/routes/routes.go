package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/chartdata-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(
	health *handlers.HealthHandler,
	runs *handlers.RunHandler,
	points *handlers.DataPointHandler,
	conns *handlers.ConnectionHandler,
	metrics http.Handler,
) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", health.HealthCheck).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()

	// Run control and status
	api.HandleFunc("/runs", runs.Start).Methods(http.MethodPost)
	api.HandleFunc("/runs/stop", runs.Stop).Methods(http.MethodPost)
	api.HandleFunc("/runs/status", runs.Status).Methods(http.MethodGet)
	api.HandleFunc("/runs/{runID}/results", runs.Results).Methods(http.MethodGet)

	// Catalog
	api.HandleFunc("/data-points", points.List).Methods(http.MethodGet)
	api.HandleFunc("/data-points/{id}", points.Get).Methods(http.MethodGet)

	// Connection profiles
	api.HandleFunc("/connections", conns.List).Methods(http.MethodGet)
	api.HandleFunc("/connections", conns.Reconfigure).Methods(http.MethodPut)
	api.HandleFunc("/connections/{system}/test", conns.Test).Methods(http.MethodPost)

	return router
}
