package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/config"
	"github.com/stanstork/chartdata-api/internal/engine"
	"github.com/stanstork/chartdata-api/internal/handlers"
	"github.com/stanstork/chartdata-api/internal/metrics"
	"github.com/stanstork/chartdata-api/internal/middleware"
	"github.com/stanstork/chartdata-api/internal/migration"
	"github.com/stanstork/chartdata-api/internal/models"
	"github.com/stanstork/chartdata-api/internal/repository"
	"github.com/stanstork/chartdata-api/internal/routes"
	"github.com/stanstork/chartdata-api/internal/utils"
	"github.com/stanstork/chartdata-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config      *config.Config
	db          *sql.DB
	logger      zerolog.Logger
	coordinator *worker.Coordinator
	sqlserver   *engine.SQLServerAdapter
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	} else if err != nil {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, keeping info")
	}

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(db, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}

	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type"}),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter builds the engine, the coordinator and all HTTP handlers.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	var box *utils.SecretBox
	if app.config.Connections.EncryptionKey != "" {
		var err error
		box, err = utils.NewSecretBox(app.config.Connections.EncryptionKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid connection encryption key")
		}
	}

	// Repositories
	pointRepo := repository.NewDataPointRepository(app.db)
	connRepo := repository.NewConnectionRepository(app.db, box)
	resultRepo := repository.NewResultRepository(app.db)

	// Connection profiles come either from the config file or the database.
	var (
		loader engine.ProfileLoader = engine.StaticProfiles(app.config.StaticProfiles())
		store  handlers.ProfileStore
	)
	if app.config.Connections.Source == "database" {
		loader = connRepo
		store = connRepo
	}
	resolver := engine.NewResolver(loader)

	// Adapters
	app.sqlserver = engine.NewSQLServerAdapter(engine.SQLServerOptions{
		MaxOpenConns:    app.config.SQLServer.MaxOpenConns,
		ConnMaxIdleTime: app.config.SQLServer.ConnMaxIdleTime,
		QueryTimeout:    app.config.SQLServer.QueryTimeout,
	}, logger)
	fileAdapter := engine.NewFileAdapter(logger)
	adapters := engine.Adapters{
		models.SourceSQLServer: app.sqlserver,
		models.SourceFile:      fileAdapter,
	}

	recorder := metrics.NewPrometheusRecorder()
	app.coordinator = worker.NewCoordinator(worker.Config{
		Catalog:  pointRepo,
		Resolver: resolver,
		Adapters: adapters,
		Results:  resultRepo,
		Recorder: recorder,
		Pacing:   app.config.Runner.Pacing,
	}, logger)

	// Handlers
	healthHandler := handlers.NewHealthHandler(app.db)
	runHandler := handlers.NewRunHandler(app.coordinator, app.coordinator.Status(), resultRepo, logger)
	pointHandler := handlers.NewDataPointHandler(pointRepo, logger)
	connHandler := handlers.NewConnectionHandler(resolver, app.coordinator, store, map[models.SourceSystem]handlers.ConnectionTester{
		models.SourceSQLServer: app.sqlserver,
		models.SourceFile:      fileAdapter,
	}, logger)

	return routes.NewRouter(healthHandler, runHandler, pointHandler, connHandler, recorder.Handler())
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Let an active run finish its in-flight data point.
	logger.Info().Msg("Stopping run coordinator...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.config.Runner.StopTimeout)
	defer stopCancel()
	if err := app.coordinator.Shutdown(stopCtx); err != nil {
		logger.Error().Err(err).Msg("Run did not stop in time")
	}

	if err := app.sqlserver.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close sqlserver pools")
	}
	logger.Info().Msg("Run coordinator stopped.")
}
