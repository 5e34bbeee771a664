package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/engine"
	"github.com/stanstork/chartdata-api/internal/models"
)

// DefaultPacing is the pause between two data points of a run. It keeps the
// load on the external backends low; it is not needed for correctness.
const DefaultPacing = 2 * time.Second

// Catalog is the slice of the data point store the coordinator needs.
type Catalog interface {
	LoadAll(ctx context.Context) ([]*models.DataPoint, error)
	UpdateValue(ctx context.Context, id string, value float64, at time.Time) error
}

type ProfileResolver interface {
	Resolve(ctx context.Context, system models.SourceSystem) (models.ConnectionProfile, error)
	Reconfigure(profiles map[models.SourceSystem]models.ConnectionProfile)
}

// ResultSink receives every execution result. Failures are logged only.
type ResultSink interface {
	Record(ctx context.Context, res models.ExecutionResult) error
}

// Recorder observes run and row transitions, typically for metrics.
// RunFinished is called while the coordinator lock is held and must not call
// back into the coordinator.
type Recorder interface {
	RunStarted(mode models.RunMode)
	RowFinished(system models.SourceSystem, res models.ExecutionResult)
	RunFinished(state models.RunState)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(models.RunMode) {}

func (nopRecorder) RowFinished(models.SourceSystem, models.ExecutionResult) {}

func (nopRecorder) RunFinished(models.RunState) {}

type Config struct {
	Catalog  Catalog
	Resolver ProfileResolver
	Adapters engine.Adapters
	Results  ResultSink // optional
	Recorder Recorder   // optional
	Status   *StatusStore
	Pacing   time.Duration
}

// Coordinator runs the data point catalog against the backends, one row at a
// time. It moves Idle -> Running -> (Stopping) -> Idle and allows a single
// run at a time.
type Coordinator struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	phase  models.RunPhase
	runID  string
	stopCh chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

func NewCoordinator(cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.Status == nil {
		cfg.Status = NewStatusStore()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	return &Coordinator{
		cfg:    cfg,
		logger: logger.With().Str("component", "coordinator").Logger(),
		phase:  models.PhaseIdle,
	}
}

// Status exposes the snapshot store to pollers.
func (c *Coordinator) Status() *StatusStore {
	return c.cfg.Status
}

// Start launches a run over the whole catalog, or over subset when given, in
// catalog order. The run continues in the background; the returned snapshot
// is the state right after the run entered Running.
func (c *Coordinator) Start(ctx context.Context, mode models.RunMode, subset []string) (models.RunState, error) {
	c.mu.Lock()
	if c.phase != models.PhaseIdle {
		runID := c.runID
		c.mu.Unlock()
		return models.RunState{}, &AlreadyRunningError{RunID: runID}
	}
	// Reserve the coordinator while the catalog loads; nothing is published yet.
	c.phase = models.PhaseRunning
	c.mu.Unlock()

	points, err := c.prepare(ctx, subset)
	if err != nil {
		c.mu.Lock()
		c.phase = models.PhaseIdle
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("mode", string(mode)).Msg("run could not start")
		return models.RunState{}, err
	}

	now := time.Now()
	runID := uuid.NewString()
	stopCh := make(chan struct{})
	done := make(chan struct{})
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.runID = runID
	c.stopCh = stopCh
	c.done = done
	c.cancel = cancel
	c.cfg.Status.publish(models.RunState{
		RunID:     runID,
		Mode:      mode,
		Phase:     models.PhaseRunning,
		Total:     len(points),
		StartedAt: &now,
	})
	snapshot := c.cfg.Status.Snapshot()
	c.mu.Unlock()

	c.cfg.Recorder.RunStarted(mode)
	c.logger.Info().Str("run_id", runID).Str("mode", string(mode)).Int("data_points", len(points)).Msg("run started")

	go c.run(runCtx, runID, mode, points, stopCh, done)
	return snapshot, nil
}

// Stop asks the active run to finish after its in-flight data point. It
// does not wait; use Wait for that.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != models.PhaseRunning || c.stopCh == nil {
		return ErrNotRunning
	}
	c.phase = models.PhaseStopping
	close(c.stopCh)
	c.publishLocked(func(s *models.RunState) {})
	c.logger.Info().Str("run_id", c.runID).Msg("stop requested")
	return nil
}

// Wait blocks until the current run, if any, has returned to Idle.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops an active run and waits for it. When ctx expires first the
// in-flight backend call is cancelled.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	if err := c.Wait(ctx); err != nil {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return err
	}
	return nil
}

// Reconfigure swaps the connection profiles. It is refused during a run so
// profiles never change under an executing row.
func (c *Coordinator) Reconfigure(profiles map[models.SourceSystem]models.ConnectionProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != models.PhaseIdle {
		return &AlreadyRunningError{RunID: c.runID}
	}
	c.cfg.Resolver.Reconfigure(profiles)
	c.logger.Info().Int("profiles", len(profiles)).Msg("connection profiles reconfigured")
	return nil
}

// prepare loads the catalog, applies the subset and checks that every source
// system the run touches has a profile and an adapter.
func (c *Coordinator) prepare(ctx context.Context, subset []string) ([]*models.DataPoint, error) {
	all, err := c.cfg.Catalog.LoadAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load data point catalog")
	}

	points := all
	if len(subset) > 0 {
		wanted := make(map[string]struct{}, len(subset))
		for _, id := range subset {
			wanted[strings.TrimSpace(id)] = struct{}{}
		}
		points = make([]*models.DataPoint, 0, len(subset))
		for _, dp := range all {
			if _, ok := wanted[dp.ID]; ok {
				points = append(points, dp)
			}
		}
	}

	checked := make(map[models.SourceSystem]bool)
	for _, dp := range points {
		if checked[dp.SourceSystem] {
			continue
		}
		if _, err := c.cfg.Adapters.For(dp.SourceSystem); err != nil {
			return nil, err
		}
		if _, err := c.cfg.Resolver.Resolve(ctx, dp.SourceSystem); err != nil {
			return nil, err
		}
		checked[dp.SourceSystem] = true
	}
	return points, nil
}

func (c *Coordinator) run(ctx context.Context, runID string, mode models.RunMode, points []*models.DataPoint, stopCh <-chan struct{}, done chan struct{}) {
	stopped := false
	defer func() {
		finished := time.Now()
		c.mu.Lock()
		c.phase = models.PhaseIdle
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.stopCh = nil
		c.publishLocked(func(s *models.RunState) {
			s.ActiveDataPointID = ""
			s.FinishedAt = &finished
			s.Stopped = stopped
		})
		final := c.cfg.Status.Snapshot()
		// Recorded under the lock so a following Start is observed after it.
		c.cfg.Recorder.RunFinished(final)
		c.mu.Unlock()

		c.logger.Info().
			Str("run_id", runID).
			Int("processed", final.ProcessedCount).
			Int("succeeded", final.SuccessCount).
			Int("zero", final.ZeroValueCount).
			Int("failed", final.FailureCount).
			Bool("stopped", stopped).
			Msg("run finished")
		close(done)
	}()

	for i, dp := range points {
		if stopRequested(ctx, stopCh) {
			stopped = true
			return
		}

		c.publish(func(s *models.RunState) { s.ActiveDataPointID = dp.ID })
		res := c.execute(ctx, runID, mode, dp)
		c.publish(func(s *models.RunState) {
			s.ActiveDataPointID = ""
			s.Record(res)
		})

		if i < len(points)-1 && !c.pause(ctx, stopCh) {
			stopped = true
			return
		}
	}
}

// execute runs one data point. Every error is converted into a failed
// result with value 0; nothing propagates out of the loop.
func (c *Coordinator) execute(ctx context.Context, runID string, mode models.RunMode, dp *models.DataPoint) models.ExecutionResult {
	started := time.Now()
	res := models.ExecutionResult{
		RunID:       runID,
		DataPointID: dp.ID,
		ExecutedAt:  started,
	}

	value, err := c.query(ctx, mode, dp)
	res.DurationMs = time.Since(started).Milliseconds()

	log := c.logger.With().Str("run_id", runID).Str("data_point", dp.ID).Str("source", string(dp.SourceSystem)).Logger()
	switch {
	case err != nil:
		value = 0
		res.Outcome = models.OutcomeFailure
		res.ErrorKind = engine.ErrorKind(err)
		res.ErrorMessage = err.Error()
		log.Warn().Err(err).Str("error_kind", res.ErrorKind).Msg("data point failed")
	case value == 0:
		res.Outcome = models.OutcomeZero
		res.Succeeded = true
		log.Info().Int64("duration_ms", res.DurationMs).Msg("data point returned zero")
	default:
		res.Outcome = models.OutcomeSuccess
		res.Succeeded = true
		log.Debug().Float64("value", value).Int64("duration_ms", res.DurationMs).Msg("data point updated")
	}
	res.Value = value

	at := time.Now()
	dp.LastValue = &value
	dp.LastUpdatedAt = &at
	if err := c.cfg.Catalog.UpdateValue(ctx, dp.ID, value, at); err != nil {
		log.Error().Err(err).Msg("failed to write data point value")
	}
	if c.cfg.Results != nil {
		if err := c.cfg.Results.Record(ctx, res); err != nil {
			log.Error().Err(err).Msg("failed to record execution result")
		}
	}
	c.cfg.Recorder.RowFinished(dp.SourceSystem, res)
	return res
}

func (c *Coordinator) query(ctx context.Context, mode models.RunMode, dp *models.DataPoint) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()

	adapter, err := c.cfg.Adapters.For(dp.SourceSystem)
	if err != nil {
		return 0, err
	}
	profile, err := c.cfg.Resolver.Resolve(ctx, dp.SourceSystem)
	if err != nil {
		return 0, err
	}
	text := dp.QueryFor(mode)
	if strings.TrimSpace(text) == "" {
		return 0, &engine.QueryError{System: dp.SourceSystem, Message: fmt.Sprintf("no %s query defined", mode)}
	}

	rows, err := adapter.Execute(engine.WithTableHint(ctx, dp.TableHint()), profile, text)
	if err != nil {
		return 0, err
	}
	return engine.ExtractValue(rows), nil
}

// pause waits out the pacing delay. It returns false when the run should end
// instead of continuing.
func (c *Coordinator) pause(ctx context.Context, stopCh <-chan struct{}) bool {
	if c.cfg.Pacing <= 0 {
		return !stopRequested(ctx, stopCh)
	}
	timer := time.NewTimer(c.cfg.Pacing)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func stopRequested(ctx context.Context, stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Coordinator) publish(mutate func(s *models.RunState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(mutate)
}

// publishLocked stores a fresh snapshot derived from the current one. The
// caller holds c.mu.
func (c *Coordinator) publishLocked(mutate func(s *models.RunState)) {
	next := c.cfg.Status.load().Clone()
	mutate(&next)
	next.Phase = c.phase
	c.cfg.Status.publish(next)
}
