// Package executor contains the session-aware execution coordinator: the
// orchestrator that runs a scheduled batch of test units, captures the
// authenticated browser state once after a successful login, and transparently
// reuses it for every subsequent unit until it goes stale.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/config"
	"github.com/dbbuilder/autoplaytest/internal/schedule"
	"github.com/dbbuilder/autoplaytest/internal/session"
)

// stateOpTimeout bounds the extra browser round trips for session capture,
// injection, and context teardown. These are small, fixed-cost operations
// that must not inherit a unit's full execution budget.
const stateOpTimeout = 10 * time.Second

// SessionStore is the slice of the session store the coordinator needs.
type SessionStore interface {
	Get(key schemas.SessionKey) (*schemas.SessionRecord, error)
	Put(key schemas.SessionKey, rec *schemas.SessionRecord)
	Invalidate(key schemas.SessionKey)
}

// Capturer extracts session state from a live execution context.
type Capturer interface {
	Capture(ctx context.Context, execCtx schemas.ExecutionContext, key schemas.SessionKey) (*schemas.SessionRecord, error)
}

// Restorer injects stored session state into a fresh execution context.
type Restorer interface {
	Restore(ctx context.Context, execCtx schemas.ExecutionContext, rec *schemas.SessionRecord) error
}

// Coordinator drives one batch of test units through the execution capability
// as a sequential pipeline. Sequencing within a batch is required: session
// state written by a login unit must be visible to every later unit. Separate
// Coordinator instances may run concurrently as long as they target different
// session keys; the store serializes the key they would share.
type Coordinator struct {
	cfg      *config.Config
	logger   *zap.Logger
	runner   schemas.UnitRunner
	store    SessionStore
	capturer Capturer
	injector Restorer
	detector Detector
}

// New wires up a coordinator. A nil detector falls back to the configured
// signal heuristic.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	runner schemas.UnitRunner,
	store SessionStore,
	capturer Capturer,
	injector Restorer,
	detector Detector,
) (*Coordinator, error) {
	if detector == nil {
		d, err := NewSignalDetector(cfg.Runner)
		if err != nil {
			return nil, err
		}
		detector = d
	}
	return &Coordinator{
		cfg:      cfg,
		logger:   logger.Named("coordinator"),
		runner:   runner,
		store:    store,
		capturer: capturer,
		injector: injector,
		detector: detector,
	}, nil
}

// ScheduleAndRun is the single entry point: it orders the batch so login
// units run first, then executes every unit, managing the session lifecycle
// around each one. The returned list always contains one outcome per input
// unit, in schedule order, plus one tagged retry outcome immediately after
// any unit whose injected session turned out to be dead. Unit failures never
// abort the batch; the only error this returns is a precondition violation
// detected before any unit runs.
func (c *Coordinator) ScheduleAndRun(ctx context.Context, units []schemas.TestUnit, key schemas.SessionKey) ([]schemas.ExecutionOutcome, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session key: %w", err)
	}

	scheduled := schedule.Order(units)

	if c.cfg.Session.ForceNew {
		// Only state captured during this pass may be injected.
		c.store.Invalidate(key)
		c.logger.Info("Forcing new session for this pass", zap.String("key", key.String()))
	}

	c.logger.Info("Starting batch",
		zap.String("key", key.String()),
		zap.Int("units", len(scheduled)),
	)

	outcomes := make([]schemas.ExecutionOutcome, 0, len(scheduled))
	for _, unit := range scheduled {
		// Cooperative cancellation is checked between units only; in-flight
		// units are bounded by their own timeout.
		if ctx.Err() != nil {
			outcomes = append(outcomes, schemas.ExecutionOutcome{
				UnitID:        unit.ID,
				Category:      unit.Category,
				Status:        schemas.StatusSkipped,
				SessionAction: schemas.SessionNone,
				Detail:        "batch cancelled",
			})
			continue
		}

		outcome, res, injected := c.executeUnit(ctx, unit, key, true)
		outcomes = append(outcomes, outcome)

		// The one automatic retry in the system: an injected session that the
		// application rejected is invalidated, then the unit reruns cold.
		if injected && outcome.Status != schemas.StatusPassed && c.detector.AuthFailure(res) {
			c.logger.Warn("Injected session rejected, invalidating and retrying cold",
				zap.String("unit_id", unit.ID),
				zap.Int("http_status", res.Signals.HTTPStatus),
				zap.String("final_url", res.Signals.FinalURL),
			)
			c.store.Invalidate(key)

			retry, _, _ := c.executeUnit(ctx, unit, key, false)
			retry.SessionAction = schemas.SessionRetriedFreshLogin
			retry.Retry = true
			outcomes = append(outcomes, retry)
		}
	}

	c.logger.Info("Batch complete",
		zap.String("key", key.String()),
		zap.Int("outcomes", len(outcomes)),
	)
	return outcomes, nil
}

// executeUnit runs a single unit in a fresh execution context, handling the
// session lifecycle around it. allowInjection is false on the post-auth-
// failure retry so the rerun is guaranteed cold. The raw run result is
// returned alongside the outcome for the auth-failure heuristic.
func (c *Coordinator) executeUnit(ctx context.Context, unit schemas.TestUnit, key schemas.SessionKey, allowInjection bool) (schemas.ExecutionOutcome, schemas.RunResult, bool) {
	start := time.Now()
	outcome := schemas.ExecutionOutcome{
		UnitID:        unit.ID,
		Category:      unit.Category,
		SessionAction: schemas.SessionNone,
	}

	target := c.cfg.Target.URL
	if target == "" {
		target = key.Origin
	}

	execCtx, err := c.runner.NewExecutionContext(ctx, target)
	if err != nil {
		outcome.Status = schemas.StatusError
		outcome.Detail = fmt.Sprintf("creating execution context: %v", err)
		outcome.Duration = time.Since(start)
		return outcome, schemas.RunResult{}, false
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), stateOpTimeout)
		defer cancel()
		if cerr := execCtx.Close(closeCtx); cerr != nil {
			c.logger.Warn("Failed to close execution context", zap.String("unit_id", unit.ID), zap.Error(cerr))
		}
	}()

	injected := false
	if allowInjection && unit.Category != schemas.CategoryLogin {
		if rec, err := c.store.Get(key); err == nil {
			injectCtx, cancel := context.WithTimeout(ctx, stateOpTimeout)
			if ierr := c.injector.Restore(injectCtx, execCtx, rec); ierr != nil {
				// Injection mechanism failure downgrades to a cold run.
				c.logger.Warn("Session injection failed, running cold",
					zap.String("unit_id", unit.ID), zap.Error(ierr))
			} else {
				injected = true
				outcome.SessionAction = schemas.SessionInjected
			}
			cancel()
		} else if !errors.Is(err, session.ErrMiss) {
			c.logger.Warn("Session lookup failed, running cold", zap.String("unit_id", unit.ID), zap.Error(err))
		}
	}

	unitCtx, cancel := context.WithTimeout(ctx, c.cfg.Runner.UnitTimeout())
	res, runErr := execCtx.Run(unitCtx, unit)
	cancel()

	outcome.Duration = time.Since(start)
	switch {
	case runErr != nil && errors.Is(runErr, context.DeadlineExceeded):
		outcome.Status = schemas.StatusError
		outcome.Detail = fmt.Sprintf("unit timed out after %s", c.cfg.Runner.UnitTimeout())
	case runErr != nil:
		outcome.Status = schemas.StatusError
		outcome.Detail = runErr.Error()
	default:
		outcome.Status = res.Status
		outcome.Detail = res.Detail
	}

	c.logger.Debug("Unit executed",
		zap.String("unit_id", unit.ID),
		zap.String("category", string(unit.Category)),
		zap.String("status", string(outcome.Status)),
		zap.Bool("injected", injected),
		zap.Duration("duration", outcome.Duration),
	)

	// A passing login is the one moment authenticated state exists for sure:
	// capture it now so every later unit in the batch can reuse it.
	if unit.Category == schemas.CategoryLogin && outcome.Status == schemas.StatusPassed {
		captureCtx, cancel := context.WithTimeout(ctx, stateOpTimeout)
		rec, cerr := c.capturer.Capture(captureCtx, execCtx, key)
		cancel()
		if cerr != nil {
			// Capture is best-effort; later units simply run cold.
			c.logger.Warn("Session capture failed, batch continues without reuse",
				zap.String("unit_id", unit.ID), zap.Error(cerr))
		} else {
			c.store.Put(key, rec)
			outcome.SessionAction = schemas.SessionCaptured
		}
	}

	return outcome, res, injected
}
