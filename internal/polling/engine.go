// Package polling implements the generic "wait until the remote job is
// terminal" loop: exponential backoff, an overall timeout, and tolerance for
// transient status-check failures.
package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/metrics"
)

// Config controls the backoff schedule and the overall budget of one poll.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	BackoffFactor   float64
	Timeout         time.Duration
}

// DefaultConfig returns the default schedule: 2s growing by 1.5x up to 10s, for at most 10 minutes.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Second,
		BackoffFactor:   1.5,
		Timeout:         10 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// NextInterval grows current by the backoff factor, capped at MaxInterval.
func (c Config) NextInterval(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.BackoffFactor)
	if next > c.MaxInterval || next < current {
		return c.MaxInterval
	}
	return next
}

// Outcome tags what a status check observed.
type Outcome int

const (
	// OutcomeOK means the check reached the remote service and Status is meaningful.
	OutcomeOK Outcome = iota
	// OutcomeTransient means the check was inconclusive; polling continues.
	OutcomeTransient
	// OutcomeTerminal means the check failed in a way no further poll can fix.
	OutcomeTerminal
)

// Poll is the tagged result of one status check.
type Poll struct {
	Outcome  Outcome
	Status   domain.UnifiedStatus
	Progress int
	Result   *domain.Result
	Err      error
}

// OK reports a successful check. err carries the classified failure for StatusFailed.
func OK(status domain.UnifiedStatus, progress int, result *domain.Result, err error) Poll {
	return Poll{Outcome: OutcomeOK, Status: status, Progress: progress, Result: result, Err: err}
}

// Transient reports an inconclusive check.
func Transient(err error) Poll {
	return Poll{Outcome: OutcomeTransient, Err: err}
}

// Terminal reports a check failure that ends polling.
func Terminal(err error) Poll {
	return Poll{Outcome: OutcomeTerminal, Err: err}
}

// StatusChecker performs one remote status check for taskID.
type StatusChecker func(ctx context.Context, taskID string) Poll

// Options configures an Engine.
type Options struct {
	Logger  *infra.Logger
	Metrics *metrics.Recorder
	// Now and Sleep are overridable for deterministic tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine runs poll loops. It holds no per-task state and is safe for concurrent use.
type Engine struct {
	logger  *infra.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewEngine constructs an Engine.
func NewEngine(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Engine{
		logger:  infra.Component(opts.Logger, "polling"),
		metrics: opts.Metrics,
		now:     now,
		sleep:   sleep,
	}
}

// pollState lives for exactly one PollUntilComplete call.
type pollState struct {
	taskID    string
	attempt   int
	interval  time.Duration
	startedAt time.Time
}

// PollUntilComplete calls checker until the task is terminal or cfg.Timeout
// elapses. Transient check failures never end the loop on their own.
func (e *Engine) PollUntilComplete(ctx context.Context, taskID string, checker StatusChecker, cfg Config) (*domain.Result, error) {
	if checker == nil {
		return nil, domain.NewGenerationError(domain.CodeInvalidParams, taskID, "status checker is required", "")
	}
	cfg = cfg.withDefaults()
	state := pollState{taskID: taskID, interval: cfg.InitialInterval, startedAt: e.now()}
	defer func() { e.metrics.ObservePollDuration(e.now().Sub(state.startedAt)) }()

	for {
		state.attempt++
		poll := checker(ctx, taskID)

		switch poll.Outcome {
		case OutcomeTerminal:
			e.metrics.ObservePoll(metrics.PollFailed)
			return nil, asGenerationError(poll.Err, taskID)
		case OutcomeTransient:
			e.metrics.ObservePoll(metrics.PollTransient)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("polling: task %s: %w", taskID, ctxErr)
			}
			e.logger.Warn().
				Err(poll.Err).
				Str("task_id", taskID).
				Int("attempt", state.attempt).
				Msg("polling: status check failed, will retry")
		default:
			switch poll.Status {
			case domain.StatusCompleted:
				if poll.Result == nil {
					e.metrics.ObservePoll(metrics.PollFailed)
					return nil, domain.NewGenerationError(domain.CodeProcessingFailed, taskID,
						"task completed but no result was returned", "")
				}
				e.metrics.ObservePoll(metrics.PollCompleted)
				e.logger.Debug().Str("task_id", taskID).Int("attempts", state.attempt).Msg("polling: task completed")
				return poll.Result, nil
			case domain.StatusFailed:
				e.metrics.ObservePoll(metrics.PollFailed)
				return nil, asGenerationError(poll.Err, taskID)
			default:
				e.metrics.ObservePoll(metrics.PollPending)
				e.logger.Debug().
					Str("task_id", taskID).
					Str("status", string(poll.Status)).
					Int("progress", poll.Progress).
					Int("attempt", state.attempt).
					Msg("polling: task in progress")
			}
		}

		if elapsed := e.now().Sub(state.startedAt); elapsed > cfg.Timeout {
			e.metrics.ObservePoll(metrics.PollTimeout)
			return nil, timeoutError(taskID, cfg.Timeout, poll.Err)
		}
		if err := e.sleep(ctx, state.interval); err != nil {
			return nil, fmt.Errorf("polling: task %s: %w", taskID, err)
		}
		state.interval = cfg.NextInterval(state.interval)
	}
}

// PollWithRetry re-runs PollUntilComplete up to maxRetries additional times
// while the failure is retryable. Timeouts, cancellation and terminal task
// failures (content violations, processing failures, rejected requests) are
// returned at once.
func (e *Engine) PollWithRetry(ctx context.Context, taskID string, checker StatusChecker, cfg Config, maxRetries int) (*domain.Result, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := e.PollUntilComplete(ctx, taskID, checker, cfg)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, domain.ErrTimeout) || ctx.Err() != nil || !retryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt < maxRetries {
			e.logger.Warn().
				Err(err).
				Str("task_id", taskID).
				Int("attempt", attempt+1).
				Int("max_attempts", maxRetries+1).
				Msg("polling: poll failed, retrying")
		}
	}
	return nil, lastErr
}

// retryable reports whether another poll run could change the outcome. A
// cause that declares itself terminal wins over a retryable error code.
func retryable(err error) bool {
	var ge *domain.GenerationError
	if errors.As(err, &ge) && !ge.Retryable() {
		return false
	}
	var terminal interface{ Terminal() bool }
	if errors.As(err, &terminal) && terminal.Terminal() {
		return false
	}
	return true
}

func timeoutError(taskID string, timeout time.Duration, cause error) *domain.GenerationError {
	msg := fmt.Sprintf("task did not complete within %s; submit in async mode and query the task later", timeout)
	if cause != nil {
		return domain.WrapGenerationError(domain.CodeTimeout, taskID, msg, cause)
	}
	return domain.NewGenerationError(domain.CodeTimeout, taskID, msg, "")
}

func asGenerationError(err error, taskID string) error {
	if err == nil {
		return domain.NewGenerationError(domain.CodeUnknown, taskID, "task failed without an error", "")
	}
	var ge *domain.GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return domain.WrapGenerationError(domain.CodeAPIError, taskID, "status check failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
