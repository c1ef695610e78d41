// Package continuation issues the supplementary submission a task needs when
// more output was requested than the remote service produces per call.
//
// The remote service silently caps each submission at a fixed number of
// output units. When a task asks for more, a chained follow-up request must
// be sent once the first batch is done; its output is reported under the
// original task id, so the original poll loop simply keeps polling until the
// combined count is complete. Several pollers may observe the trigger at the
// same time, so the task cache's compare-and-set gate decides which one sends.
package continuation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"genflow/internal/async"
	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/metrics"
	"genflow/internal/status"
)

// DefaultSubmitTimeout bounds one supplementary submission.
const DefaultSubmitTimeout = time.Minute

// Submitter sends the supplementary request for an existing task.
type Submitter interface {
	SubmitContinuation(ctx context.Context, record domain.TaskRecord) error
}

// Gate is the subset of the task cache the coordinator relies on.
type Gate interface {
	Get(taskID string) (domain.TaskRecord, bool)
	MarkContinuationSent(taskID string) bool
	ReleaseContinuation(taskID string)
}

// Options configures a Coordinator.
type Options struct {
	Cache     Gate
	Submitter Submitter
	Logger    *infra.Logger
	Metrics   *metrics.Recorder
	// SubmitTimeout bounds the detached submission, which outlives the
	// caller's context so a finished HTTP request does not abort it.
	SubmitTimeout time.Duration
}

// Coordinator fires at most one continuation per task id.
type Coordinator struct {
	cache     Gate
	submitter Submitter
	logger    *infra.Logger
	metrics   *metrics.Recorder
	timeout   time.Duration
	inflight  sync.WaitGroup
}

// New constructs a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("continuation: cache is required")
	}
	if opts.Submitter == nil {
		return nil, fmt.Errorf("continuation: submitter is required")
	}
	timeout := opts.SubmitTimeout
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	return &Coordinator{
		cache:     opts.Cache,
		submitter: opts.Submitter,
		logger:    infra.Component(opts.Logger, "continuation"),
		metrics:   opts.Metrics,
		timeout:   timeout,
	}, nil
}

// Handle observes one detached continuation submission.
type Handle struct {
	TaskID string
	done   chan struct{}
	err    error
}

func newHandle(taskID string) *Handle {
	return &Handle{TaskID: taskID, done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Done is closed once the submission has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the submission error. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the submission finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MaybeContinue starts the continuation for taskID when cls reports
// eligibility and this caller wins the cache gate. It never blocks on the
// remote call; the returned Handle is nil when nothing was started.
func (c *Coordinator) MaybeContinue(ctx context.Context, taskID string, cls status.Classification) *Handle {
	if !cls.ContinuationEligible {
		return nil
	}
	record, ok := c.cache.Get(taskID)
	if !ok {
		c.logger.Debug().Str("task_id", taskID).Msg("continuation: no cached record, skipping")
		c.metrics.ObserveContinuation(metrics.ContinuationSkipped)
		return nil
	}
	if len(record.ContinuationBody) == 0 && len(record.DerivedParams) == 0 {
		c.logger.Warn().Str("task_id", taskID).Msg("continuation: record has nothing to replay")
		c.metrics.ObserveContinuation(metrics.ContinuationSkipped)
		return nil
	}
	if !c.cache.MarkContinuationSent(taskID) {
		return nil
	}

	handle := newHandle(taskID)
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	async.Go(c.logger, &c.inflight, "continuation-"+taskID, func() {
		defer cancel()
		err := c.submit(submitCtx, record)
		handle.finish(err)
	})
	return handle
}

func (c *Coordinator) submit(ctx context.Context, record domain.TaskRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("continuation: submitter panicked: %v", r)
		}
		if err != nil {
			// Release so a later poll can retry; the gate must never stay set
			// without a submission behind it.
			c.cache.ReleaseContinuation(record.TaskID)
			c.metrics.ObserveContinuation(metrics.ContinuationFailed)
			c.logger.Warn().Err(err).Str("task_id", record.TaskID).Msg("continuation: submission failed, gate released")
			return
		}
		c.metrics.ObserveContinuation(metrics.ContinuationSent)
		c.logger.Info().Str("task_id", record.TaskID).Msg("continuation: supplementary submission sent")
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.submitter.SubmitContinuation(ctx, record)
}

// Wait blocks until every in-flight continuation has finished.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}
