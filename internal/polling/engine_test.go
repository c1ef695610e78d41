package polling

import (
	"context"
	"errors"
	"testing"
	"time"

	"genflow/internal/domain"
)

// virtualTime drives an Engine without real sleeps.
type virtualTime struct {
	now   time.Time
	waits []time.Duration
}

func newVirtualTime() *virtualTime {
	return &virtualTime{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (v *virtualTime) engine() *Engine {
	return NewEngine(Options{
		Now: func() time.Time { return v.now },
		Sleep: func(ctx context.Context, d time.Duration) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v.waits = append(v.waits, d)
			v.now = v.now.Add(d)
			return nil
		},
	})
}

func sequenceChecker(polls ...Poll) (StatusChecker, *int) {
	calls := 0
	return func(ctx context.Context, taskID string) Poll {
		i := calls
		calls++
		if i >= len(polls) {
			return polls[len(polls)-1]
		}
		return polls[i]
	}, &calls
}

func processing() Poll {
	return OK(domain.StatusProcessing, 50, nil, nil)
}

func completed() Poll {
	return OK(domain.StatusCompleted, 100, &domain.Result{TaskID: "1", Items: []domain.ResultItem{{URL: "u"}}}, nil)
}

func TestBackoffSchedule(t *testing.T) {
	vt := newVirtualTime()
	checker, _ := sequenceChecker(processing(), processing(), processing(), processing(), processing(), processing(), completed())
	cfg := Config{InitialInterval: 100 * time.Millisecond, MaxInterval: 500 * time.Millisecond, BackoffFactor: 2, Timeout: time.Minute}

	result, err := vt.engine().PollUntilComplete(context.Background(), "1", checker, cfg)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result == nil {
		t.Fatalf("expected result")
	}
	want := []time.Duration{100, 200, 400, 500, 500, 500}
	if len(vt.waits) != len(want) {
		t.Fatalf("waits = %v, want %v ms", vt.waits, want)
	}
	for i, w := range want {
		if vt.waits[i] != w*time.Millisecond {
			t.Fatalf("wait[%d] = %v, want %v", i, vt.waits[i], w*time.Millisecond)
		}
	}
}

func TestNextIntervalIsNonDecreasingAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	interval := cfg.InitialInterval
	for i := 0; i < 20; i++ {
		next := cfg.NextInterval(interval)
		if next < interval {
			t.Fatalf("interval decreased: %v -> %v", interval, next)
		}
		if next > cfg.MaxInterval {
			t.Fatalf("interval %v exceeds max %v", next, cfg.MaxInterval)
		}
		interval = next
	}
	if interval != cfg.MaxInterval {
		t.Fatalf("interval should settle at max, got %v", interval)
	}
}

func TestTimeoutWhenAlwaysProcessing(t *testing.T) {
	vt := newVirtualTime()
	checker, _ := sequenceChecker(processing())
	cfg := Config{InitialInterval: time.Second, MaxInterval: 2 * time.Second, BackoffFactor: 2, Timeout: 10 * time.Second}

	_, err := vt.engine().PollUntilComplete(context.Background(), "1", checker, cfg)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	var ge *domain.GenerationError
	if !errors.As(err, &ge) || ge.TaskID != "1" {
		t.Fatalf("timeout should name the task: %#v", err)
	}
	// Raised within one interval of the budget.
	elapsed := time.Duration(0)
	for _, w := range vt.waits {
		elapsed += w
	}
	if elapsed <= cfg.Timeout || elapsed > cfg.Timeout+cfg.MaxInterval {
		t.Fatalf("elapsed = %v, want within one interval after %v", elapsed, cfg.Timeout)
	}
}

func TestCompletionJustBeforeTimeoutSucceeds(t *testing.T) {
	vt := newVirtualTime()
	cfg := Config{InitialInterval: time.Second, MaxInterval: time.Second, BackoffFactor: 1, Timeout: 5 * time.Second}
	start := vt.now
	checker := func(ctx context.Context, taskID string) Poll {
		if vt.now.Sub(start) >= 5*time.Second {
			return completed()
		}
		return processing()
	}
	if _, err := vt.engine().PollUntilComplete(context.Background(), "1", checker, cfg); err != nil {
		t.Fatalf("completion at the budget boundary should succeed: %v", err)
	}
}

func TestFailedStatusReturnsImmediately(t *testing.T) {
	vt := newVirtualTime()
	violation := domain.NewGenerationError(domain.CodeContentViolation, "1", "rejected", "")
	checker, calls := sequenceChecker(processing(), OK(domain.StatusFailed, 0, nil, violation), completed())

	_, err := vt.engine().PollUntilComplete(context.Background(), "1", checker, Config{})
	if !errors.Is(err, domain.ErrContentViolation) {
		t.Fatalf("err = %v, want content violation", err)
	}
	if *calls != 2 {
		t.Fatalf("calls = %d, want 2 (no retry after failure)", *calls)
	}
}

func TestTerminalOutcomeReturnsImmediately(t *testing.T) {
	vt := newVirtualTime()
	checker, calls := sequenceChecker(Terminal(errors.New("unauthorized")))

	_, err := vt.engine().PollUntilComplete(context.Background(), "1", checker, Config{})
	if !errors.Is(err, domain.ErrAPI) {
		t.Fatalf("err = %v, want api error", err)
	}
	if *calls != 1 {
		t.Fatalf("calls = %d, want 1", *calls)
	}
}

func TestCompletedWithoutResultIsProcessingFailure(t *testing.T) {
	vt := newVirtualTime()
	checker, _ := sequenceChecker(OK(domain.StatusCompleted, 100, nil, nil))
	_, err := vt.engine().PollUntilComplete(context.Background(), "1", checker, Config{})
	if !errors.Is(err, domain.ErrProcessingFailed) {
		t.Fatalf("err = %v, want processing failed", err)
	}
}

func TestTransientErrorsAreTolerated(t *testing.T) {
	vt := newVirtualTime()
	checker, calls := sequenceChecker(
		Transient(errors.New("connection reset")),
		processing(),
		Transient(errors.New("502 bad gateway")),
		completed(),
	)
	result, err := vt.engine().PollUntilComplete(context.Background(), "1", checker, Config{})
	if err != nil {
		t.Fatalf("transient errors should not fail the poll: %v", err)
	}
	if result == nil || *calls != 4 {
		t.Fatalf("result = %v calls = %d", result, *calls)
	}
}

func TestTransientErrorsPastTimeoutRaiseTimeout(t *testing.T) {
	vt := newVirtualTime()
	cause := errors.New("dial tcp: i/o timeout")
	checker, _ := sequenceChecker(Transient(cause))
	cfg := Config{InitialInterval: time.Second, MaxInterval: time.Second, BackoffFactor: 1, Timeout: 3 * time.Second}

	_, err := vt.engine().PollUntilComplete(context.Background(), "1", checker, cfg)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("timeout should carry the last transient cause")
	}
}

func TestContextCancellationStopsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(Options{})
	checker := func(ctx context.Context, taskID string) Poll {
		cancel()
		return processing()
	}
	_, err := engine.PollUntilComplete(ctx, "1", checker, Config{InitialInterval: time.Hour, MaxInterval: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type rejectedError struct{}

func (rejectedError) Error() string  { return "http 401" }
func (rejectedError) Terminal() bool { return true }

func TestPollWithRetry(t *testing.T) {
	t.Run("retries api errors", func(t *testing.T) {
		vt := newVirtualTime()
		failure := Terminal(errors.New("upstream reset"))
		checker, calls := sequenceChecker(failure, failure, completed())
		result, err := vt.engine().PollWithRetry(context.Background(), "1", checker, Config{}, 3)
		if err != nil {
			t.Fatalf("poll with retry: %v", err)
		}
		if result == nil || *calls != 3 {
			t.Fatalf("result = %v calls = %d, want success on third run", result, *calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		vt := newVirtualTime()
		checker, calls := sequenceChecker(Terminal(errors.New("upstream reset")))
		_, err := vt.engine().PollWithRetry(context.Background(), "1", checker, Config{}, 3)
		if !errors.Is(err, domain.ErrAPI) {
			t.Fatalf("err = %v, want api error", err)
		}
		if *calls != 4 {
			t.Fatalf("calls = %d, want 4 total attempts", *calls)
		}
	})

	t.Run("timeout short-circuits", func(t *testing.T) {
		vt := newVirtualTime()
		checker, calls := sequenceChecker(processing())
		cfg := Config{InitialInterval: time.Second, MaxInterval: time.Second, BackoffFactor: 1, Timeout: 2 * time.Second}
		_, err := vt.engine().PollWithRetry(context.Background(), "1", checker, cfg, 3)
		if !errors.Is(err, domain.ErrTimeout) {
			t.Fatalf("err = %v, want timeout", err)
		}
		// one run: checks at t=0,1,2,3 then timeout
		if *calls != 4 {
			t.Fatalf("calls = %d, want a single poll run", *calls)
		}
	})
}

func TestPollWithRetryStopsOnTerminalFailures(t *testing.T) {
	tests := []struct {
		name string
		poll Poll
		want error
	}{
		{
			name: "content violation",
			poll: OK(domain.StatusFailed, 0, nil, domain.NewGenerationError(domain.CodeContentViolation, "1", "rejected", "2038")),
			want: domain.ErrContentViolation,
		},
		{
			name: "processing failed",
			poll: OK(domain.StatusFailed, 0, nil, domain.NewGenerationError(domain.CodeProcessingFailed, "1", "boom", "")),
			want: domain.ErrProcessingFailed,
		},
		{
			name: "rejected request",
			poll: Terminal(domain.WrapGenerationError(domain.CodeAPIError, "1", "status check rejected", rejectedError{})),
			want: domain.ErrAPI,
		},
		{
			name: "invalid id",
			poll: Terminal(domain.WrapGenerationError(domain.CodeInvalidParams, "1", "invalid task id", domain.ErrInvalidTaskID)),
			want: domain.ErrInvalidParams,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vt := newVirtualTime()
			checker, calls := sequenceChecker(tt.poll, completed())
			_, err := vt.engine().PollWithRetry(context.Background(), "1", checker, Config{}, 3)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if *calls != 1 {
				t.Fatalf("calls = %d, want 1", *calls)
			}
		})
	}
}
