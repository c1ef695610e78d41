// Package orchestrator wires the status classifier, task cache, poll engine,
// continuation coordinator and batch query router into the surface callers use:
// submit-and-track, single and batch queries, cleanup and cache stats.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"genflow/internal/batchquery"
	"genflow/internal/continuation"
	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/metrics"
	"genflow/internal/polling"
	"genflow/internal/status"
	"genflow/internal/taskcache"
)

const (
	// DefaultResultCacheSize bounds the number of completed results kept for QueryOne.
	DefaultResultCacheSize = 256
	// DefaultQueryTimeout bounds a shared QueryOne fetch.
	DefaultQueryTimeout = 45 * time.Second
)

// Submitter issues the original generation request.
type Submitter interface {
	Submit(ctx context.Context, params domain.GenerationParams, assetRefs []string) (domain.Submission, error)
}

// StatusFetcher performs one remote status poll.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, taskID string) (status.RawStatus, error)
}

// Uploader turns a local reference file into a remote asset reference.
type Uploader interface {
	UploadAsset(ctx context.Context, path string) (string, error)
}

// Remote is everything the orchestrator needs from the generation service.
type Remote interface {
	Submitter
	StatusFetcher
	Uploader
	batchquery.GroupQuerier
	continuation.Submitter
}

// Options configures a Service.
type Options struct {
	Remote Remote

	BatchCap        int
	Poll            polling.Config
	MaxRetries      int
	TaskTTL         time.Duration
	SweepInterval   time.Duration
	ResultCacheSize int
	SubmitTimeout   time.Duration
	// QueryTimeout bounds the remote fetch shared by concurrent QueryOne calls.
	QueryTimeout time.Duration

	Logger  *infra.Logger
	Metrics *metrics.Recorder

	// Now and Sleep are overridable for deterministic tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Service is the orchestrator. It is safe for concurrent use.
type Service struct {
	remote      Remote
	cache       *taskcache.Cache
	classifier  *status.Classifier
	engine      *polling.Engine
	coordinator *continuation.Coordinator
	router      *batchquery.Router
	validate    *validator.Validate
	results     *lru.Cache[string, domain.Result]
	inflight    singleflight.Group

	poll          polling.Config
	maxRetries    int
	sweepInterval time.Duration
	queryTimeout  time.Duration

	logger  *infra.Logger
	metrics *metrics.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a Service from its remote collaborator.
func New(opts Options) (*Service, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("orchestrator: remote is required")
	}
	logger := infra.OrDiscard(opts.Logger)

	cache := taskcache.New(taskcache.Options{
		TTL:     opts.TaskTTL,
		Now:     opts.Now,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	classifier := status.New(status.Options{BatchCap: opts.BatchCap, Logger: logger})
	coordinator, err := continuation.New(continuation.Options{
		Cache:         cache,
		Submitter:     opts.Remote,
		Logger:        logger,
		Metrics:       opts.Metrics,
		SubmitTimeout: opts.SubmitTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	router, err := batchquery.New(batchquery.Options{
		Querier:    opts.Remote,
		Classifier: classifier,
		Logger:     logger,
		Metrics:    opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	size := opts.ResultCacheSize
	if size <= 0 {
		size = DefaultResultCacheSize
	}
	results, err := lru.New[string, domain.Result](size)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: result cache: %w", err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	queryTimeout := opts.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}

	return &Service{
		remote:      opts.Remote,
		cache:       cache,
		classifier:  classifier,
		coordinator: coordinator,
		router:      router,
		engine: polling.NewEngine(polling.Options{
			Logger:  logger,
			Metrics: opts.Metrics,
			Now:     opts.Now,
			Sleep:   opts.Sleep,
		}),
		validate:      validator.New(),
		results:       results,
		poll:          opts.Poll,
		maxRetries:    maxRetries,
		sweepInterval: sweep,
		queryTimeout:  queryTimeout,
		logger:        infra.Component(logger, "orchestrator"),
		metrics:       opts.Metrics,
	}, nil
}

// Start launches the background TTL sweeper. It stops when ctx is done or
// Close is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cache.StartSweeper(ctx, s.sweepInterval)
}

// Close stops the sweeper and waits for in-flight continuations to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.cache.Wait()
	s.coordinator.Wait()
}

// Cleanup forgets everything known about taskID and reports whether a task
// record existed.
func (s *Service) Cleanup(taskID string) bool {
	s.results.Remove(taskID)
	return s.cache.Cleanup(taskID)
}

// CacheStats reports the task cache contents.
func (s *Service) CacheStats() taskcache.Stats {
	return s.cache.Stats()
}
