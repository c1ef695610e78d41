package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"genflow/internal/domain"
	"genflow/internal/polling"
	"genflow/internal/status"
)

// TrackOptions selects how SubmitAndTrack waits.
type TrackOptions struct {
	// Async returns as soon as the remote accepted the task.
	Async bool
	// Poll overrides the service's poll schedule for this call.
	Poll *polling.Config
}

// Tracked is the outcome of SubmitAndTrack. Result is nil in async mode.
type Tracked struct {
	TaskID string          `json:"task_id"`
	Kind   domain.TaskKind `json:"kind"`
	Result *domain.Result  `json:"result,omitempty"`
}

// SubmitAndTrack validates params, submits them and, unless opts.Async is
// set, polls the task until it completes. Invalid params fail with
// INVALID_PARAMS before anything is sent.
func (s *Service) SubmitAndTrack(ctx context.Context, params domain.GenerationParams, opts TrackOptions) (Tracked, error) {
	if err := s.validateParams(params); err != nil {
		return Tracked{}, err
	}

	refs, err := s.uploadReferences(ctx, params.ReferenceImages)
	if err != nil {
		return Tracked{}, err
	}

	sub, err := s.remote.Submit(ctx, params, refs)
	if err != nil {
		var genErr *domain.GenerationError
		if errors.As(err, &genErr) {
			return Tracked{}, genErr
		}
		return Tracked{}, domain.WrapGenerationError(domain.CodeAPIError, "", "submission failed", err)
	}

	record := domain.TaskRecord{
		Kind:              sub.Kind,
		OriginalParams:    params.AsMap(),
		UploadedAssetRefs: refs,
		DerivedParams:     sub.DerivedParams,
		ContinuationBody:  sub.ContinuationBody,
	}
	if err := s.cache.Create(sub.TaskID, record); err != nil {
		// The remote already accepted the task, so the caller still gets its id.
		s.logger.Error().Err(err).Str("task_id", sub.TaskID).Msg("orchestrator: cache task record")
	}
	s.logger.Info().
		Str("task_id", sub.TaskID).
		Str("kind", string(sub.Kind)).
		Bool("async", opts.Async).
		Msg("orchestrator: task submitted")

	tracked := Tracked{TaskID: sub.TaskID, Kind: sub.Kind}
	if opts.Async {
		return tracked, nil
	}

	cfg := s.poll
	if opts.Poll != nil {
		cfg = *opts.Poll
	}
	result, err := s.engine.PollWithRetry(ctx, sub.TaskID, s.checkStatus, cfg, s.maxRetries)
	if err != nil {
		return tracked, err
	}
	tracked.Result = result
	return tracked, nil
}

// checkStatus is the StatusChecker driven by the poll engine.
func (s *Service) checkStatus(ctx context.Context, taskID string) polling.Poll {
	raw, err := s.remote.FetchStatus(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTaskID) {
			return polling.Terminal(domain.WrapGenerationError(domain.CodeInvalidParams, taskID, "invalid task id", err))
		}
		var terminal interface{ Terminal() bool }
		if errors.As(err, &terminal) && terminal.Terminal() {
			return polling.Terminal(domain.WrapGenerationError(domain.CodeAPIError, taskID, "status check rejected", err))
		}
		return polling.Transient(err)
	}
	cls := s.observe(ctx, taskID, s.classifier.Classify(raw))
	var clsErr error
	if cls.Error != nil {
		clsErr = cls.Error
	}
	return polling.OK(cls.Status, cls.Progress, cls.Result, clsErr)
}

// observe applies the side effects of a fresh classification: it activates
// the task record, fires a continuation when one is due, and settles
// terminal tasks.
func (s *Service) observe(ctx context.Context, taskID string, cls status.Classification) status.Classification {
	s.cache.Get(taskID)
	if h := s.coordinator.MaybeContinue(ctx, taskID, cls); h != nil {
		s.logger.Debug().Str("task_id", taskID).Msg("orchestrator: continuation started")
	}
	if cls.Status.IsTerminal() {
		s.cache.Complete(taskID)
	}
	if cls.Status == domain.StatusCompleted && cls.Result != nil {
		s.results.Add(taskID, *cls.Result)
	}
	return cls
}

func (s *Service) validateParams(params domain.GenerationParams) error {
	err := s.validate.Struct(params)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.WrapGenerationError(domain.CodeInvalidParams, "", "invalid parameters", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return domain.NewGenerationError(domain.CodeInvalidParams, "", "invalid parameters", strings.Join(fields, "; "))
}

func (s *Service) uploadReferences(ctx context.Context, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if isRemoteRef(ref) {
			out = append(out, ref)
			continue
		}
		uri, err := s.remote.UploadAsset(ctx, ref)
		if err != nil {
			return nil, domain.WrapGenerationError(domain.CodeAPIError, "", "reference upload failed", err)
		}
		out = append(out, uri)
	}
	return out, nil
}

func isRemoteRef(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
