package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"genflow/internal/batchquery"
	"genflow/internal/domain"
	"genflow/internal/status"
)

// TaskView is a point-in-time view of one task.
type TaskView struct {
	TaskID string          `json:"task_id"`
	Kind   domain.TaskKind `json:"kind"`
	status.Classification
}

// QueryOne performs a single status check for taskID. Concurrent calls for
// the same id share one remote fetch, and completed results are served from
// memory.
func (s *Service) QueryOne(ctx context.Context, taskID string) (TaskView, error) {
	kind, ok := domain.KindOf(taskID)
	if !ok {
		return TaskView{}, domain.WrapGenerationError(domain.CodeInvalidParams, taskID, "invalid task id", domain.ErrInvalidTaskID)
	}
	if res, ok := s.results.Get(taskID); ok {
		return TaskView{
			TaskID:         taskID,
			Kind:           kind,
			Classification: status.Classification{Status: domain.StatusCompleted, Progress: 100, Result: &res},
		}, nil
	}

	// The shared fetch runs detached; each caller waits on its own ctx.
	ch := s.inflight.DoChan(taskID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.queryTimeout)
		defer cancel()
		raw, err := s.remote.FetchStatus(fetchCtx, taskID)
		if err != nil {
			return nil, err
		}
		return s.observe(fetchCtx, taskID, s.classifier.Classify(raw)), nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return TaskView{}, fmt.Errorf("orchestrator: query %s: %w", taskID, ctx.Err())
	case res = <-ch:
	}
	if err := res.Err; err != nil {
		var genErr *domain.GenerationError
		if errors.As(err, &genErr) {
			return TaskView{}, genErr
		}
		return TaskView{}, domain.WrapGenerationError(domain.CodeAPIError, taskID, "status query failed", err)
	}
	if res.Shared {
		s.logger.Debug().Str("task_id", taskID).Msg("orchestrator: coalesced status query")
	}
	return TaskView{TaskID: taskID, Kind: kind, Classification: res.Val.(status.Classification)}, nil
}

// QueryMany answers for every distinct id with grouped remote calls. Entries
// carrying a classification get the same side effects as QueryOne.
func (s *Service) QueryMany(ctx context.Context, taskIDs []string) map[string]batchquery.Entry {
	entries := s.router.QueryMany(ctx, taskIDs)
	for id, entry := range entries {
		if !entry.OK() {
			continue
		}
		s.observe(ctx, id, *entry.Classification)
	}
	return entries
}
