// Package batchquery answers status queries for many task ids with one
// grouped remote call per id kind.
package batchquery

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/metrics"
	"genflow/internal/status"
)

// GroupQuerier performs grouped remote status queries. Implementations return
// raw statuses keyed by task id; ids the remote does not know are simply absent.
type GroupQuerier interface {
	QueryImages(ctx context.Context, taskIDs []string) (map[string]status.RawStatus, error)
	QueryVideos(ctx context.Context, taskIDs []string) (map[string]status.RawStatus, error)
}

// Entry is the per-id outcome of QueryMany: either a classification or an error reason.
type Entry struct {
	TaskID         string                 `json:"task_id"`
	Kind           domain.TaskKind        `json:"kind,omitempty"`
	Classification *status.Classification `json:"classification,omitempty"`
	Err            string                 `json:"error,omitempty"`
}

// OK reports whether the entry carries a classification.
func (e Entry) OK() bool {
	return e.Err == "" && e.Classification != nil
}

// Options configures a Router.
type Options struct {
	Querier    GroupQuerier
	Classifier *status.Classifier
	Logger     *infra.Logger
	Metrics    *metrics.Recorder
}

// Router partitions ids by shape and fans out one grouped query per kind.
type Router struct {
	querier    GroupQuerier
	classifier *status.Classifier
	logger     *infra.Logger
	metrics    *metrics.Recorder
}

// New constructs a Router.
func New(opts Options) (*Router, error) {
	if opts.Querier == nil {
		return nil, fmt.Errorf("batchquery: querier is required")
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = status.New(status.Options{Logger: opts.Logger})
	}
	return &Router{
		querier:    opts.Querier,
		classifier: classifier,
		logger:     infra.Component(opts.Logger, "batchquery"),
		metrics:    opts.Metrics,
	}, nil
}

// QueryMany returns exactly one entry per distinct input id. Malformed ids
// are rejected without a remote call, and a failing group only affects its
// own ids.
func (r *Router) QueryMany(ctx context.Context, taskIDs []string) map[string]Entry {
	out := make(map[string]Entry, len(taskIDs))
	groups := map[domain.TaskKind][]string{}
	for _, id := range taskIDs {
		if _, seen := out[id]; seen {
			continue
		}
		kind, ok := domain.KindOf(id)
		if !ok {
			out[id] = Entry{TaskID: id, Err: domain.ErrInvalidTaskID.Error()}
			continue
		}
		out[id] = Entry{TaskID: id, Kind: kind}
		groups[kind] = append(groups[kind], id)
	}

	type groupResult struct {
		kind domain.TaskKind
		ids  []string
		raw  map[string]status.RawStatus
		err  error
	}
	results := make([]groupResult, 0, len(groups))
	for kind, ids := range groups {
		results = append(results, groupResult{kind: kind, ids: ids})
	}

	// Group failures are recorded per group rather than returned, so one
	// failing group never cancels the other.
	var g errgroup.Group
	for i := range results {
		res := &results[i]
		g.Go(func() error {
			res.raw, res.err = r.queryGroup(ctx, res.kind, res.ids)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.err != nil {
			r.metrics.ObserveBatchQuery(string(res.kind), "error")
			r.logger.Warn().
				Err(res.err).
				Str("kind", string(res.kind)).
				Int("ids", len(res.ids)).
				Msg("batchquery: grouped query failed")
			for _, id := range res.ids {
				out[id] = Entry{TaskID: id, Kind: res.kind, Err: res.err.Error()}
			}
			continue
		}
		r.metrics.ObserveBatchQuery(string(res.kind), "ok")
		for _, id := range res.ids {
			raw, ok := res.raw[id]
			if !ok {
				out[id] = Entry{TaskID: id, Kind: res.kind, Err: domain.ErrRecordNotFound.Error()}
				continue
			}
			if raw.TaskID == "" {
				raw.TaskID = id
			}
			cls := r.classifier.Classify(raw)
			out[id] = Entry{TaskID: id, Kind: res.kind, Classification: &cls}
		}
	}
	return out
}

func (r *Router) queryGroup(ctx context.Context, kind domain.TaskKind, ids []string) (raw map[string]status.RawStatus, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("batchquery: %s query panicked: %v", kind, p)
		}
	}()
	switch kind {
	case domain.TaskKindImage:
		return r.querier.QueryImages(ctx, ids)
	case domain.TaskKindVideo:
		return r.querier.QueryVideos(ctx, ids)
	default:
		return nil, fmt.Errorf("batchquery: unsupported kind %q", kind)
	}
}
