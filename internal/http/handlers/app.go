// Package handlers implements the HTTP endpoints over the orchestrator.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"genflow/internal/batchquery"
	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/middleware"
	"genflow/internal/orchestrator"
	"genflow/internal/storage"
	"genflow/internal/taskcache"
)

// DefaultMaxQueryIDs bounds the ids accepted by one batch query.
const DefaultMaxQueryIDs = 100

// Service is the orchestrator surface the handlers use.
type Service interface {
	SubmitAndTrack(ctx context.Context, params domain.GenerationParams, opts orchestrator.TrackOptions) (orchestrator.Tracked, error)
	QueryOne(ctx context.Context, taskID string) (orchestrator.TaskView, error)
	QueryMany(ctx context.Context, taskIDs []string) map[string]batchquery.Entry
	Cleanup(taskID string) bool
	CacheStats() taskcache.Stats
}

// ResultFetcher downloads the assets of a completed result.
type ResultFetcher interface {
	FetchResult(ctx context.Context, result domain.Result) ([]storage.Asset, error)
}

// App carries the handler dependencies.
type App struct {
	Service     Service
	Fetcher     ResultFetcher
	Logger      *infra.Logger
	MaxQueryIDs int
}

// NewApp constructs an App.
func NewApp(svc Service, fetcher ResultFetcher, logger *infra.Logger) *App {
	return &App{
		Service:     svc,
		Fetcher:     fetcher,
		Logger:      infra.Component(logger, "http"),
		MaxQueryIDs: DefaultMaxQueryIDs,
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": errorBody{Code: code, Message: message}})
}

// fail writes err using the status code that matches its error code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var genErr *domain.GenerationError
	if !errors.As(err, &genErr) {
		middleware.LoggerFromContext(r.Context()).Error().Err(err).Msg("http: unclassified error")
		a.error(w, http.StatusInternalServerError, string(domain.CodeUnknown), "internal error")
		return
	}
	status := StatusForCode(genErr.Code)
	if errors.Is(err, domain.ErrRecordNotFound) {
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFromContext(r.Context()).Warn().Err(err).Str("code", string(genErr.Code)).Msg("http: request failed")
	}
	a.json(w, status, map[string]any{"error": errorBody{
		Code:    string(genErr.Code),
		Message: genErr.Message,
		Reason:  genErr.Reason,
		TaskID:  genErr.TaskID,
	}})
}

// StatusForCode maps an error code to an HTTP status.
func StatusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidParams:
		return http.StatusBadRequest
	case domain.CodeContentViolation:
		return http.StatusUnprocessableEntity
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeAPIError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
