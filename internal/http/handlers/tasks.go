package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"genflow/internal/batchquery"
	"genflow/internal/domain"
	"genflow/internal/middleware"
	"genflow/internal/orchestrator"
	"genflow/pkg/zip"
)

type createTaskRequest struct {
	domain.GenerationParams
	Async bool `json:"async"`
}

type queryTasksRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type queryTasksResponse struct {
	Tasks map[string]batchquery.Entry `json:"tasks"`
}

func (a *App) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, string(domain.CodeInvalidParams), "invalid payload")
		return
	}
	tracked, err := a.Service.SubmitAndTrack(r.Context(), req.GenerationParams, orchestrator.TrackOptions{Async: req.Async})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Async {
		a.json(w, http.StatusAccepted, tracked)
		return
	}
	a.json(w, http.StatusOK, tracked)
}

func (a *App) GetTask(w http.ResponseWriter, r *http.Request) {
	view, err := a.Service.QueryOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) QueryTasks(w http.ResponseWriter, r *http.Request) {
	var req queryTasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, string(domain.CodeInvalidParams), "invalid payload")
		return
	}
	if len(req.TaskIDs) == 0 {
		a.error(w, http.StatusBadRequest, string(domain.CodeInvalidParams), "task_ids required")
		return
	}
	if a.MaxQueryIDs > 0 && len(req.TaskIDs) > a.MaxQueryIDs {
		a.error(w, http.StatusBadRequest, string(domain.CodeInvalidParams), fmt.Sprintf("at most %d task_ids per query", a.MaxQueryIDs))
		return
	}
	ids := make([]string, len(req.TaskIDs))
	for i, id := range req.TaskIDs {
		ids[i] = strings.TrimSpace(id)
	}
	a.json(w, http.StatusOK, queryTasksResponse{Tasks: a.Service.QueryMany(r.Context(), ids)})
}

func (a *App) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if !a.Service.Cleanup(taskID) {
		a.error(w, http.StatusNotFound, "NOT_FOUND", "task not tracked")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"task_id": taskID, "removed": true})
}

func (a *App) TaskArchive(w http.ResponseWriter, r *http.Request) {
	if a.Fetcher == nil {
		a.error(w, http.StatusNotImplemented, "UNSUPPORTED", "archives are disabled")
		return
	}
	taskID := chi.URLParam(r, "id")
	view, err := a.Service.QueryOne(r.Context(), taskID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if view.Status != domain.StatusCompleted || view.Result == nil {
		a.error(w, http.StatusConflict, "NOT_READY", fmt.Sprintf("task is %s", view.Status))
		return
	}
	assets, err := a.Fetcher.FetchResult(r.Context(), *view.Result)
	if err != nil {
		middleware.LoggerFromContext(r.Context()).Warn().Err(err).Str("task_id", taskID).Msg("http: download result")
		a.error(w, http.StatusBadGateway, string(domain.CodeAPIError), "failed to download result assets")
		return
	}
	files := make([]zip.Asset, 0, len(assets))
	for _, asset := range assets {
		files = append(files, zip.Asset{Filename: asset.Name, MIME: asset.MIME, Data: asset.Data})
	}
	archive, err := zip.ArchiveAssets(files)
	if err != nil {
		a.error(w, http.StatusInternalServerError, string(domain.CodeUnknown), "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=task-%s.zip", taskID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
