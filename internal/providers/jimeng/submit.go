package jimeng

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"genflow/internal/domain"
)

const (
	defaultImageModel = "high_aes_general_v30l:general_v3.0_18b"
	defaultVideoModel = "dreamina_ic_generate_video_model_vgfm_3.0"

	actionGenerate = "generate"
	actionContinue = "continue"
)

// ErrNoContinuationBody is returned when a record carries nothing to replay.
var ErrNoContinuationBody = errors.New("jimeng: record has no continuation body")

type generateRequest struct {
	SubmitID        string   `json:"submit_id"`
	Action          string   `json:"action"`
	Kind            string   `json:"generate_type"`
	Model           string   `json:"model_req_key"`
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	ImageCount      int      `json:"image_count,omitempty"`
	AspectRatio     string   `json:"aspect_ratio,omitempty"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	DurationMs      int      `json:"duration_ms,omitempty"`
	ReferenceURIs   []string `json:"reference_uris,omitempty"`
	OriginHistoryID string   `json:"origin_history_id,omitempty"`
}

type generateResponse struct {
	HistoryRecordID flexString `json:"history_record_id"`
	TaskID          string     `json:"task_id"`
}

// Submit sends one generation request. When the requested count exceeds the
// per-submission cap, the returned Submission carries the body to replay as
// a continuation.
func (c *Client) Submit(ctx context.Context, params domain.GenerationParams, assetRefs []string) (domain.Submission, error) {
	req := c.buildRequest(params, assetRefs)
	var resp generateResponse
	if err := c.postJSON(ctx, pathGenerate, req, &resp); err != nil {
		return domain.Submission{}, fmt.Errorf("jimeng: submit %s: %w", params.Kind, err)
	}

	taskID := string(resp.HistoryRecordID)
	if params.Kind == domain.TaskKindVideo {
		taskID = firstNonEmpty(resp.TaskID, taskID)
	}
	taskID = strings.TrimSpace(taskID)
	kind, ok := domain.KindOf(taskID)
	if !ok {
		return domain.Submission{}, fmt.Errorf("jimeng: submit %s: unexpected task id %q", params.Kind, taskID)
	}
	if kind != params.Kind {
		return domain.Submission{}, fmt.Errorf("jimeng: submit %s: remote returned %s id %q", params.Kind, kind, taskID)
	}

	sub := domain.Submission{
		TaskID: taskID,
		Kind:   kind,
		DerivedParams: map[string]any{
			"model":      req.Model,
			"count":      req.ImageCount,
			"batch_cap":  c.batchCap,
			"submit_id":  req.SubmitID,
			"references": len(req.ReferenceURIs),
		},
	}
	if kind == domain.TaskKindImage && req.ImageCount > c.batchCap {
		body, err := json.Marshal(req)
		if err != nil {
			return domain.Submission{}, fmt.Errorf("jimeng: encode continuation body: %w", err)
		}
		sub.ContinuationBody = body
	}
	c.logger.Info().
		Str("task_id", taskID).
		Str("kind", string(kind)).
		Int("count", req.ImageCount).
		Msg("jimeng: submission accepted")
	return sub, nil
}

// SubmitContinuation replays the stored body of record, tagged with the
// original task id, so the remote produces the remaining outputs under it.
func (c *Client) SubmitContinuation(ctx context.Context, record domain.TaskRecord) error {
	if len(record.ContinuationBody) == 0 {
		return ErrNoContinuationBody
	}
	var req generateRequest
	if err := json.Unmarshal(record.ContinuationBody, &req); err != nil {
		return fmt.Errorf("jimeng: decode continuation body: %w", err)
	}
	req.SubmitID = uuid.NewString()
	req.Action = actionContinue
	req.OriginHistoryID = record.TaskID
	if err := c.postJSON(ctx, pathGenerate, req, nil); err != nil {
		return fmt.Errorf("jimeng: continue %s: %w", record.TaskID, err)
	}
	c.logger.Info().Str("task_id", record.TaskID).Msg("jimeng: continuation accepted")
	return nil
}

func (c *Client) buildRequest(params domain.GenerationParams, assetRefs []string) generateRequest {
	req := generateRequest{
		SubmitID:       uuid.NewString(),
		Action:         actionGenerate,
		Kind:           string(params.Kind),
		Model:          strings.TrimSpace(params.Model),
		Prompt:         norm.NFC.String(strings.TrimSpace(params.Prompt)),
		NegativePrompt: norm.NFC.String(strings.TrimSpace(params.NegativePrompt)),
		AspectRatio:    params.AspectRatio,
		Width:          params.Width,
		Height:         params.Height,
		ReferenceURIs:  append([]string(nil), assetRefs...),
	}
	switch params.Kind {
	case domain.TaskKindVideo:
		if req.Model == "" {
			req.Model = defaultVideoModel
		}
		req.ImageCount = 1
		duration := params.DurationSeconds
		if duration <= 0 {
			duration = 5
		}
		req.DurationMs = duration * 1000
	default:
		if req.Model == "" {
			req.Model = c.defaultModel
		}
		req.ImageCount = params.Count
		if req.ImageCount <= 0 {
			req.ImageCount = 1
		}
	}
	return req
}
