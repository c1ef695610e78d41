package domain

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// TaskKind is derived from the wire shape of a task id, never from caller intent.
type TaskKind string

const (
	TaskKindImage   TaskKind = "image"
	TaskKindVideo   TaskKind = "video"
	TaskKindInvalid TaskKind = ""
)

var (
	videoIDPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	imageIDPattern = regexp.MustCompile(`^(?:[0-9]+|h[0-9A-Za-z]+)$`)
)

// KindOf classifies a task id by shape. The second return is false for malformed ids.
func KindOf(taskID string) (TaskKind, bool) {
	id := strings.TrimSpace(taskID)
	switch {
	case id == "":
		return TaskKindInvalid, false
	case videoIDPattern.MatchString(id):
		return TaskKindVideo, true
	case imageIDPattern.MatchString(id):
		return TaskKindImage, true
	default:
		return TaskKindInvalid, false
	}
}

// UnifiedStatus is recomputed from every raw poll response and never stored.
type UnifiedStatus string

const (
	StatusPending    UnifiedStatus = "pending"
	StatusProcessing UnifiedStatus = "processing"
	StatusCompleted  UnifiedStatus = "completed"
	StatusFailed     UnifiedStatus = "failed"
)

// IsTerminal reports whether polling can stop.
func (s UnifiedStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// LifecycleState tracks a TaskRecord inside the task cache.
type LifecycleState string

const (
	StateCreated   LifecycleState = "created"
	StateActive    LifecycleState = "active"
	StateCompleted LifecycleState = "completed"
)

// TaskRecord holds what the orchestrator needs to replay a submission for a task.
type TaskRecord struct {
	TaskID            string
	Kind              TaskKind
	OriginalParams    map[string]any
	UploadedAssetRefs []string
	DerivedParams     map[string]any
	ContinuationBody  json.RawMessage
	ContinuationSent  bool
	CreatedAt         time.Time
	ExpiresAt         time.Time
	State             LifecycleState
}

// Clone returns a copy that shares no mutable state with r.
func (r TaskRecord) Clone() TaskRecord {
	out := r
	out.OriginalParams = cloneMap(r.OriginalParams)
	out.DerivedParams = cloneMap(r.DerivedParams)
	if r.UploadedAssetRefs != nil {
		out.UploadedAssetRefs = append([]string(nil), r.UploadedAssetRefs...)
	}
	if r.ContinuationBody != nil {
		out.ContinuationBody = append(json.RawMessage(nil), r.ContinuationBody...)
	}
	return out
}

// Expired reports whether the record is past its TTL at now.
func (r TaskRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ResultItem is one generated unit (an image or a video).
type ResultItem struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Result is the terminal output of a completed task.
type Result struct {
	TaskID string       `json:"task_id"`
	Kind   TaskKind     `json:"kind"`
	Items  []ResultItem `json:"items"`
}

// URLs lists the item URLs in order.
func (r *Result) URLs() []string {
	if r == nil {
		return nil
	}
	urls := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		urls = append(urls, item.URL)
	}
	return urls
}
