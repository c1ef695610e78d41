// Package status translates raw remote poll payloads into the orchestrator's
// unified status model.
package status

import (
	"fmt"
	"math"
	"strings"

	"genflow/internal/domain"
	"genflow/internal/infra"
)

// Raw status codes reported by the remote service.
const (
	RawCodeQueued     = 20
	RawCodeFailed     = 30
	RawCodeGenerating = 42
	RawCodeFinishing  = 45
	RawCodeSucceeded  = 50
)

// FailCodeContentViolation is the sub-code the remote service uses for
// content-policy rejections.
const FailCodeContentViolation = "2038"

// DefaultBatchCap is the number of output units the remote service produces
// per submission. Requests for more need a continuation.
const DefaultBatchCap = 4

// RawItem is one output unit as reported by the remote service.
type RawItem struct {
	URL    string
	Format string
	Width  int
	Height int
}

// RawStatus is a single poll response, already decoded from the vendor wire format.
type RawStatus struct {
	TaskID        string
	Code          int
	FailCode      string
	TotalCount    int
	FinishedCount int
	Items         []RawItem
}

// Classification is the unified view of a RawStatus.
type Classification struct {
	Status               domain.UnifiedStatus    `json:"status"`
	Progress             int                     `json:"progress"`
	Error                *domain.GenerationError `json:"error,omitempty"`
	ContinuationEligible bool                    `json:"continuation_eligible,omitempty"`
	Result               *domain.Result          `json:"result,omitempty"`
}

// Options configures a Classifier.
type Options struct {
	BatchCap int
	Logger   *infra.Logger
}

// Classifier is stateless apart from its configuration; it is safe for concurrent use.
type Classifier struct {
	batchCap int
	logger   *infra.Logger
}

// New builds a Classifier, defaulting the batch cap to DefaultBatchCap.
func New(opts Options) *Classifier {
	batchCap := opts.BatchCap
	if batchCap <= 0 {
		batchCap = DefaultBatchCap
	}
	return &Classifier{batchCap: batchCap, logger: infra.Component(opts.Logger, "status")}
}

// BatchCap returns the configured per-submission output ceiling.
func (c *Classifier) BatchCap() int {
	return c.batchCap
}

// Classify maps raw to a Classification. It performs no I/O besides logging
// unrecognized codes and unknown failures.
func (c *Classifier) Classify(raw RawStatus) Classification {
	out := Classification{Progress: progress(raw.FinishedCount, raw.TotalCount)}

	switch raw.Code {
	case RawCodeSucceeded:
		out.Status = domain.StatusCompleted
		out.Progress = 100
		out.Result = buildResult(raw)
	case RawCodeFailed:
		out.Status = domain.StatusFailed
		out.Error = c.failure(raw)
	case RawCodeQueued, RawCodeGenerating, RawCodeFinishing:
		if raw.FinishedCount > 0 {
			out.Status = domain.StatusProcessing
		} else {
			out.Status = domain.StatusPending
		}
	default:
		c.logger.Warn().
			Str("task_id", raw.TaskID).
			Int("code", raw.Code).
			Msg("status: unrecognized remote status code, treating as processing")
		out.Status = domain.StatusProcessing
	}

	// Equality, not >=: the continuation must fire once, when the finished
	// count first reaches the per-call ceiling.
	out.ContinuationEligible = raw.TotalCount > c.batchCap &&
		raw.FinishedCount == c.batchCap &&
		out.Status != domain.StatusFailed
	return out
}

func (c *Classifier) failure(raw RawStatus) *domain.GenerationError {
	failCode := strings.TrimSpace(raw.FailCode)
	switch {
	case failCode == FailCodeContentViolation:
		return domain.NewGenerationError(domain.CodeContentViolation, raw.TaskID,
			"generation rejected by content policy", "fail_code "+failCode)
	case failCode != "":
		return domain.NewGenerationError(domain.CodeProcessingFailed, raw.TaskID,
			fmt.Sprintf("generation failed with code %s", failCode), "fail_code "+failCode)
	default:
		c.logger.Error().
			Str("task_id", raw.TaskID).
			Interface("raw", raw).
			Msg("status: remote reported failure without a fail code")
		return domain.NewGenerationError(domain.CodeUnknown, raw.TaskID,
			"generation failed for an unknown reason", "")
	}
}

func progress(finished, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(finished) / float64(total) * 100))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func buildResult(raw RawStatus) *domain.Result {
	items := make([]domain.ResultItem, 0, len(raw.Items))
	for _, it := range raw.Items {
		url := strings.TrimSpace(it.URL)
		if url == "" {
			continue
		}
		items = append(items, domain.ResultItem{URL: url, Format: it.Format, Width: it.Width, Height: it.Height})
	}
	if len(items) == 0 {
		return nil
	}
	kind, _ := domain.KindOf(raw.TaskID)
	return &domain.Result{TaskID: raw.TaskID, Kind: kind, Items: items}
}
