package status

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"genflow/internal/domain"
)

func TestClassifyCompleted(t *testing.T) {
	c := New(Options{})
	got := c.Classify(RawStatus{
		TaskID: "12345",
		Code:   RawCodeSucceeded,
		Items:  []RawItem{{URL: "https://cdn.example.com/a.png"}, {URL: " "}, {URL: "https://cdn.example.com/b.png"}},
	})
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
	if got.Error != nil {
		t.Fatalf("unexpected error: %v", got.Error)
	}
	if got.Result == nil || len(got.Result.Items) != 2 {
		t.Fatalf("result = %#v, want 2 items", got.Result)
	}
	if got.Result.Kind != domain.TaskKindImage {
		t.Fatalf("result kind = %q, want image", got.Result.Kind)
	}
}

func TestClassifyCompletedWithoutItemsHasNoResult(t *testing.T) {
	got := New(Options{}).Classify(RawStatus{TaskID: "1", Code: RawCodeSucceeded})
	if got.Status != domain.StatusCompleted || got.Result != nil {
		t.Fatalf("got %#v, want completed without result", got)
	}
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name     string
		failCode string
		want     domain.ErrorCode
	}{
		{name: "content violation", failCode: "2038", want: domain.CodeContentViolation},
		{name: "other sub-code", failCode: "1180", want: domain.CodeProcessingFailed},
		{name: "missing sub-code", failCode: "", want: domain.CodeUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := New(Options{}).Classify(RawStatus{TaskID: "9", Code: RawCodeFailed, FailCode: tc.failCode})
			if got.Status != domain.StatusFailed {
				t.Fatalf("status = %q, want failed", got.Status)
			}
			if got.Error == nil || got.Error.Code != tc.want {
				t.Fatalf("error = %#v, want code %q", got.Error, tc.want)
			}
			if tc.failCode != "" && tc.want == domain.CodeProcessingFailed && !strings.Contains(got.Error.Message, tc.failCode) {
				t.Fatalf("message %q should embed the fail code", got.Error.Message)
			}
			if got.ContinuationEligible {
				t.Fatalf("failed tasks are never continuation eligible")
			}
		})
	}
}

func TestClassifyInProgress(t *testing.T) {
	c := New(Options{})
	for _, code := range []int{RawCodeQueued, RawCodeGenerating, RawCodeFinishing} {
		if got := c.Classify(RawStatus{Code: code, TotalCount: 4}); got.Status != domain.StatusPending {
			t.Fatalf("code %d with nothing finished = %q, want pending", code, got.Status)
		}
		got := c.Classify(RawStatus{Code: code, TotalCount: 4, FinishedCount: 1})
		if got.Status != domain.StatusProcessing {
			t.Fatalf("code %d with progress = %q, want processing", code, got.Status)
		}
		if got.Progress != 25 {
			t.Fatalf("progress = %d, want 25", got.Progress)
		}
	}
}

func TestClassifyUnknownCodeIsProcessingAndLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	got := New(Options{Logger: &logger}).Classify(RawStatus{TaskID: "77", Code: 99})
	if got.Status != domain.StatusProcessing {
		t.Fatalf("status = %q, want processing", got.Status)
	}
	if got.Error != nil {
		t.Fatalf("unknown codes must not be failures")
	}
	if !strings.Contains(buf.String(), "unrecognized") {
		t.Fatalf("expected a warning, got %q", buf.String())
	}
}

func TestProgressRounding(t *testing.T) {
	tests := []struct {
		finished, total, want int
	}{
		{0, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{8, 8, 100},
		{9, 8, 100},
	}
	for _, tc := range tests {
		if got := progress(tc.finished, tc.total); got != tc.want {
			t.Fatalf("progress(%d, %d) = %d, want %d", tc.finished, tc.total, got, tc.want)
		}
	}
}

func TestContinuationEligibilityFiresOnExactCap(t *testing.T) {
	c := New(Options{})
	sequence := []int{0, 1, 2, 3, 4, 4, 4, 8}
	var eligible []int
	for i, finished := range sequence {
		code := RawCodeGenerating
		if finished == 8 {
			code = RawCodeSucceeded
		}
		if c.Classify(RawStatus{Code: code, TotalCount: 8, FinishedCount: finished}).ContinuationEligible {
			eligible = append(eligible, i)
		}
	}
	// The classifier reports eligibility on every observation of exactly 4;
	// the cache gate turns that into a single continuation.
	want := []int{4, 5, 6}
	if len(eligible) != len(want) {
		t.Fatalf("eligible indexes = %v, want %v", eligible, want)
	}
	for i := range want {
		if eligible[i] != want[i] {
			t.Fatalf("eligible indexes = %v, want %v", eligible, want)
		}
	}
}

func TestContinuationEligibilityRespectsCap(t *testing.T) {
	tests := []struct {
		name string
		cap  int
		raw  RawStatus
		want bool
	}{
		{name: "not above cap", raw: RawStatus{Code: RawCodeGenerating, TotalCount: 4, FinishedCount: 4}, want: false},
		{name: "past cap", raw: RawStatus{Code: RawCodeGenerating, TotalCount: 8, FinishedCount: 5}, want: false},
		{name: "custom cap", cap: 2, raw: RawStatus{Code: RawCodeGenerating, TotalCount: 4, FinishedCount: 2}, want: true},
		{name: "failed at cap", raw: RawStatus{Code: RawCodeFailed, FailCode: "1", TotalCount: 8, FinishedCount: 4}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New(Options{BatchCap: tc.cap})
			if got := c.Classify(tc.raw).ContinuationEligible; got != tc.want {
				t.Fatalf("eligible = %v, want %v", got, tc.want)
			}
		})
	}
}
