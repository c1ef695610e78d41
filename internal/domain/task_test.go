package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		want   TaskKind
		wantOK bool
	}{
		{name: "digits", id: "4622134587393", want: TaskKindImage, wantOK: true},
		{name: "h prefixed", id: "h8fA92kd", want: TaskKindImage, wantOK: true},
		{name: "uuid lower", id: "3f2b8c1e-9a7d-4e21-b0c3-6d5e4f3a2b1c", want: TaskKindVideo, wantOK: true},
		{name: "uuid upper", id: "3F2B8C1E-9A7D-4E21-B0C3-6D5E4F3A2B1C", want: TaskKindVideo, wantOK: true},
		{name: "bare h", id: "h", wantOK: false},
		{name: "empty", id: "", wantOK: false},
		{name: "symbols", id: "abc$def", wantOK: false},
		{name: "uuid with braces", id: "{3f2b8c1e-9a7d-4e21-b0c3-6d5e4f3a2b1c}", wantOK: false},
		{name: "mixed letters", id: "x123", wantOK: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := KindOf(tc.id)
			if ok != tc.wantOK {
				t.Fatalf("KindOf(%q) ok = %v, want %v", tc.id, ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Fatalf("KindOf(%q) = %q, want %q", tc.id, got, tc.want)
			}
		})
	}
}

func TestGenerationErrorIsMatchesCode(t *testing.T) {
	err := NewGenerationError(CodeTimeout, "123", "task did not complete", "")
	wrapped := fmt.Errorf("poll: %w", err)
	if !errors.Is(wrapped, ErrTimeout) {
		t.Fatalf("expected wrapped error to match ErrTimeout")
	}
	if errors.Is(wrapped, ErrContentViolation) {
		t.Fatalf("timeout should not match content violation")
	}
	if CodeOf(wrapped) != CodeTimeout {
		t.Fatalf("CodeOf = %q, want %q", CodeOf(wrapped), CodeTimeout)
	}
	if CodeOf(errors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should classify as unknown")
	}
}

func TestGenerationErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapGenerationError(CodeAPIError, "123", "submit failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if err.Reason != "connection reset" {
		t.Fatalf("reason = %q, want cause text", err.Reason)
	}
	if !err.Retryable() {
		t.Fatalf("api errors should be retryable")
	}
}

func TestTaskRecordCloneIsIndependent(t *testing.T) {
	rec := TaskRecord{
		TaskID:            "1",
		OriginalParams:    map[string]any{"prompt": "cat"},
		UploadedAssetRefs: []string{"a"},
		ContinuationBody:  []byte(`{"x":1}`),
	}
	cp := rec.Clone()
	cp.OriginalParams["prompt"] = "dog"
	cp.UploadedAssetRefs[0] = "b"
	cp.ContinuationBody[0] = '['
	if rec.OriginalParams["prompt"] != "cat" || rec.UploadedAssetRefs[0] != "a" || rec.ContinuationBody[0] != '{' {
		t.Fatalf("clone shares state with original: %#v", rec)
	}
}

func TestTaskRecordExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := TaskRecord{ExpiresAt: now}
	if rec.Expired(now) {
		t.Fatalf("record should not be expired at its deadline")
	}
	if !rec.Expired(now.Add(time.Nanosecond)) {
		t.Fatalf("record should be expired after its deadline")
	}
}
