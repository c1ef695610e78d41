package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("task record already exists")
	ErrInvalidTaskID   = errors.New("invalid id format")
	ErrRecordNotFound  = errors.New("record not found")
	ErrProviderFailure = errors.New("provider failure")
)

// ErrorCode classifies a GenerationError.
type ErrorCode string

const (
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeContentViolation ErrorCode = "CONTENT_VIOLATION"
	CodeAPIError         ErrorCode = "API_ERROR"
	CodeInvalidParams    ErrorCode = "INVALID_PARAMS"
	CodeProcessingFailed ErrorCode = "PROCESSING_FAILED"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Code sentinels so callers can write errors.Is(err, domain.ErrTimeout).
var (
	ErrTimeout          = &GenerationError{Code: CodeTimeout}
	ErrContentViolation = &GenerationError{Code: CodeContentViolation}
	ErrAPI              = &GenerationError{Code: CodeAPIError}
	ErrInvalidParams    = &GenerationError{Code: CodeInvalidParams}
	ErrProcessingFailed = &GenerationError{Code: CodeProcessingFailed}
	ErrUnknown          = &GenerationError{Code: CodeUnknown}
)

// GenerationError is the error surfaced to callers of the orchestrator.
type GenerationError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// NewGenerationError stamps a new error with the current time.
func NewGenerationError(code ErrorCode, taskID, message, reason string) *GenerationError {
	return &GenerationError{
		Code:      code,
		Message:   message,
		Reason:    reason,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
}

// WrapGenerationError is NewGenerationError with an underlying cause.
func WrapGenerationError(code ErrorCode, taskID, message string, cause error) *GenerationError {
	ge := NewGenerationError(code, taskID, message, "")
	if cause != nil {
		ge.Reason = cause.Error()
		ge.Err = cause
	}
	return ge
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.TaskID != "" {
		msg = fmt.Sprintf("%s (task %s)", msg, e.TaskID)
	}
	if e.Reason != "" && e.Reason != e.Message {
		msg = msg + ": " + e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches any GenerationError carrying the same code.
func (e *GenerationError) Is(target error) bool {
	other, ok := target.(*GenerationError)
	if !ok || other == nil {
		return false
	}
	return other.Code == e.Code
}

// Retryable reports whether resubmitting or re-polling could succeed.
func (e *GenerationError) Retryable() bool {
	switch e.Code {
	case CodeTimeout, CodeAPIError:
		return true
	default:
		return false
	}
}

// CodeOf extracts the ErrorCode from err, or CodeUnknown when err is not a GenerationError.
func CodeOf(err error) ErrorCode {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeUnknown
}
