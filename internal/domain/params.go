package domain

import "encoding/json"

// GenerationParams is what a caller submits. Field tags drive validation in
// the orchestrator before any remote call is made.
type GenerationParams struct {
	Kind            TaskKind `json:"kind" validate:"required,oneof=image video"`
	Prompt          string   `json:"prompt" validate:"required,max=2000"`
	NegativePrompt  string   `json:"negative_prompt,omitempty" validate:"max=2000"`
	Model           string   `json:"model,omitempty"`
	Count           int      `json:"count,omitempty" validate:"omitempty,min=1,max=16"`
	AspectRatio     string   `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16 3:2 2:3 21:9"`
	Width           int      `json:"width,omitempty" validate:"omitempty,min=256,max=4096"`
	Height          int      `json:"height,omitempty" validate:"omitempty,min=256,max=4096"`
	DurationSeconds int      `json:"duration_seconds,omitempty" validate:"omitempty,min=1,max=15"`
	ReferenceImages []string `json:"reference_images,omitempty" validate:"max=4,dive,required"`
}

// AsMap flattens the params into the opaque bag stored on a TaskRecord.
func (p GenerationParams) AsMap() map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Submission is what the remote service returned for one accepted request,
// plus what is needed to replay it as a continuation.
type Submission struct {
	TaskID           string
	Kind             TaskKind
	DerivedParams    map[string]any
	ContinuationBody json.RawMessage
}
