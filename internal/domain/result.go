package domain

import "encoding/json"

// ResultState is the canonical provider task state after normalization.
type ResultState string

const (
	ResultPending    ResultState = "pending"
	ResultProcessing ResultState = "processing"
	ResultSuccess    ResultState = "success"
	ResultFail       ResultState = "fail"
	ResultTimeout    ResultState = "timeout"
	ResultUnknown    ResultState = "unknown"
)

// Terminal reports whether polling should stop for the state.
func (s ResultState) Terminal() bool {
	switch s {
	case ResultSuccess, ResultFail, ResultTimeout:
		return true
	default:
		return false
	}
}

// GenerationResult is the provider-independent view of one poll response.
type GenerationResult struct {
	State    ResultState     `json:"state"`
	Outputs  []string        `json:"outputs,omitempty"`
	FailCode string          `json:"fail_code,omitempty"`
	Message  string          `json:"message,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// OutputType classifies a delivered output URL.
type OutputType string

const (
	OutputImage   OutputType = "image"
	OutputVideo   OutputType = "video"
	OutputAudio   OutputType = "audio"
	OutputUnknown OutputType = "unknown"
)
