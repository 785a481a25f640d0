// Package backend defines the generation client contract and renders the
// prompts sent to it.
package backend

import (
	"context"
)

// GenerationRequest is one call to the generation backend.
type GenerationRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// GenerationResult is the backend's answer.
type GenerationResult struct {
	// Text is the raw completion text, before any parsing.
	Text string

	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Generator calls the external generation backend. Implementations map
// timeouts to LLM_TIMEOUT and transport or API failures to LLM_ERROR.
type Generator interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error)
}
