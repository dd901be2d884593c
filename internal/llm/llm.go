// Package llm declares the seam between the fabric's decision-making
// components and whatever model provider backs them. Concrete clients
// (Anthropic, Gemini, ...) are external collaborators, out of scope for
// this repository; callers inject an implementation, and tests inject a
// fake.
package llm

import "context"

// CompletionRequest is a single prompt-in, text-out model call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int

	// ThinkingBudgetTokens, when non-zero, requests an extended-thinking
	// budget from providers that support it (e.g. Claude). Providers that
	// don't support it ignore the field.
	ThinkingBudgetTokens int
}

// CompletionResponse carries the model's answer plus, when the provider
// supports extended thinking, the reasoning trace for audit logging.
type CompletionResponse struct {
	Text     string
	Thinking string
}

// Client is the interface every component that talks to a model depends
// on, rather than a concrete provider SDK.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
