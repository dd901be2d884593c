package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nembal/fullsend-fabric/internal/llm"
)

// Config tunes the Agent's model call.
type Config struct {
	Model                string
	MaxTokens            int
	ThinkingBudgetTokens int
	ThinkingTimeout      time.Duration
}

// Agent is the strategic decision-maker: one Decide call per incoming
// message, always returning a typed Decision even when the model call
// fails.
type Agent struct {
	client       llm.Client
	cfg          Config
	systemPrompt string
}

// New builds an Agent.
func New(client llm.Client, cfg Config, systemPrompt string) *Agent {
	return &Agent{client: client, cfg: cfg, systemPrompt: systemPrompt}
}

// ErrRateLimited and ErrConnection let callers' llm.Client implementations
// signal the specific failure classes the Agent gives distinct fallback
// treatment to.
var (
	ErrRateLimited = errors.New("llm: rate limited")
	ErrConnection  = errors.New("llm: connection error")
)

// Decide builds the prompt, calls the model under ThinkingTimeout, and
// returns a validated Decision. Any failure — timeout, connection error,
// rate limit, or an unexpected error — yields a typed fallback Decision
// instead of propagating the error, since a stalled or erroring model call
// must never block the decision loop.
func (a *Agent) Decide(ctx context.Context, msg Incoming, decisionCtx Context) Decision {
	prompt := BuildPrompt(msg, decisionCtx)

	timeout := a.cfg.ThinkingTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		decision Decision
		err      error
	}
	done := make(chan result, 1)
	go func() {
		d, err := a.callModel(callCtx, prompt)
		done <- result{d, err}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			log.Printf("orchestrator: thinking timed out after %s for message type=%s", timeout, msg.Type)
			return a.timeoutFallback(timeout)
		}
		return a.apiErrorFallback(msg, "unexpected_error", callCtx.Err().Error())
	case r := <-done:
		if r.err != nil {
			return a.classifyError(msg, r.err)
		}
		log.Printf("orchestrator: decision action=%s priority=%s reasoning=%s", r.decision.Action, r.decision.Priority, truncate(r.decision.Reasoning, 100))
		return r.decision
	}
}

func (a *Agent) callModel(ctx context.Context, prompt string) (Decision, error) {
	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		Model:                a.cfg.Model,
		Prompt:               prompt,
		System:               a.systemPrompt,
		MaxTokens:            a.cfg.MaxTokens,
		ThinkingBudgetTokens: a.cfg.ThinkingBudgetTokens,
	})
	if err != nil {
		return Decision{}, err
	}
	if resp.Thinking != "" {
		log.Printf("orchestrator: extended thinking (%d chars): %s", len(resp.Thinking), truncate(resp.Thinking, 1000))
	}
	return ParseDecision(resp.Text), nil
}

func (a *Agent) classifyError(msg Incoming, err error) Decision {
	switch {
	case errors.Is(err, ErrConnection):
		log.Printf("orchestrator: API connection error: %v", err)
		return a.apiErrorFallback(msg, "connection_error", err.Error())
	case errors.Is(err, ErrRateLimited):
		log.Printf("orchestrator: API rate limit error: %v", err)
		return a.apiErrorFallback(msg, "rate_limit", err.Error())
	default:
		log.Printf("orchestrator: unexpected error during thinking: %v", err)
		return a.apiErrorFallback(msg, "unexpected_error", err.Error())
	}
}

// timeoutFallback matches the original PRD behavior: tell Discord we're
// still working rather than leave the requester hanging.
func (a *Agent) timeoutFallback(timeout time.Duration) Decision {
	return Decision{
		Action: ActionRespondToDiscord,
		Reasoning: fmt.Sprintf(
			"Thinking timed out after %s. Sending acknowledgment to user.", timeout),
		Payload: map[string]interface{}{
			"content": "I'm still thinking about this. Will update soon.",
		},
		Priority: PriorityMedium,
	}
}

func (a *Agent) apiErrorFallback(msg Incoming, errorType, errorMessage string) Decision {
	return Decision{
		Action: ActionNoAction,
		Reasoning: fmt.Sprintf(
			"API error (%s): %s. Will retry on next message cycle.",
			errorType, truncate(errorMessage, 200)),
		Payload: map[string]interface{}{
			"error_type":           errorType,
			"error_message":        truncate(errorMessage, 500),
			"original_message_type": msg.Type,
			"original_source":      msg.Source,
		},
		Priority: PriorityLow,
	}
}
