package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nembal/fullsend-fabric/internal/llm"
)

type fakeLLM struct {
	resp  *llm.CompletionResponse
	err   error
	delay time.Duration
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestAgent_Decide_Success(t *testing.T) {
	fake := &fakeLLM{resp: &llm.CompletionResponse{Text: `{"action":"no_action","reasoning":"fine","payload":{},"priority":"low"}`}}
	agent := New(fake, Config{ThinkingTimeout: time.Second}, "system")
	d := agent.Decide(context.Background(), Incoming{Type: "escalation"}, Context{})
	assert.Equal(t, ActionNoAction, d.Action)
}

func TestAgent_Decide_TimeoutFallsBackToRespondToDiscord(t *testing.T) {
	fake := &fakeLLM{resp: &llm.CompletionResponse{Text: "{}"}, delay: 50 * time.Millisecond}
	agent := New(fake, Config{ThinkingTimeout: 5 * time.Millisecond}, "system")
	d := agent.Decide(context.Background(), Incoming{Type: "escalation"}, Context{})
	assert.Equal(t, ActionRespondToDiscord, d.Action)
	assert.Equal(t, PriorityMedium, d.Priority)
}

func TestAgent_Decide_ConnectionErrorFallsBackToNoAction(t *testing.T) {
	fake := &fakeLLM{err: ErrConnection}
	agent := New(fake, Config{ThinkingTimeout: time.Second}, "system")
	d := agent.Decide(context.Background(), Incoming{Type: "alert", Source: "redis_agent"}, Context{})
	assert.Equal(t, ActionNoAction, d.Action)
	assert.Equal(t, PriorityLow, d.Priority)
	assert.Equal(t, "connection_error", d.Payload["error_type"])
}

func TestAgent_Decide_RateLimitFallsBack(t *testing.T) {
	fake := &fakeLLM{err: ErrRateLimited}
	agent := New(fake, Config{ThinkingTimeout: time.Second}, "system")
	d := agent.Decide(context.Background(), Incoming{}, Context{})
	assert.Equal(t, "rate_limit", d.Payload["error_type"])
}
