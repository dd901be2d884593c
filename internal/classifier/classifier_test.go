package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nembal/fullsend-fabric/internal/llm"
)

type fakeClient struct {
	calls     int
	responses []string
	errs      []error
}

func (f *fakeClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &llm.CompletionResponse{Text: f.responses[i]}, nil
}

func TestParseClassification_RawJSON(t *testing.T) {
	c := ParseClassification(`{"action":"answer","reason":"simple question","priority":"low"}`)
	assert.Equal(t, ActionAnswer, c.Action)
	assert.Equal(t, PriorityLow, c.Priority)
}

func TestParseClassification_FencedJSON(t *testing.T) {
	c := ParseClassification("```json\n{\"action\":\"escalate\",\"reason\":\"urgent\",\"priority\":\"urgent\"}\n```")
	assert.Equal(t, ActionEscalate, c.Action)
	assert.Equal(t, PriorityUrgent, c.Priority)
}

func TestParseClassification_SurroundingText(t *testing.T) {
	c := ParseClassification(`Sure, here you go: {"action":"ignore","reason":"spam"} thanks`)
	assert.Equal(t, ActionIgnore, c.Action)
}

func TestParseClassification_InvalidJSON_DefaultsToEscalate(t *testing.T) {
	c := ParseClassification("not json at all")
	assert.Equal(t, ActionEscalate, c.Action)
	assert.Equal(t, PriorityMedium, c.Priority)
}

func TestParseClassification_InvalidActionDefaultsToEscalate(t *testing.T) {
	c := ParseClassification(`{"action":"explode","reason":"bad","priority":"low"}`)
	assert.Equal(t, ActionEscalate, c.Action)
}

func TestParseClassification_InvalidPriorityDefaultsToMedium(t *testing.T) {
	c := ParseClassification(`{"action":"answer","reason":"ok","priority":"extreme"}`)
	assert.Equal(t, PriorityMedium, c.Priority)
}

func TestClassify_RetriesTransientThenSucceeds(t *testing.T) {
	fc := &fakeClient{
		responses: []string{"", "", `{"action":"answer","reason":"ok","priority":"low"}`},
		errs:      []error{Transient(errors.New("timeout")), Transient(errors.New("timeout")), nil},
	}
	cl := New(fc, Config{RetryAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, "{{content}}")
	result := cl.Classify(context.Background(), Message{Content: "hi"})
	assert.Equal(t, ActionAnswer, result.Action)
	assert.Equal(t, 3, fc.calls)
}

func TestClassify_NonTransientErrorFailsFast(t *testing.T) {
	fc := &fakeClient{
		responses: []string{""},
		errs:      []error{errors.New("bad request")},
	}
	cl := New(fc, Config{RetryAttempts: 3, BaseDelay: time.Millisecond}, "{{content}}")
	result := cl.Classify(context.Background(), Message{Content: "hi"})
	assert.Equal(t, ActionEscalate, result.Action)
	assert.Equal(t, 1, fc.calls)
}

func TestClassify_ExhaustsRetriesFallsBackSafely(t *testing.T) {
	fc := &fakeClient{
		responses: []string{"", "", ""},
		errs: []error{
			Transient(errors.New("timeout")),
			Transient(errors.New("timeout")),
			Transient(errors.New("timeout")),
		},
	}
	cl := New(fc, Config{RetryAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, "{{content}}")
	result := cl.Classify(context.Background(), Message{Content: "hi"})
	require.Equal(t, ActionEscalate, result.Action)
	assert.Equal(t, PriorityMedium, result.Priority)
	assert.Equal(t, 3, fc.calls)
}
