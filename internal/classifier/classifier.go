// Package classifier turns an incoming chat message into an action/reason/
// priority triple, using a model call wrapped in bounded retries and a
// fail-safe default so a broken or slow model never silently drops a
// message that deserved escalation.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/nembal/fullsend-fabric/internal/llm"
)

// Action is the closed set of classification outcomes.
type Action string

const (
	ActionIgnore   Action = "ignore"
	ActionAnswer   Action = "answer"
	ActionEscalate Action = "escalate"
)

// Priority is the closed set of urgency levels shared across the fabric.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Classification is the result of classifying one incoming message.
type Classification struct {
	Action            Action   `json:"action"`
	Reason            string   `json:"reason"`
	Priority          Priority `json:"priority"`
	SuggestedResponse string   `json:"suggested_response,omitempty"`
}

// Message is the minimal shape a classifier call needs from an incoming
// chat event.
type Message struct {
	Username    string
	ChannelName string
	MentionsBot bool
	Content     string
}

// Config tunes the model call and its retry policy.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	RetryAttempts int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Classifier wraps an llm.Client with prompt-building and fail-safe
// response parsing.
type Classifier struct {
	client llm.Client
	cfg    Config
	prompt string
}

// New builds a Classifier. promptTemplate is the system/user prompt
// template, with {{username}}/{{channel}}/{{has_mention}}/{{content}}
// placeholders substituted per call.
func New(client llm.Client, cfg Config, promptTemplate string) *Classifier {
	return &Classifier{client: client, cfg: cfg, prompt: promptTemplate}
}

// Classify calls the model with retries on transient errors and parses the
// response, falling back to an escalate/medium classification on any
// unrecoverable failure.
func (c *Classifier) Classify(ctx context.Context, msg Message) Classification {
	prompt := c.buildPrompt(msg)

	text, err := c.callWithRetry(ctx, prompt)
	if err != nil {
		log.Printf("classifier: model call failed after retries: %v", err)
		return Classification{
			Action:   ActionEscalate,
			Reason:   "classification model call failed - escalating for safety",
			Priority: PriorityMedium,
		}
	}

	return ParseClassification(text)
}

func (c *Classifier) buildPrompt(msg Message) string {
	r := strings.NewReplacer(
		"{{username}}", orUnknown(msg.Username),
		"{{channel}}", orUnknown(msg.ChannelName),
		"{{has_mention}}", boolString(msg.MentionsBot),
		"{{content}}", msg.Content,
	)
	return r.Replace(c.prompt)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// transientError marks errors worth retrying (connection/rate-limit style
// failures), as opposed to malformed-response errors that a retry cannot
// fix.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient wraps err to mark it retryable. Concrete llm.Client
// implementations use this to distinguish connection/rate-limit failures
// from permanent ones.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func (c *Classifier) callWithRetry(ctx context.Context, prompt string) (string, error) {
	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := c.cfg.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := c.cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := c.client.Complete(ctx, llm.CompletionRequest{
			Model:       c.cfg.Model,
			Prompt:      prompt,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		})
		if err == nil {
			return resp.Text, nil
		}
		lastErr = err

		var te *transientError
		if !errors.As(err, &te) {
			return "", err
		}

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return "", lastErr
}

// ParseClassification extracts a Classification from raw model output,
// handling fenced code blocks, surrounding prose, and invalid enum values
// by defaulting safely rather than rejecting the message outright.
func ParseClassification(text string) Classification {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```json"); idx != -1 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			text = strings.TrimSpace(rest[:end])
		}
	} else if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			text = strings.TrimSpace(rest[:end])
		}
	}

	if !strings.HasPrefix(text, "{") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start != -1 && end > start {
			text = text[start : end+1]
		}
	}

	var raw struct {
		Action            string `json:"action"`
		Reason            string `json:"reason"`
		Priority          string `json:"priority"`
		SuggestedResponse string `json:"suggested_response"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		log.Printf("classifier: failed to parse response, escalating: %v", err)
		return Classification{
			Action:   ActionEscalate,
			Reason:   "classification parsing failed - escalating for safety",
			Priority: PriorityMedium,
		}
	}

	action := Action(raw.Action)
	switch action {
	case ActionIgnore, ActionAnswer, ActionEscalate:
	default:
		log.Printf("classifier: invalid action %q, defaulting to escalate", raw.Action)
		action = ActionEscalate
	}

	priority := Priority(raw.Priority)
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		priority = PriorityMedium
	}

	reason := raw.Reason
	if reason == "" {
		reason = "No reason provided"
	}

	return Classification{
		Action:            action,
		Reason:            reason,
		Priority:          priority,
		SuggestedResponse: raw.SuggestedResponse,
	}
}
