// Package responder composes direct replies for messages the Classifier
// marked "answer" — queries simple enough to resolve from store state
// without escalating to the Orchestrator Agent.
package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nembal/fullsend-fabric/internal/classifier"
	"github.com/nembal/fullsend-fabric/internal/llm"
	"github.com/nembal/fullsend-fabric/internal/store"
)

// SystemStatus is the read-only snapshot Responder composes its answers
// from. Watcher only ever reads these keys; it never writes them.
type SystemStatus struct {
	Status             string
	TotalExperiments    int
	ActiveExperiments   int
	RecentRuns          []string
}

// GetSystemStatus reads fullsend:status, counts experiments:* by state,
// and pulls the last few entries of fullsend:recent_runs.
func GetSystemStatus(ctx context.Context, s store.Store) (SystemStatus, error) {
	status := SystemStatus{Status: "unknown"}

	if v, ok, err := s.HGet(ctx, "fullsend:status", "value"); err == nil && ok {
		status.Status = v
	}

	keys, err := s.ScanKeys(ctx, store.ExperimentKeyPrefix+"*")
	if err != nil {
		return status, fmt.Errorf("responder: scan experiments: %w", err)
	}
	for _, key := range keys {
		state, ok, err := s.HGet(ctx, key, "state")
		if err != nil {
			continue
		}
		status.TotalExperiments++
		if ok && state == "running" {
			status.ActiveExperiments++
		}
	}

	recent, err := s.LRange(ctx, "fullsend:recent_runs", 0, 4)
	if err == nil {
		status.RecentRuns = recent
	}

	return status, nil
}

// FormatRecentActivity renders up to the three most recent run entries as
// a short bullet list for prompt context.
func FormatRecentActivity(recentRuns []string) string {
	if len(recentRuns) == 0 {
		return "No recent activity"
	}

	limit := len(recentRuns)
	if limit > 3 {
		limit = 3
	}

	var lines []string
	for _, entry := range recentRuns[:limit] {
		summary := entry
		if strings.HasPrefix(entry, "{") {
			var data map[string]interface{}
			if err := json.Unmarshal([]byte(entry), &data); err == nil {
				if s, ok := data["summary"].(string); ok {
					summary = s
				} else if t, ok := data["type"].(string); ok {
					summary = t
				}
			}
		}
		lines = append(lines, "- "+summary)
	}
	return strings.Join(lines, "\n")
}

// Responder generates the reply text for an "answer" classification.
type Responder struct {
	client llm.Client
	store  store.Store
	model  string
	temp   float64
	tokens int
	prompt string
}

// New builds a Responder. promptTemplate carries {{query}}/{{status}}/
// {{experiment_count}}/{{total_experiments}}/{{recent_activity}}
// placeholders.
func New(client llm.Client, s store.Store, model string, temp float64, maxTokens int, promptTemplate string) *Responder {
	return &Responder{client: client, store: s, model: model, temp: temp, tokens: maxTokens, prompt: promptTemplate}
}

// Respond returns the classifier's suggested response verbatim if present;
// otherwise it reads current system status and asks the model to compose a
// brief reply from it.
func (r *Responder) Respond(ctx context.Context, content string, c classifier.Classification) (string, error) {
	if c.SuggestedResponse != "" {
		return c.SuggestedResponse, nil
	}

	status, err := GetSystemStatus(ctx, r.store)
	if err != nil {
		return "", err
	}

	replacer := strings.NewReplacer(
		"{{query}}", content,
		"{{status}}", status.Status,
		"{{experiment_count}}", fmt.Sprintf("%d", status.ActiveExperiments),
		"{{total_experiments}}", fmt.Sprintf("%d", status.TotalExperiments),
		"{{recent_activity}}", FormatRecentActivity(status.RecentRuns),
	)
	prompt := replacer.Replace(r.prompt)

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		Model:       r.model,
		Prompt:      prompt,
		Temperature: r.temp,
		MaxTokens:   r.tokens,
	})
	if err != nil {
		return "", fmt.Errorf("responder: model call failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
