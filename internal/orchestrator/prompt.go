package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Incoming is the minimal shape of whatever message triggered a decision
// cycle: an escalation, an alert, or a completion notice.
type Incoming struct {
	Type     string
	Source   string
	Priority string
	Raw      map[string]interface{}
}

// BuildPrompt formats the incoming message and current context into the
// prompt sent to the model.
func BuildPrompt(msg Incoming, ctx Context) string {
	rawJSON, _ := json.MarshalIndent(msg.Raw, "", "  ")

	actions := make([]string, 0, len(validActions))
	for a := range validActions {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)

	return fmt.Sprintf(`## Incoming Message
Type: %s
Source: %s
Priority: %s

Content:
%s

## Current Context

### Product
%s

### Worklist
%s

### Strategic Learnings
%s

### Active Experiments
%s

### Available Tools
%s

### Recent Metrics
%s

## Your Task
Analyze this message and decide what action to take. Use your extended thinking to reason through the decision carefully.

Output your decision as a JSON object with the following structure:
`+"```json\n{\n  \"action\": \"<action_type>\",\n  \"reasoning\": \"<brief explanation>\",\n  \"payload\": { ... },\n  \"priority\": \"<low|medium|high|urgent>\"\n}\n```"+`

Valid actions: %s
`,
		orDefault(msg.Type, "unknown"),
		orDefault(msg.Source, "unknown"),
		orDefault(msg.Priority, "normal"),
		string(rawJSON),
		orDefault(ctx.Product, "(No product context available)"),
		orDefault(ctx.Worklist, "(No worklist available)"),
		orDefault(ctx.Learnings, "(No learnings recorded yet)"),
		formatExperiments(ctx.ActiveExperiments),
		formatTools(ctx.AvailableTools),
		formatMetrics(ctx.RecentMetrics),
		strings.Join(actions, ", "),
	)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatExperiments(exps []ExperimentSummary) string {
	if len(exps) == 0 {
		return "(No active experiments)"
	}
	lines := make([]string, 0, len(exps))
	for _, e := range exps {
		name := e.Name
		if name == "" {
			name = "unnamed"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (state: %s)", e.ID, name, e.State))
	}
	return strings.Join(lines, "\n")
}

func formatTools(tools []string) string {
	if len(tools) == 0 {
		return "(No tools registered)"
	}
	return strings.Join(tools, ", ")
}

func formatMetrics(metrics map[string]interface{}) string {
	if len(metrics) == 0 {
		return "(No recent metrics)"
	}
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, metrics[k]))
	}
	return strings.Join(lines, "\n")
}
