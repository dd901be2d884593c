package orchestrator

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// extractJSON pulls a JSON object out of model text, preferring a fenced
// ```json block and otherwise scanning for the first balanced brace group
// — the same two-strategy extraction the Python agent used, since model
// output is not reliably raw JSON.
func extractJSON(text string) (string, error) {
	if idx := strings.Index(text, "```json"); idx != -1 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON found in response")
	}
	depth := 0
	end := start
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i + 1
				goto found
			}
		}
	}
	return "", fmt.Errorf("no JSON found in response")
found:
	return text[start:end], nil
}

// ParseDecision validates and decodes the model's raw text response into a
// Decision, defaulting to a safe no_action/low-priority Decision whenever
// the response is empty, unparsable, or not a JSON object.
func ParseDecision(text string) Decision {
	if strings.TrimSpace(text) == "" {
		return Decision{
			Action:    ActionNoAction,
			Reasoning: "No text content in model response",
			Payload:   map[string]interface{}{},
			Priority:  PriorityLow,
		}
	}

	jsonStr, err := extractJSON(text)
	if err != nil {
		log.Printf("orchestrator: %v", err)
		return Decision{
			Action:    ActionNoAction,
			Reasoning: fmt.Sprintf("validation error: %v", err),
			Payload:   map[string]interface{}{},
			Priority:  PriorityLow,
		}
	}

	var raw struct {
		Action             string                 `json:"action"`
		Reasoning          string                 `json:"reasoning"`
		Payload            map[string]interface{} `json:"payload"`
		Priority           string                 `json:"priority"`
		ExperimentID       string                 `json:"experiment_id"`
		ContextForFullsend string                 `json:"context_for_fullsend"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		log.Printf("orchestrator: JSON parse error: %v", err)
		return Decision{
			Action:    ActionNoAction,
			Reasoning: fmt.Sprintf("JSON parse error: %v", err),
			Payload:   map[string]interface{}{"raw_response": truncate(text, 500)},
			Priority:  PriorityLow,
		}
	}

	action := validateAction(raw.Action)
	priority := validatePriority(raw.Priority)

	payload := raw.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	d := Decision{
		Action:    action,
		Reasoning: raw.Reasoning,
		Payload:   payload,
		Priority:  priority,
	}

	if action == ActionKillExperiment {
		d.ExperimentID = raw.ExperimentID
		if d.ExperimentID == "" {
			if v, ok := payload["experiment_id"].(string); ok {
				d.ExperimentID = v
			}
		}
		if d.ExperimentID == "" {
			log.Printf("orchestrator: kill_experiment decision missing experiment_id")
		}
	}

	if action == ActionDispatchToFullsend {
		d.ContextForFullsend = raw.ContextForFullsend
		if d.ContextForFullsend == "" {
			if v, ok := payload["context"].(string); ok {
				d.ContextForFullsend = v
			}
		}
	}

	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
