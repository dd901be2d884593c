package experiment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nembal/fullsend-fabric/internal/store"
)

// Submission is the shape an external producer (FULLSEND publishing a new
// experiment, Builder registering a tool) writes into the store. It exists
// so tests and integration harnesses standing in for those collaborators
// have a single, correctly-shaped entry point instead of poking hash
// fields by hand.
type Submission struct {
	ID              string
	Name            string
	SuccessCriteria []string
	FailureCriteria []string
	Tool            string
	Params          map[string]interface{}
}

// Submit writes the experiments:{id} hash for a freshly proposed
// experiment. State is left unset, which every reader treats as active.
func Submit(ctx context.Context, s store.Store, sub Submission) error {
	fields := map[string]string{
		"name": sub.Name,
	}

	if len(sub.SuccessCriteria) > 0 {
		b, err := json.Marshal(sub.SuccessCriteria)
		if err != nil {
			return fmt.Errorf("experiment: marshal success_criteria: %w", err)
		}
		fields["success_criteria"] = string(b)
	}
	if len(sub.FailureCriteria) > 0 {
		b, err := json.Marshal(sub.FailureCriteria)
		if err != nil {
			return fmt.Errorf("experiment: marshal failure_criteria: %w", err)
		}
		fields["failure_criteria"] = string(b)
	}

	execution := map[string]interface{}{
		"tool":   sub.Tool,
		"params": sub.Params,
	}
	execJSON, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("experiment: marshal execution: %w", err)
	}
	fields["execution"] = string(execJSON)

	return s.HSet(ctx, store.ExperimentKey(sub.ID), fields)
}

// RegisterTool writes the tools:{name} hash the Builder produces on
// completing a tool synthesis request.
func RegisterTool(ctx context.Context, s store.Store, name, state string) error {
	return s.HSet(ctx, store.ToolKey(name), map[string]string{"state": state})
}

// Load decodes an experiments:{id} hash into an Experiment, tolerating
// success_criteria/failure_criteria stored as either a JSON array or a
// single bare string (the shape the original Python hash writer allowed).
func Load(ctx context.Context, s store.Store, id string) (Experiment, error) {
	fields, err := s.HGetAll(ctx, store.ExperimentKey(id))
	if err != nil {
		return Experiment{}, fmt.Errorf("experiment: load %s: %w", id, err)
	}

	exp := Experiment{
		ID:    id,
		State: State(fields["state"]),
		Name:  fields["name"],
	}

	exp.SuccessCriteria = decodeCriteria(fields["success_criteria"])
	exp.FailureCriteria = decodeCriteria(fields["failure_criteria"])

	if raw := fields["execution"]; raw != "" {
		var execution struct {
			Tool   string                 `json:"tool"`
			Params map[string]interface{} `json:"params"`
		}
		if err := json.Unmarshal([]byte(raw), &execution); err == nil {
			exp.Tool = execution.Tool
			exp.Params = execution.Params
		}
	}

	return exp, nil
}

func decodeCriteria(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	return []string{raw}
}

// ListActive scans experiments:* and returns every experiment whose state
// is active, running, or unset.
func ListActive(ctx context.Context, s store.Store) ([]Experiment, error) {
	keys, err := s.ScanKeys(ctx, store.ExperimentKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("experiment: scan: %w", err)
	}

	var active []Experiment
	for _, key := range keys {
		id := key[len(store.ExperimentKeyPrefix):]
		exp, err := Load(ctx, s, id)
		if err != nil {
			continue
		}
		if exp.IsActive() {
			active = append(active, exp)
		}
	}
	return active, nil
}
