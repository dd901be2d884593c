// Package experiment models the experiment lifecycle state machine and the
// hash shapes external producers (FULLSEND, Builder) and the Executor read
// and write under experiments:{id} and experiment_runs:{run_id}.
package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/nembal/fullsend-fabric/internal/store"
)

// State is the closed set of experiment lifecycle states. The empty state
// (no "state" field yet) is treated as Active by every reader — a
// just-submitted experiment is active by default.
type State string

const (
	StateActive   State = "active"
	StateRunning  State = "running"
	StateRun      State = "run"
	StateFailed   State = "failed"
	StateArchived State = "archived"
)

// Experiment is the decoded view of an experiments:{id} hash.
type Experiment struct {
	ID               string
	State            State
	Name             string
	SuccessCriteria  []string
	FailureCriteria  []string
	Tool             string
	Params           map[string]interface{}
}

// IsActive reports whether the experiment should be included in
// monitoring and threshold evaluation — active, running, or blank state.
func (e Experiment) IsActive() bool {
	switch e.State {
	case StateActive, StateRunning, "":
		return true
	default:
		return false
	}
}

// Transition advances id from its current state to next, validating the
// transition against the state machine's edges. archived is reachable
// from any state (the Dispatcher's kill_experiment path) and, once set,
// is terminal: nothing transitions out of it.
func Transition(ctx context.Context, s store.Store, id string, next State) error {
	key := store.ExperimentKey(id)
	current, ok, err := s.HGet(ctx, key, "state")
	if err != nil {
		return fmt.Errorf("experiment: read state: %w", err)
	}
	cur := StateActive
	if ok && current != "" {
		cur = State(current)
	}

	if cur == StateArchived {
		return fmt.Errorf("experiment: %s is archived, no further transitions allowed", id)
	}

	if !validTransition(cur, next) {
		return fmt.Errorf("experiment: invalid transition %s -> %s for %s", cur, next, id)
	}

	return s.HSet(ctx, key, map[string]string{"state": string(next)})
}

func validTransition(from, to State) bool {
	if to == StateArchived {
		return true
	}
	switch from {
	case StateActive, "":
		return to == StateRunning
	case StateRunning:
		return to == StateRun || to == StateFailed
	default:
		return false
	}
}

// Archive is the Dispatcher-only, terminal transition used by
// kill_experiment: it always succeeds regardless of current state (short
// of already being archived) and records why.
func Archive(ctx context.Context, s store.Store, id, reason, archivedBy string) error {
	key := store.ExperimentKey(id)
	current, ok, err := s.HGet(ctx, key, "state")
	if err != nil {
		return fmt.Errorf("experiment: read state: %w", err)
	}
	if ok && State(current) == StateArchived {
		return nil
	}
	return s.HSet(ctx, key, map[string]string{
		"state":           string(StateArchived),
		"archived_at":     time.Now().UTC().Format(time.RFC3339),
		"archived_reason": reason,
		"archived_by":     archivedBy,
	})
}
