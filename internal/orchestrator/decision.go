// Package orchestrator implements the strategic decision loop: build a
// prompt from the incoming message plus current context, call the model
// under a hard timeout with an extended-thinking budget, and parse the
// result into a strictly validated Decision.
package orchestrator

// Action is the closed set of decisions the Orchestrator Agent can make.
type Action string

const (
	ActionDispatchToFullsend Action = "dispatch_to_fullsend"
	ActionDispatchToBuilder  Action = "dispatch_to_builder"
	ActionRespondToDiscord   Action = "respond_to_discord"
	ActionUpdateWorklist     Action = "update_worklist"
	ActionRecordLearning     Action = "record_learning"
	ActionKillExperiment     Action = "kill_experiment"
	ActionInitiateRoundtable Action = "initiate_roundtable"
	ActionNoAction           Action = "no_action"
)

var validActions = map[Action]bool{
	ActionDispatchToFullsend: true,
	ActionDispatchToBuilder:  true,
	ActionRespondToDiscord:   true,
	ActionUpdateWorklist:     true,
	ActionRecordLearning:     true,
	ActionKillExperiment:     true,
	ActionInitiateRoundtable: true,
	ActionNoAction:           true,
}

// Priority mirrors classifier.Priority; duplicated here (rather than
// imported) because the Decision's priority enum is independently owned by
// the Orchestrator's own contract, even though the values happen to match.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var validPriorities = map[Priority]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

// Decision is the Orchestrator Agent's strategic output, routed by the
// Dispatcher to exactly one handler.
type Decision struct {
	Action              Action                 `json:"action"`
	Reasoning           string                 `json:"reasoning"`
	Payload             map[string]interface{} `json:"payload"`
	Priority            Priority               `json:"priority"`
	ExperimentID        string                 `json:"experiment_id,omitempty"`
	ContextForFullsend  string                 `json:"context_for_fullsend,omitempty"`
}

func validateAction(a string) Action {
	action := Action(a)
	if !validActions[action] {
		return ActionNoAction
	}
	return action
}

func validatePriority(p string) Priority {
	priority := Priority(p)
	if !validPriorities[priority] {
		return PriorityMedium
	}
	return priority
}
