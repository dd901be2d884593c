// Package dispatcher implements the single entry point that turns an
// Orchestrator Decision into side effects: a publish on another channel, a
// store mutation, or a subprocess invocation. No Decision, however
// malformed, is allowed to stall the Orchestrator's message loop — every
// branch logs and returns rather than propagating a fatal error.
package dispatcher

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nembal/fullsend-fabric/internal/bus"
	"github.com/nembal/fullsend-fabric/internal/envelope"
	"github.com/nembal/fullsend-fabric/internal/experiment"
	"github.com/nembal/fullsend-fabric/internal/orchestrator"
	"github.com/nembal/fullsend-fabric/internal/store"
	"github.com/nembal/fullsend-fabric/internal/subprocess"
	"github.com/nembal/fullsend-fabric/internal/worklist"
)

// Channels names the bus channels the Dispatcher publishes onto.
type Channels struct {
	ToFullsend       string
	BuilderTasks     string
	FromOrchestrator string
}

// Dispatcher executes Decisions against the bus, the store, and the
// Roundtable subprocess.
type Dispatcher struct {
	bus        bus.Bus
	store      store.Store
	roundtable *subprocess.Supervisor
	channels   Channels
}

// New builds a Dispatcher. roundtable may be nil if initiate_roundtable
// is never expected to be dispatched (e.g. in tests).
func New(b bus.Bus, s store.Store, roundtable *subprocess.Supervisor, channels Channels) *Dispatcher {
	return &Dispatcher{bus: b, store: s, roundtable: roundtable, channels: channels}
}

// Execute routes decision to its handler. original is the envelope that
// prompted the decision, used to resolve reply destinations; it may be
// nil for decisions that don't originate from an inbound message (e.g. a
// threshold alert re-entering the loop).
func (d *Dispatcher) Execute(ctx context.Context, decision orchestrator.Decision, original *envelope.Envelope) error {
	switch decision.Action {
	case orchestrator.ActionDispatchToFullsend:
		return d.dispatchToFullsend(ctx, decision)
	case orchestrator.ActionDispatchToBuilder:
		return d.dispatchToBuilder(ctx, decision)
	case orchestrator.ActionRespondToDiscord:
		return d.respondToDiscord(ctx, decision, original)
	case orchestrator.ActionUpdateWorklist:
		return d.updateWorklist(ctx, decision)
	case orchestrator.ActionRecordLearning:
		return d.recordLearning(ctx, decision)
	case orchestrator.ActionKillExperiment:
		return d.killExperiment(ctx, decision)
	case orchestrator.ActionInitiateRoundtable:
		return d.initiateRoundtable(ctx, decision, original)
	case orchestrator.ActionNoAction:
		log.Printf("dispatcher: no_action: %s", decision.Reasoning)
		return nil
	default:
		log.Printf("dispatcher: unknown action %q, treating as no_action", decision.Action)
		return nil
	}
}

func (d *Dispatcher) dispatchToFullsend(ctx context.Context, decision orchestrator.Decision) error {
	payload := map[string]interface{}{
		"idea":      decision.Payload,
		"priority":  decision.Priority,
		"reasoning": decision.Reasoning,
	}
	if decision.ContextForFullsend != "" {
		payload["context"] = decision.ContextForFullsend
	}
	env, err := envelope.New("orchestrator", "experiment_request", payload)
	if err != nil {
		log.Printf("dispatcher: dispatch_to_fullsend: build envelope: %v", err)
		return nil
	}
	if err := d.bus.Publish(ctx, d.channels.ToFullsend, env); err != nil {
		log.Printf("dispatcher: dispatch_to_fullsend: publish: %v", err)
	}
	return nil
}

func (d *Dispatcher) dispatchToBuilder(ctx context.Context, decision orchestrator.Decision) error {
	payload := decision.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	// Un-nest payload.prd if present so the Builder doesn't receive a
	// doubly-nested {prd: {prd: {...}}} brief.
	prd := payload
	if nested, ok := payload["prd"].(map[string]interface{}); ok {
		prd = nested
	}

	outgoing := map[string]interface{}{"prd": prd}
	if notifyChannel, ok := payload["notify_channel"]; ok {
		outgoing["notify_channel"] = notifyChannel
	}
	if notifyMessage, ok := payload["notify_message"]; ok {
		outgoing["notify_message"] = notifyMessage
	}

	env, err := envelope.New("orchestrator", "tool_prd", outgoing)
	if err != nil {
		log.Printf("dispatcher: dispatch_to_builder: build envelope: %v", err)
		return nil
	}
	if err := d.bus.Publish(ctx, d.channels.BuilderTasks, env); err != nil {
		log.Printf("dispatcher: dispatch_to_builder: publish: %v", err)
	}
	return nil
}

// respondToDiscord resolves the reply channel from, in order: the
// original message's nested original_message.channel_id, its own
// channel_id, its notify_channel, the decision payload's channel_id, and
// finally the decision payload's notify_channel. No match drops the
// reply with a warning rather than guessing.
func (d *Dispatcher) respondToDiscord(ctx context.Context, decision orchestrator.Decision, original *envelope.Envelope) error {
	channelID := resolveChannelID(decision, original)
	if channelID == "" {
		log.Printf("dispatcher: respond_to_discord: no channel_id resolvable, dropping reply")
		return nil
	}

	message, _ := decision.Payload["message"].(string)
	if message == "" {
		message = decision.Reasoning
	}

	payload := map[string]interface{}{
		"channel_id": channelID,
		"message":    message,
	}
	env, err := envelope.New("orchestrator", "orchestrator_response", payload)
	if err != nil {
		log.Printf("dispatcher: respond_to_discord: build envelope: %v", err)
		return nil
	}
	if err := d.bus.Publish(ctx, d.channels.FromOrchestrator, env); err != nil {
		log.Printf("dispatcher: respond_to_discord: publish: %v", err)
	}
	return nil
}

func resolveChannelID(decision orchestrator.Decision, original *envelope.Envelope) string {
	if original != nil {
		var originalPayload map[string]interface{}
		if err := original.UnmarshalPayload(&originalPayload); err == nil {
			if nested, ok := originalPayload["original_message"].(map[string]interface{}); ok {
				if id, ok := nested["channel_id"].(string); ok && id != "" {
					return id
				}
			}
			if id, ok := originalPayload["channel_id"].(string); ok && id != "" {
				return id
			}
			if id, ok := originalPayload["notify_channel"].(string); ok && id != "" {
				return id
			}
		}
	}
	if decision.Payload != nil {
		if id, ok := decision.Payload["channel_id"].(string); ok && id != "" {
			return id
		}
		if id, ok := decision.Payload["notify_channel"].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func (d *Dispatcher) updateWorklist(ctx context.Context, decision orchestrator.Decision) error {
	content, _ := decision.Payload["content"].(string)
	if content == "" {
		log.Printf("dispatcher: update_worklist: empty content, dropping")
		return nil
	}
	if err := worklist.Overwrite(ctx, d.store, content); err != nil {
		log.Printf("dispatcher: update_worklist: %v", err)
	}
	return nil
}

func (d *Dispatcher) recordLearning(ctx context.Context, decision orchestrator.Decision) error {
	content, _ := decision.Payload["content"].(string)
	if content == "" {
		log.Printf("dispatcher: record_learning: empty content, dropping")
		return nil
	}
	if err := worklist.AppendLearning(ctx, d.store, content); err != nil {
		log.Printf("dispatcher: record_learning: %v", err)
	}
	return nil
}

func (d *Dispatcher) killExperiment(ctx context.Context, decision orchestrator.Decision) error {
	if decision.ExperimentID == "" {
		log.Printf("dispatcher: kill_experiment: no experiment_id, dropping")
		return nil
	}
	if err := experiment.Archive(ctx, d.store, decision.ExperimentID, decision.Reasoning, "orchestrator"); err != nil {
		log.Printf("dispatcher: kill_experiment: %v", err)
	}
	return nil
}

// RoundtableRequest is the stdin contract for the Roundtable subprocess.
type RoundtableRequest struct {
	Topic     string                 `json:"topic"`
	Context   map[string]interface{} `json:"context,omitempty"`
	MaxRounds int                    `json:"max_rounds,omitempty"`
}

// RoundtableResponse is the stdout contract for a successful Roundtable
// run.
type RoundtableResponse struct {
	Summary    string   `json:"summary"`
	Transcript []string `json:"transcript,omitempty"`
}

func (d *Dispatcher) initiateRoundtable(ctx context.Context, decision orchestrator.Decision, original *envelope.Envelope) error {
	if d.roundtable == nil {
		log.Printf("dispatcher: initiate_roundtable: no subprocess configured, dropping")
		return nil
	}

	topic, _ := decision.Payload["topic"].(string)
	if topic == "" {
		topic = decision.Reasoning
	}

	request := RoundtableRequest{Topic: topic, Context: decision.Payload}
	result, err := d.roundtable.Run(ctx, request)
	if err != nil {
		log.Printf("dispatcher: initiate_roundtable: %v", err)
		return nil
	}
	if result.Error != "" {
		log.Printf("dispatcher: initiate_roundtable: subprocess reported error: %s", result.Error)
		return nil
	}

	var response RoundtableResponse
	if err := json.Unmarshal(result.Output, &response); err != nil {
		log.Printf("dispatcher: initiate_roundtable: malformed subprocess output: %v", err)
		return nil
	}

	log.Printf("dispatcher: roundtable completed for %q at %s: %s", topic, time.Now().UTC().Format(time.RFC3339), response.Summary)

	channelID := resolveChannelID(decision, original)
	if channelID == "" {
		return nil
	}
	payload := map[string]interface{}{
		"channel_id": channelID,
		"message":    response.Summary,
	}
	env, err := envelope.New("orchestrator", "orchestrator_response", payload)
	if err != nil {
		log.Printf("dispatcher: initiate_roundtable: build envelope: %v", err)
		return nil
	}
	if err := d.bus.Publish(ctx, d.channels.FromOrchestrator, env); err != nil {
		log.Printf("dispatcher: initiate_roundtable: publish: %v", err)
	}
	return nil
}
