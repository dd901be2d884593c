// Package alerts implements the Alert Gate: a cooldown-deduplicated
// publisher that sits between the Metrics Monitor and the alerts channel
// so a flapping threshold or a burst of error events doesn't spam
// Discord.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nembal/fullsend-fabric/internal/store"
)

// DefaultCooldown is used when a Gate is constructed with a zero
// duration, matching the Python redis_agent's alert_cooldown_seconds
// default.
const DefaultCooldown = 300 * time.Second

// AlertsChannel is the default bus channel alerts are published to — the
// Orchestrator's inbound channel, so an alert re-enters the decision loop
// the same way a Discord message or metrics headline would. NewGate takes
// the deployed channel name explicitly; this constant is the fallback and
// the name tests assert against.
const AlertsChannel = "to_orchestrator"

// Source identifies this process as the publisher of record for alerts.
const Source = "redis_agent"

// Alert is one notification raised by the Metrics Monitor.
type Alert struct {
	Type         string `json:"type"`
	ExperimentID string `json:"experiment_id"`
	Message      string `json:"message"`
	Criterion    string `json:"criterion,omitempty"`
	Severity     string `json:"severity,omitempty"`
	Source       string `json:"source"`
	Timestamp    string `json:"timestamp"`
}

// Gate deduplicates alerts by "{experiment_id}:{type}" within a cooldown
// window, tracked in an in-memory map the way the Python module tracked
// it in a module-level dict — this process is the only writer, so a
// mutex-guarded map is sufficient without a shared store key.
type Gate struct {
	store    store.Store
	channel  string
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewGate builds a Gate publishing through s onto channel, deduplicating
// with the given cooldown. A zero cooldown falls back to DefaultCooldown;
// an empty channel falls back to AlertsChannel.
func NewGate(s store.Store, channel string, cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if channel == "" {
		channel = AlertsChannel
	}
	return &Gate{
		store:    s,
		channel:  channel,
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
	}
}

// Send publishes a to the alerts channel unless an alert of the same
// type for the same experiment was sent within the cooldown window. The
// cooldown timestamp is recorded before publishing, matching the
// Python's update-then-publish ordering so a slow publish can't let a
// second caller slip through.
func (g *Gate) Send(ctx context.Context, a Alert) error {
	key := cooldownKey(a.ExperimentID, a.Type)

	g.mu.Lock()
	if last, ok := g.lastSent[key]; ok && time.Since(last) < g.cooldown {
		g.mu.Unlock()
		log.Printf("alerts: suppressing %s for %s (cooldown)", a.Type, a.ExperimentID)
		return nil
	}
	g.lastSent[key] = time.Now()
	g.mu.Unlock()

	a.Source = Source
	a.Timestamp = time.Now().UTC().Format(time.RFC3339)

	encoded, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alerts: marshal: %w", err)
	}
	if err := g.store.Publish(ctx, g.channel, string(encoded)); err != nil {
		return fmt.Errorf("alerts: publish: %w", err)
	}
	log.Printf("alerts: sent %s for %s", a.Type, a.ExperimentID)
	return nil
}

// ClearCooldown is a test hook mirroring the Python module's
// clear_cooldown: it clears a specific experiment/type pair, every
// cooldown for an experiment, every cooldown for a type across
// experiments, or everything, depending on which arguments are non-empty.
func (g *Gate) ClearCooldown(experimentID, alertType string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if experimentID == "" && alertType == "" {
		g.lastSent = make(map[string]time.Time)
		return
	}

	for key := range g.lastSent {
		id, typ := splitCooldownKey(key)
		if experimentID != "" && id != experimentID {
			continue
		}
		if alertType != "" && typ != alertType {
			continue
		}
		delete(g.lastSent, key)
	}
}

func cooldownKey(experimentID, alertType string) string {
	return experimentID + ":" + alertType
}

func splitCooldownKey(key string) (experimentID, alertType string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
