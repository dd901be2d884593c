// Package metrics implements the Metrics Monitor: ingest raw metric
// events into a per-experiment list, maintain a running aggregate hash,
// and periodically evaluate each active experiment's success/failure
// criteria against the current aggregates.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nembal/fullsend-fabric/internal/alerts"
	"github.com/nembal/fullsend-fabric/internal/experiment"
	"github.com/nembal/fullsend-fabric/internal/store"
)

// Monitor owns metric ingestion and threshold evaluation.
type Monitor struct {
	store Store
	gate  *alerts.Gate
}

// Store is the subset of store.Store the Monitor depends on, named
// locally so this package's tests can substitute storetest.Fake without a
// circular import on the concrete store package's constructor.
type Store = store.Store

// New builds a Monitor over the given Store and Alert Gate.
func New(s Store, gate *alerts.Gate) *Monitor {
	return &Monitor{store: s, gate: gate}
}

// ProcessMetric stores the raw event, updates its experiment's aggregate
// hash, and raises an immediate high-severity alert for "error" events.
func (m *Monitor) ProcessMetric(ctx context.Context, raw map[string]interface{}) error {
	expID, _ := raw["experiment_id"].(string)
	if expID == "" {
		log.Printf("metrics: event missing experiment_id, skipping")
		return nil
	}

	withTimestamp := make(map[string]interface{}, len(raw)+1)
	for k, v := range raw {
		withTimestamp[k] = v
	}
	withTimestamp["received_at"] = time.Now().UTC().Format(time.RFC3339)

	encoded, err := json.Marshal(withTimestamp)
	if err != nil {
		return fmt.Errorf("metrics: marshal event: %w", err)
	}
	if err := m.store.RPush(ctx, store.MetricsKey(expID), string(encoded)); err != nil {
		return fmt.Errorf("metrics: store raw event: %w", err)
	}

	if err := m.updateAggregations(ctx, expID, raw); err != nil {
		return err
	}

	if event, _ := raw["event"].(string); event == "error" {
		message, _ := raw["message"].(string)
		if message == "" {
			message = "Unknown error"
		}
		return m.gate.Send(ctx, alerts.Alert{
			Type:         "error",
			ExperimentID: expID,
			Message:      message,
			Severity:     "high",
		})
	}
	return nil
}

// reservedAggregationFields are never folded into the numeric aggregate,
// mirroring the Python monitor's skip-list.
var reservedAggregationFields = map[string]bool{
	"experiment_id": true,
	"event":         true,
	"timestamp":     true,
	"message":       true,
}

func (m *Monitor) updateAggregations(ctx context.Context, expID string, raw map[string]interface{}) error {
	aggKey := store.MetricsAggregatedKey(expID)

	if event, ok := raw["event"].(string); ok && event != "" {
		if err := m.store.HIncrBy(ctx, aggKey, event+"_count", 1); err != nil {
			return fmt.Errorf("metrics: increment event count: %w", err)
		}
	}

	for key, value := range raw {
		if reservedAggregationFields[key] {
			continue
		}
		num, ok := toFloat(value)
		if !ok {
			continue
		}
		if err := m.store.HIncrByFloat(ctx, aggKey, key+"_sum", num); err != nil {
			return fmt.Errorf("metrics: increment sum: %w", err)
		}
		if err := m.store.HIncrBy(ctx, aggKey, key+"_count", 1); err != nil {
			return fmt.Errorf("metrics: increment count: %w", err)
		}
		if err := m.store.HSet(ctx, aggKey, map[string]string{key + "_latest": formatFloat(num)}); err != nil {
			return fmt.Errorf("metrics: set latest: %w", err)
		}
	}

	return m.store.HSet(ctx, aggKey, map[string]string{"last_updated": time.Now().UTC().Format(time.RFC3339)})
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CurrentMetrics returns the aggregated view for an experiment: event
// counts, computed averages (sum/count), latest values, and the summed
// total under the bare metric name.
func (m *Monitor) CurrentMetrics(ctx context.Context, expID string) (map[string]float64, error) {
	raw, err := m.store.HGetAll(ctx, store.MetricsAggregatedKey(expID))
	if err != nil {
		return nil, fmt.Errorf("metrics: read aggregates: %w", err)
	}
	if len(raw) == 0 {
		return map[string]float64{}, nil
	}

	sums := make(map[string]float64)
	counts := make(map[string]float64)
	out := make(map[string]float64)

	for key, value := range raw {
		switch {
		case strings.HasSuffix(key, "_sum"):
			base := strings.TrimSuffix(key, "_sum")
			sums[base], _ = strconv.ParseFloat(value, 64)
		case strings.HasSuffix(key, "_count"):
			base := strings.TrimSuffix(key, "_count")
			n, _ := strconv.ParseFloat(value, 64)
			if _, hasSum := raw[base+"_sum"]; hasSum {
				counts[base] = n
			} else {
				out[key] = n
			}
		case strings.HasSuffix(key, "_latest"):
			base := strings.TrimSuffix(key, "_latest")
			out[base+"_latest"], _ = strconv.ParseFloat(value, 64)
		}
	}

	for name, sum := range sums {
		if count, ok := counts[name]; ok && count > 0 {
			out[name+"_avg"] = sum / count
		}
		out[name] = sum
	}

	return out, nil
}

// EvaluateCriterion parses "metric_name OP threshold" (operators >, <, >=,
// <=, ==, !=) and evaluates it against metrics, resolving the metric value
// in order: exact key, then "_latest", then "_avg", missing counts as
// false.
func EvaluateCriterion(criterion string, metrics map[string]float64) bool {
	parts := strings.Fields(criterion)
	if len(parts) != 3 {
		log.Printf("metrics: invalid criterion format: %q", criterion)
		return false
	}

	name, op, thresholdStr := parts[0], parts[1], parts[2]
	threshold, err := strconv.ParseFloat(thresholdStr, 64)
	if err != nil {
		log.Printf("metrics: invalid threshold in criterion %q", criterion)
		return false
	}

	value, ok := resolveValue(name, metrics)
	if !ok {
		return false
	}

	switch op {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		log.Printf("metrics: unknown operator in criterion: %q", op)
		return false
	}
}

func resolveValue(name string, metrics map[string]float64) (float64, bool) {
	if v, ok := metrics[name]; ok {
		return v, true
	}
	if v, ok := metrics[name+"_latest"]; ok {
		return v, true
	}
	if v, ok := metrics[name+"_avg"]; ok {
		return v, true
	}
	return 0, false
}

// CheckExperimentThresholds evaluates exp's success and failure criteria
// against its current aggregates and raises alerts for every crossed
// criterion.
func (m *Monitor) CheckExperimentThresholds(ctx context.Context, exp experiment.Experiment) error {
	current, err := m.CurrentMetrics(ctx, exp.ID)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return nil
	}

	for _, criterion := range exp.SuccessCriteria {
		if EvaluateCriterion(criterion, current) {
			if err := m.gate.Send(ctx, alerts.Alert{
				Type:         "success_threshold",
				ExperimentID: exp.ID,
				Criterion:    criterion,
				Message:      fmt.Sprintf("Experiment %s hit success: %s", exp.ID, criterion),
			}); err != nil {
				return err
			}
		}
	}

	for _, criterion := range exp.FailureCriteria {
		if EvaluateCriterion(criterion, current) {
			if err := m.gate.Send(ctx, alerts.Alert{
				Type:         "failure_threshold",
				ExperimentID: exp.ID,
				Criterion:    criterion,
				Message:      fmt.Sprintf("Experiment %s hit failure: %s", exp.ID, criterion),
				Severity:     "high",
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// RunSummaryLoop periodically raises a periodic_summary alert covering
// every active experiment's current aggregate counts, until ctx is
// canceled. Routed through the same Gate as threshold alerts so it shares
// cooldown bookkeeping and re-enters the Orchestrator's decision loop
// exactly like any other alert.
func (m *Monitor) RunSummaryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("metrics: starting periodic summary loop (interval=%s)", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sendSummary(ctx); err != nil {
				log.Printf("metrics: error sending periodic summary: %v", err)
			}
		}
	}
}

func (m *Monitor) sendSummary(ctx context.Context) error {
	experiments, err := experiment.ListActive(ctx, m.store)
	if err != nil {
		return fmt.Errorf("metrics: list active experiments: %w", err)
	}

	message := fmt.Sprintf("%d active experiment(s)", len(experiments))
	for _, exp := range experiments {
		current, err := m.CurrentMetrics(ctx, exp.ID)
		if err != nil {
			continue
		}
		message += fmt.Sprintf("; %s: %d metric(s)", exp.ID, len(current))
	}

	return m.gate.Send(ctx, alerts.Alert{
		Type:    "periodic_summary",
		Message: message,
	})
}

// RunThresholdLoop periodically loads every active experiment and checks
// its thresholds, until ctx is canceled.
func (m *Monitor) RunThresholdLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("metrics: starting threshold checking loop (interval=%s)", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			experiments, err := experiment.ListActive(ctx, m.store)
			if err != nil {
				log.Printf("metrics: error listing active experiments: %v", err)
				continue
			}
			for _, exp := range experiments {
				if err := m.CheckExperimentThresholds(ctx, exp); err != nil {
					log.Printf("metrics: error checking thresholds for %s: %v", exp.ID, err)
				}
			}
		}
	}
}
