package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nembal/fullsend-fabric/internal/alerts"
	"github.com/nembal/fullsend-fabric/internal/experiment"
	"github.com/nembal/fullsend-fabric/internal/store"
	"github.com/nembal/fullsend-fabric/internal/storetest"
)

func newMonitor() (*Monitor, *storetest.Fake) {
	s := storetest.New()
	gate := alerts.NewGate(s, "", time.Hour)
	return New(s, gate), s
}

func TestProcessMetric_AppendsRawEventAndAggregates(t *testing.T) {
	m, s := newMonitor()
	ctx := context.Background()

	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{
		"experiment_id": "exp-1",
		"event":         "conversion",
		"revenue":       12.5,
	}))

	raw, err := s.LRange(ctx, store.MetricsKey("exp-1"), 0, -1)
	require.NoError(t, err)
	assert.Len(t, raw, 1)

	current, err := m.CurrentMetrics(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, current["revenue"])
	assert.Equal(t, 12.5, current["revenue_latest"])
	assert.Equal(t, 1.0, current["conversion_count"])
}

func TestProcessMetric_AveragesAcrossMultipleEvents(t *testing.T) {
	m, _ := newMonitor()
	ctx := context.Background()

	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{"experiment_id": "exp-1", "latency_ms": 100.0}))
	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{"experiment_id": "exp-1", "latency_ms": 200.0}))

	current, err := m.CurrentMetrics(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 300.0, current["latency_ms"])
	assert.Equal(t, 150.0, current["latency_ms_avg"])
	assert.Equal(t, 200.0, current["latency_ms_latest"])
}

func TestProcessMetric_ErrorEventRaisesImmediateAlert(t *testing.T) {
	m, s := newMonitor()
	ctx := context.Background()

	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{
		"experiment_id": "exp-1",
		"event":         "error",
		"message":       "tool crashed",
	}))

	require.Len(t, s.Published, 1)
	assert.Equal(t, alerts.AlertsChannel, s.Published[0].Channel)
}

func TestProcessMetric_MissingExperimentIDSkipped(t *testing.T) {
	m, s := newMonitor()
	ctx := context.Background()

	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{"event": "conversion"}))
	assert.Empty(t, s.Published)
}

func TestEvaluateCriterion_Operators(t *testing.T) {
	metrics := map[string]float64{"conversions": 10}

	assert.True(t, EvaluateCriterion("conversions > 5", metrics))
	assert.False(t, EvaluateCriterion("conversions > 50", metrics))
	assert.True(t, EvaluateCriterion("conversions >= 10", metrics))
	assert.True(t, EvaluateCriterion("conversions <= 10", metrics))
	assert.True(t, EvaluateCriterion("conversions == 10", metrics))
	assert.True(t, EvaluateCriterion("conversions != 11", metrics))
	assert.False(t, EvaluateCriterion("conversions < 5", metrics))
}

func TestEvaluateCriterion_ResolvesLatestThenAvgThenMissing(t *testing.T) {
	metrics := map[string]float64{"latency_ms_latest": 50, "errors_avg": 0.2}

	assert.True(t, EvaluateCriterion("latency_ms < 100", metrics))
	assert.True(t, EvaluateCriterion("errors < 0.5", metrics))
	assert.False(t, EvaluateCriterion("unknown_metric > 0", metrics))
}

func TestEvaluateCriterion_MalformedCriterionIsFalse(t *testing.T) {
	assert.False(t, EvaluateCriterion("not a criterion", map[string]float64{}))
	assert.False(t, EvaluateCriterion("conversions ~~ 5", map[string]float64{"conversions": 5}))
}

func TestCheckExperimentThresholds_RaisesSuccessAndFailureAlerts(t *testing.T) {
	m, s := newMonitor()
	ctx := context.Background()

	require.NoError(t, experiment.Submit(ctx, s, experiment.Submission{
		ID:              "exp-1",
		Name:            "pricing test",
		SuccessCriteria: []string{"conversion_count > 5"},
		FailureCriteria: []string{"errors > 10"},
	}))
	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{"experiment_id": "exp-1", "event": "conversion"}))
	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{"experiment_id": "exp-1", "event": "conversion"}))
	for i := 0; i < 6; i++ {
		require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{"experiment_id": "exp-1", "event": "conversion"}))
	}
	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{"experiment_id": "exp-1", "errors": 11.0}))

	exp, err := experiment.Load(ctx, s, "exp-1")
	require.NoError(t, err)

	require.NoError(t, m.CheckExperimentThresholds(ctx, exp))

	found, foundFailure := false, false
	for _, p := range s.Published {
		if p.Channel != alerts.AlertsChannel {
			continue
		}
		if strings.Contains(p.Message, `"type":"success_threshold"`) {
			found = true
		}
		if strings.Contains(p.Message, `"type":"failure_threshold"`) {
			foundFailure = true
		}
	}
	assert.True(t, found, "expected a success_threshold alert to be published")
	assert.True(t, foundFailure, "expected a failure_threshold alert to be published")
}

func TestCheckExperimentThresholds_NoAggregatesIsNoop(t *testing.T) {
	m, _ := newMonitor()
	ctx := context.Background()

	exp := experiment.Experiment{ID: "exp-unseen", SuccessCriteria: []string{"conversions > 0"}}
	require.NoError(t, m.CheckExperimentThresholds(ctx, exp))
}

func TestSendSummary_PublishesPeriodicSummaryWithActiveExperimentCount(t *testing.T) {
	m, s := newMonitor()
	ctx := context.Background()

	require.NoError(t, experiment.Submit(ctx, s, experiment.Submission{ID: "exp-1", Name: "pricing test"}))
	require.NoError(t, m.ProcessMetric(ctx, map[string]interface{}{"experiment_id": "exp-1", "event": "conversion"}))

	require.NoError(t, m.sendSummary(ctx))

	require.Len(t, s.Published, 1)
	assert.Equal(t, alerts.AlertsChannel, s.Published[0].Channel)
	assert.Contains(t, s.Published[0].Message, `"type":"periodic_summary"`)
	assert.Contains(t, s.Published[0].Message, "1 active experiment")
}

func TestSendSummary_NoActiveExperimentsStillPublishes(t *testing.T) {
	m, s := newMonitor()
	require.NoError(t, m.sendSummary(context.Background()))
	require.Len(t, s.Published, 1)
	assert.Contains(t, s.Published[0].Message, "0 active experiment")
}
