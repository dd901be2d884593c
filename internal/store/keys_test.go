package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyShapes(t *testing.T) {
	assert.Equal(t, "experiments:exp-1", ExperimentKey("exp-1"))
	assert.Equal(t, "experiment_runs:exp-1:1700000000", ExperimentRunKey("exp-1:1700000000"))
	assert.Equal(t, "metrics:exp-1", MetricsKey("exp-1"))
	assert.Equal(t, "metrics_aggregated:exp-1", MetricsAggregatedKey("exp-1"))
	assert.Equal(t, "metrics_specs:exp-1", MetricsSpecKey("exp-1"))
	assert.Equal(t, "schedules:sched-1", ScheduleKey("sched-1"))
	assert.Equal(t, "tools:scraper", ToolKey("scraper"))
}
