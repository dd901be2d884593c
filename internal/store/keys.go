package store

import "fmt"

// Key-building helpers centralize the fabric's key shapes in one place,
// mirroring the teacher's KeyBuilder idiom from omni/internal/common/keys.go
// adapted to this domain's flat, colon-separated Redis keys instead of a
// binary-prefixed embedded-store namespace.

func ExperimentKey(id string) string { return fmt.Sprintf("experiments:%s", id) }

func ExperimentRunKey(runID string) string { return fmt.Sprintf("experiment_runs:%s", runID) }

func MetricsKey(experimentID string) string { return fmt.Sprintf("metrics:%s", experimentID) }

func MetricsAggregatedKey(experimentID string) string {
	return fmt.Sprintf("metrics_aggregated:%s", experimentID)
}

func MetricsSpecKey(experimentID string) string {
	return fmt.Sprintf("metrics_specs:%s", experimentID)
}

func ScheduleKey(id string) string { return fmt.Sprintf("schedules:%s", id) }

func ToolKey(name string) string { return fmt.Sprintf("tools:%s", name) }

const LearningsTacticalIndexKey = "learnings:tactical:index"

// WorklistKey holds the single current worklist document, overwritten
// wholesale by update_worklist.
const WorklistKey = "fullsend:worklist"

// ProductBriefKey holds the current product brief: written by an external
// collaborator (the product/strategy process that feeds FULLSEND ideas),
// read-only from every service in this repository.
const ProductBriefKey = "fullsend:product_brief"

const ExperimentKeyPrefix = "experiments:"
