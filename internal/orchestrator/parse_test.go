package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDecision_RawJSON(t *testing.T) {
	d := ParseDecision(`{"action":"no_action","reasoning":"nothing to do","payload":{},"priority":"low"}`)
	assert.Equal(t, ActionNoAction, d.Action)
	assert.Equal(t, PriorityLow, d.Priority)
}

func TestParseDecision_FencedJSON(t *testing.T) {
	d := ParseDecision("Here is my decision:\n```json\n{\"action\":\"respond_to_discord\",\"reasoning\":\"r\",\"payload\":{\"content\":\"hi\"},\"priority\":\"medium\"}\n```")
	assert.Equal(t, ActionRespondToDiscord, d.Action)
	assert.Equal(t, "hi", d.Payload["content"])
}

func TestParseDecision_EmptyText(t *testing.T) {
	d := ParseDecision("")
	assert.Equal(t, ActionNoAction, d.Action)
	assert.Equal(t, PriorityLow, d.Priority)
}

func TestParseDecision_InvalidAction(t *testing.T) {
	d := ParseDecision(`{"action":"launch_missiles","reasoning":"r","payload":{},"priority":"low"}`)
	assert.Equal(t, ActionNoAction, d.Action)
}

func TestParseDecision_KillExperimentExtractsID(t *testing.T) {
	d := ParseDecision(`{"action":"kill_experiment","reasoning":"failing","payload":{"experiment_id":"exp-7"},"priority":"high"}`)
	assert.Equal(t, ActionKillExperiment, d.Action)
	assert.Equal(t, "exp-7", d.ExperimentID)
}

func TestParseDecision_MalformedJSONFallsBack(t *testing.T) {
	d := ParseDecision("{not valid json")
	assert.Equal(t, ActionNoAction, d.Action)
	assert.Equal(t, PriorityLow, d.Priority)
}
