package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nembal/fullsend-fabric/internal/bus"
	"github.com/nembal/fullsend-fabric/internal/envelope"
	"github.com/nembal/fullsend-fabric/internal/experiment"
	"github.com/nembal/fullsend-fabric/internal/orchestrator"
	"github.com/nembal/fullsend-fabric/internal/storetest"
	"github.com/nembal/fullsend-fabric/internal/subprocess"
)

type fakeBus struct {
	published []publishedEnvelope
}

type publishedEnvelope struct {
	channel string
	env     *envelope.Envelope
}

func (f *fakeBus) Publish(ctx context.Context, channel string, env *envelope.Envelope) error {
	f.published = append(f.published, publishedEnvelope{channel: channel, env: env})
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan *envelope.Envelope, error) {
	ch := make(chan *envelope.Envelope)
	close(ch)
	return ch, nil
}

func (f *fakeBus) Close() error { return nil }

var _ bus.Bus = (*fakeBus)(nil)

func testChannels() Channels {
	return Channels{
		ToFullsend:       "fullsend:to_fullsend",
		BuilderTasks:     "fullsend:builder_tasks",
		FromOrchestrator: "fullsend:from_orchestrator",
	}
}

func TestDispatchToFullsend_PublishesExperimentRequest(t *testing.T) {
	b := &fakeBus{}
	d := New(b, storetest.New(), nil, testChannels())

	decision := orchestrator.Decision{
		Action:    orchestrator.ActionDispatchToFullsend,
		Reasoning: "worth testing",
		Priority:  orchestrator.PriorityHigh,
		Payload:   map[string]interface{}{"headline": "try a new CTA"},
	}

	require.NoError(t, d.Execute(context.Background(), decision, nil))
	require.Len(t, b.published, 1)
	assert.Equal(t, "fullsend:to_fullsend", b.published[0].channel)
	assert.Equal(t, "experiment_request", b.published[0].env.Type)
}

func TestDispatchToBuilder_UnnestsPRD(t *testing.T) {
	b := &fakeBus{}
	d := New(b, storetest.New(), nil, testChannels())

	decision := orchestrator.Decision{
		Action: orchestrator.ActionDispatchToBuilder,
		Payload: map[string]interface{}{
			"prd":            map[string]interface{}{"title": "scraper tool"},
			"notify_channel": "C123",
		},
	}

	require.NoError(t, d.Execute(context.Background(), decision, nil))
	require.Len(t, b.published, 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(b.published[0].env.Payload, &payload))
	prd, ok := payload["prd"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "scraper tool", prd["title"])
	assert.NotContains(t, prd, "prd", "PRD must be unnested, not doubly-wrapped")
	assert.Equal(t, "C123", payload["notify_channel"])
}

func TestRespondToDiscord_ChannelIDFallbackChain(t *testing.T) {
	b := &fakeBus{}
	d := New(b, storetest.New(), nil, testChannels())

	decision := orchestrator.Decision{
		Action:  orchestrator.ActionRespondToDiscord,
		Payload: map[string]interface{}{"message": "still working on it", "notify_channel": "fallback-channel"},
	}

	require.NoError(t, d.Execute(context.Background(), decision, nil))
	require.Len(t, b.published, 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(b.published[0].env.Payload, &payload))
	assert.Equal(t, "fallback-channel", payload["channel_id"])
}

func TestRespondToDiscord_PrefersOriginalMessageChannelID(t *testing.T) {
	b := &fakeBus{}
	d := New(b, storetest.New(), nil, testChannels())

	original, err := envelope.New("watcher", "discord_message", map[string]interface{}{
		"original_message": map[string]interface{}{"channel_id": "original-channel"},
		"channel_id":       "should-not-win",
	})
	require.NoError(t, err)

	decision := orchestrator.Decision{
		Action:  orchestrator.ActionRespondToDiscord,
		Payload: map[string]interface{}{"message": "hi"},
	}

	require.NoError(t, d.Execute(context.Background(), decision, original))
	require.Len(t, b.published, 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(b.published[0].env.Payload, &payload))
	assert.Equal(t, "original-channel", payload["channel_id"])
}

func TestRespondToDiscord_NoChannelIDDropsReply(t *testing.T) {
	b := &fakeBus{}
	d := New(b, storetest.New(), nil, testChannels())

	decision := orchestrator.Decision{Action: orchestrator.ActionRespondToDiscord, Payload: map[string]interface{}{"message": "hi"}}

	require.NoError(t, d.Execute(context.Background(), decision, nil))
	assert.Empty(t, b.published)
}

func TestKillExperiment_ArchivesWithReason(t *testing.T) {
	s := storetest.New()
	d := New(&fakeBus{}, s, nil, testChannels())
	ctx := context.Background()

	require.NoError(t, experiment.Submit(ctx, s, experiment.Submission{ID: "exp-1", Name: "x"}))

	decision := orchestrator.Decision{
		Action:       orchestrator.ActionKillExperiment,
		ExperimentID: "exp-1",
		Reasoning:    "no signal after a week",
	}
	require.NoError(t, d.Execute(ctx, decision, nil))

	exp, err := experiment.Load(ctx, s, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, experiment.StateArchived, exp.State)
}

func TestKillExperiment_NoExperimentIDIsNoop(t *testing.T) {
	s := storetest.New()
	d := New(&fakeBus{}, s, nil, testChannels())

	decision := orchestrator.Decision{Action: orchestrator.ActionKillExperiment}
	require.NoError(t, d.Execute(context.Background(), decision, nil))
}

func TestNoAction_DoesNothing(t *testing.T) {
	b := &fakeBus{}
	d := New(b, storetest.New(), nil, testChannels())

	decision := orchestrator.Decision{Action: orchestrator.ActionNoAction, Reasoning: "nothing to do"}
	require.NoError(t, d.Execute(context.Background(), decision, nil))
	assert.Empty(t, b.published)
}

func TestUpdateWorklist_OverwritesDocument(t *testing.T) {
	s := storetest.New()
	d := New(&fakeBus{}, s, nil, testChannels())
	ctx := context.Background()

	decision := orchestrator.Decision{
		Action:  orchestrator.ActionUpdateWorklist,
		Payload: map[string]interface{}{"content": "ship the new landing page"},
	}
	require.NoError(t, d.Execute(ctx, decision, nil))

	content, _, err := s.HGet(ctx, "fullsend:worklist", "content")
	require.NoError(t, err)
	assert.Equal(t, "ship the new landing page", content)
}

func TestRecordLearning_AppendsToIndex(t *testing.T) {
	s := storetest.New()
	d := New(&fakeBus{}, s, nil, testChannels())
	ctx := context.Background()

	decision := orchestrator.Decision{
		Action:  orchestrator.ActionRecordLearning,
		Payload: map[string]interface{}{"content": "discount codes outperform free trials"},
	}
	require.NoError(t, d.Execute(ctx, decision, nil))

	entries, err := s.ZRevRange(ctx, "learnings:tactical:index", 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "discount codes outperform free trials")
}

func TestInitiateRoundtable_NoSupervisorConfiguredIsNoop(t *testing.T) {
	d := New(&fakeBus{}, storetest.New(), nil, testChannels())
	decision := orchestrator.Decision{Action: orchestrator.ActionInitiateRoundtable, Payload: map[string]interface{}{"topic": "pivot?"}}
	require.NoError(t, d.Execute(context.Background(), decision, nil))
}

func TestInitiateRoundtable_PublishesSummaryToResolvedChannel(t *testing.T) {
	b := &fakeBus{}
	roundtable := subprocess.New([]string{"echo", `{"summary":"ship the discount code test","transcript":["pm: agreed"]}`}, time.Second)
	d := New(b, storetest.New(), roundtable, testChannels())

	decision := orchestrator.Decision{
		Action:  orchestrator.ActionInitiateRoundtable,
		Payload: map[string]interface{}{"topic": "pivot?", "channel_id": "strategy-channel"},
	}

	require.NoError(t, d.Execute(context.Background(), decision, nil))
	require.Len(t, b.published, 1)
	assert.Equal(t, "fullsend:from_orchestrator", b.published[0].channel)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(b.published[0].env.Payload, &payload))
	assert.Equal(t, "strategy-channel", payload["channel_id"])
	assert.Equal(t, "ship the discount code test", payload["message"])
}

func TestInitiateRoundtable_NoResolvableChannelDropsReplySilently(t *testing.T) {
	b := &fakeBus{}
	roundtable := subprocess.New([]string{"echo", `{"summary":"no consensus"}`}, time.Second)
	d := New(b, storetest.New(), roundtable, testChannels())

	decision := orchestrator.Decision{Action: orchestrator.ActionInitiateRoundtable, Payload: map[string]interface{}{"topic": "pivot?"}}
	require.NoError(t, d.Execute(context.Background(), decision, nil))
	assert.Empty(t, b.published)
}
