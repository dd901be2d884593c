package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nembal/fullsend-fabric/internal/storetest"
)

func TestSend_PublishesOnce(t *testing.T) {
	s := storetest.New()
	gate := NewGate(s, "", time.Hour)
	ctx := context.Background()

	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "boom"}))
	assert.Len(t, s.Published, 1)
	assert.Equal(t, AlertsChannel, s.Published[0].Channel)
}

func TestSend_SuppressedWithinCooldown(t *testing.T) {
	s := storetest.New()
	gate := NewGate(s, "", time.Hour)
	ctx := context.Background()

	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "first"}))
	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "second"}))

	assert.Len(t, s.Published, 1, "second alert within cooldown should be suppressed")
}

func TestSend_DifferentTypeOrExperimentNotSuppressed(t *testing.T) {
	s := storetest.New()
	gate := NewGate(s, "", time.Hour)
	ctx := context.Background()

	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "a"}))
	require.NoError(t, gate.Send(ctx, Alert{Type: "success_threshold", ExperimentID: "exp-1", Message: "b"}))
	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-2", Message: "c"}))

	assert.Len(t, s.Published, 3)
}

func TestSend_AllowedAfterCooldownExpires(t *testing.T) {
	s := storetest.New()
	gate := NewGate(s, "", 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "a"}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "b"}))

	assert.Len(t, s.Published, 2)
}

func TestClearCooldown_SpecificPair(t *testing.T) {
	s := storetest.New()
	gate := NewGate(s, "", time.Hour)
	ctx := context.Background()

	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "a"}))
	gate.ClearCooldown("exp-1", "error")
	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "b"}))

	assert.Len(t, s.Published, 2)
}

func TestClearCooldown_All(t *testing.T) {
	s := storetest.New()
	gate := NewGate(s, "", time.Hour)
	ctx := context.Background()

	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "a"}))
	require.NoError(t, gate.Send(ctx, Alert{Type: "failure_threshold", ExperimentID: "exp-2", Message: "b"}))
	gate.ClearCooldown("", "")
	require.NoError(t, gate.Send(ctx, Alert{Type: "error", ExperimentID: "exp-1", Message: "c"}))
	require.NoError(t, gate.Send(ctx, Alert{Type: "failure_threshold", ExperimentID: "exp-2", Message: "d"}))

	assert.Len(t, s.Published, 4)
}

func TestDefaultCooldownUsedWhenZero(t *testing.T) {
	gate := NewGate(storetest.New(), "", 0)
	assert.Equal(t, DefaultCooldown, gate.cooldown)
}
