package experiment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nembal/fullsend-fabric/internal/storetest"
)

func TestSubmitLeavesStateUnsetAndIsActive(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()

	require.NoError(t, Submit(ctx, s, Submission{ID: "exp-1", Name: "landing page copy", Tool: "scraper"}))

	exp, err := Load(ctx, s, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, State(""), exp.State)
	assert.True(t, exp.IsActive())
	assert.Equal(t, "scraper", exp.Tool)
}

func TestTransition_ActiveToRunningToRun(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, Submit(ctx, s, Submission{ID: "exp-2", Name: "x"}))

	require.NoError(t, Transition(ctx, s, "exp-2", StateRunning))
	require.NoError(t, Transition(ctx, s, "exp-2", StateRun))

	exp, err := Load(ctx, s, "exp-2")
	require.NoError(t, err)
	assert.Equal(t, StateRun, exp.State)
	assert.False(t, exp.IsActive())
}

func TestTransition_InvalidEdgeRejected(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, Submit(ctx, s, Submission{ID: "exp-3", Name: "x"}))

	err := Transition(ctx, s, "exp-3", StateRun)
	assert.Error(t, err)
}

func TestArchive_ReachableFromAnyStateAndTerminal(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, Submit(ctx, s, Submission{ID: "exp-4", Name: "x"}))
	require.NoError(t, Transition(ctx, s, "exp-4", StateRunning))

	require.NoError(t, Archive(ctx, s, "exp-4", "no signal", "orchestrator"))

	exp, err := Load(ctx, s, "exp-4")
	require.NoError(t, err)
	assert.Equal(t, StateArchived, exp.State)

	err = Transition(ctx, s, "exp-4", StateRunning)
	assert.Error(t, err, "archived must be terminal")
}

func TestListActive_ExcludesArchivedAndFailed(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, Submit(ctx, s, Submission{ID: "exp-5", Name: "blank"}))
	require.NoError(t, Submit(ctx, s, Submission{ID: "exp-6", Name: "running"}))
	require.NoError(t, Transition(ctx, s, "exp-6", StateRunning))
	require.NoError(t, Submit(ctx, s, Submission{ID: "exp-7", Name: "archived"}))
	require.NoError(t, Archive(ctx, s, "exp-7", "done", "orchestrator"))
	require.NoError(t, Submit(ctx, s, Submission{ID: "exp-8", Name: "failed"}))
	require.NoError(t, Transition(ctx, s, "exp-8", StateRunning))
	require.NoError(t, Transition(ctx, s, "exp-8", StateFailed))

	active, err := ListActive(ctx, s)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, e := range active {
		ids[e.ID] = true
	}
	assert.True(t, ids["exp-5"])
	assert.True(t, ids["exp-6"])
	assert.False(t, ids["exp-7"])
	assert.False(t, ids["exp-8"])
}
