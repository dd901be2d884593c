package subprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_Run_Success(t *testing.T) {
	sup := New([]string{"cat"}, time.Second)
	result, err := sup.Run(context.Background(), map[string]string{"hello": "world"})
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.JSONEq(t, `{"hello":"world"}`, string(result.Output))
}

func TestSupervisor_Run_NonZeroExit(t *testing.T) {
	sup := New([]string{"sh", "-c", "echo boom >&2; exit 1"}, time.Second)
	result, err := sup.Run(context.Background(), map[string]string{})
	require.NoError(t, err)
	assert.Contains(t, result.Error, "boom")
}

func TestSupervisor_Run_Timeout(t *testing.T) {
	sup := New([]string{"sleep", "5"}, 20*time.Millisecond)
	result, err := sup.Run(context.Background(), map[string]string{})
	require.NoError(t, err)
	assert.Contains(t, result.Error, "timed out")
}

func TestSupervisor_Run_MalformedOutput(t *testing.T) {
	sup := New([]string{"echo", "not json"}, time.Second)
	result, err := sup.Run(context.Background(), map[string]string{})
	require.NoError(t, err)
	assert.Contains(t, result.Error, "invalid JSON output")
}

func TestSupervisor_Run_NoCommandConfigured(t *testing.T) {
	sup := New(nil, time.Second)
	_, err := sup.Run(context.Background(), map[string]string{})
	assert.Error(t, err)
}
