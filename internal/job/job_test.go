package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_LifecycleTransitions(t *testing.T) {
	j := New("hf-1", "/in/invoice.pdf")
	assert.Equal(t, StateDiscovered, j.State())

	require.NoError(t, j.Transition(StateStable))
	require.NoError(t, j.Transition(StateProcessing))
	require.NoError(t, j.Transition(StateExporting))
	require.NoError(t, j.Transition(StateCompleted))
	require.NoError(t, j.Transition(StateArchived))
	assert.True(t, j.State().Terminal())
}

func TestJob_InvalidTransitionRejected(t *testing.T) {
	j := New("hf-1", "/in/invoice.pdf")

	err := j.Transition(StateExporting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job transition")
	// State unchanged after a rejected transition.
	assert.Equal(t, StateDiscovered, j.State())
}

func TestJob_SkippedIsTerminal(t *testing.T) {
	j := New("hf-1", "/in/a.pdf")
	require.NoError(t, j.Transition(StateStable))
	require.NoError(t, j.Transition(StateProcessing))
	require.NoError(t, j.Transition(StateExporting))
	require.NoError(t, j.Transition(StateSkipped))

	assert.True(t, j.State().Terminal())
	assert.Error(t, j.Transition(StateArchived))
}

func TestJob_ContextWriteOnce(t *testing.T) {
	j := New("hf-1", "/in/a.pdf")

	require.NoError(t, j.Set("FileName", "a"))
	err := j.Set("FileName", "b")
	require.Error(t, err)

	v, ok := j.Get("FileName")
	require.True(t, ok)
	assert.Equal(t, "a", v, "first write wins")
}

func TestJob_SnapshotIsImmutable(t *testing.T) {
	j := New("hf-1", "/in/a.pdf")
	require.NoError(t, j.Set("FileName", "a"))

	snap := j.Snapshot()
	require.NoError(t, j.Set("PageCount", "3"))

	_, ok := snap["PageCount"]
	assert.False(t, ok, "snapshot must not see later writes")
}

func TestJob_KeysInsertionOrder(t *testing.T) {
	j := New("hf-1", "/in/a.pdf")
	require.NoError(t, j.Set("B", "1"))
	require.NoError(t, j.Set("A", "2"))
	require.NoError(t, j.Set("C", "3"))

	assert.Equal(t, []string{"B", "A", "C"}, j.Keys())
}

func TestJob_Outcomes(t *testing.T) {
	j := New("hf-1", "/in/a.pdf")
	j.RecordOutcome(Outcome{DestinationID: "d1", Status: OutcomeSucceeded, Attempts: 1})
	j.RecordOutcome(Outcome{DestinationID: "d2", Status: OutcomeFailed, Attempts: 3, Err: "dial timeout"})

	got := j.Outcomes()
	require.Len(t, got, 2)
	assert.Equal(t, OutcomeSucceeded, got[0].Status)
	assert.Equal(t, OutcomeFailed, got[1].Status)
	assert.Equal(t, 3, got[1].Attempts)
}

func TestJob_BaseName(t *testing.T) {
	j := New("hf-1", "/in/invoice.2024.pdf")
	assert.Equal(t, "invoice.2024", j.BaseName())
}
