package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/engine/internal/domain/execution"
)

func TestStateMachineHappyPath(t *testing.T) {
	sm := newStateMachine("")
	require.Equal(t, execution.StatusPending, sm.Current())

	require.NoError(t, sm.Transition(execution.StatusRunning, "started"))
	require.NoError(t, sm.Transition(execution.StatusPaused, "approval"))
	require.NoError(t, sm.Transition(execution.StatusRunning, "approved"))
	require.NoError(t, sm.Transition(execution.StatusCompleted, "done"))

	history := sm.History()
	require.Len(t, history, 4)
	assert.Equal(t, execution.StatusPending, history[0].From)
	assert.Equal(t, execution.StatusCompleted, history[3].To)
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{execution.StatusPending, execution.StatusCompleted},
		{execution.StatusPending, execution.StatusPaused},
		{execution.StatusCompleted, execution.StatusRunning},
		{execution.StatusFailed, execution.StatusRunning},
		{execution.StatusCancelled, execution.StatusPending},
		{execution.StatusPaused, execution.StatusCompleted},
	}
	for _, tc := range cases {
		sm := newStateMachine(tc.from)
		err := sm.Transition(tc.to, "")
		var illegal *execution.IllegalTransitionError
		require.ErrorAs(t, err, &illegal, "%s -> %s must be refused", tc.from, tc.to)
		assert.Equal(t, tc.from, illegal.From)
		assert.Equal(t, tc.to, illegal.To)
		assert.Equal(t, tc.from, sm.Current(), "state must not change on refusal")
	}
}

func TestStateMachinePausedOutcomes(t *testing.T) {
	for _, to := range []string{execution.StatusRunning, execution.StatusFailed, execution.StatusCancelled} {
		sm := newStateMachine(execution.StatusPaused)
		assert.True(t, sm.CanTransition(to), "paused -> %s", to)
	}
}
