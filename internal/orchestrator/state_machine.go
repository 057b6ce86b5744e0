package orchestrator

import (
	"sync"
	"time"

	"github.com/canvasflow/engine/internal/domain/execution"
)

// validTransitions is the whole execution state machine. Anything not
// listed raises IllegalTransitionError.
var validTransitions = map[string]map[string]bool{
	execution.StatusPending: {
		execution.StatusRunning:   true,
		execution.StatusCancelled: true,
	},
	execution.StatusRunning: {
		execution.StatusPaused:    true,
		execution.StatusCompleted: true,
		execution.StatusFailed:    true,
		execution.StatusCancelled: true,
	},
	execution.StatusPaused: {
		execution.StatusRunning:   true,
		execution.StatusFailed:    true,
		execution.StatusCancelled: true,
	},
}

type transitionRecord struct {
	From      string
	To        string
	Reason    string
	Timestamp time.Time
}

// stateMachine guards one execution's status. It is the only place a
// status string is allowed to change.
type stateMachine struct {
	mu      sync.Mutex
	current string
	history []transitionRecord
}

func newStateMachine(initial string) *stateMachine {
	if initial == "" {
		initial = execution.StatusPending
	}
	return &stateMachine{current: initial}
}

func (sm *stateMachine) Current() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

func (sm *stateMachine) CanTransition(to string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return validTransitions[sm.current][to]
}

func (sm *stateMachine) Transition(to, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !validTransitions[sm.current][to] {
		return &execution.IllegalTransitionError{From: sm.current, To: to}
	}
	sm.history = append(sm.history, transitionRecord{
		From:      sm.current,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	sm.current = to
	return nil
}

func (sm *stateMachine) History() []transitionRecord {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]transitionRecord(nil), sm.history...)
}
