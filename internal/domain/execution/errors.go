package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrGraphInvalid wraps any structural or config problem caught at
	// graph load. Never retried.
	ErrGraphInvalid = errors.New("workflow graph invalid")

	// ErrNodeHandlerMissing means no handler is registered for a job's
	// type. The job fails immediately without retry.
	ErrNodeHandlerMissing = errors.New("no handler registered for node type")

	// ErrApprovalRejected is the terminal outcome of a declined human
	// approval.
	ErrApprovalRejected = errors.New("Rejected by user")

	ErrExecutionNotFound = errors.New("execution not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrNotPaused         = errors.New("execution is not paused")
)

// NodeError marks a node's failure as the cause of an execution
// failure.
type NodeError struct {
	NodeID string
	Cause  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Cause)
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}

// IllegalTransitionError identifies a state machine violation.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal execution transition from %s to %s", e.From, e.To)
}

// TimeoutError marks a node whose handler exceeded its deadline.
// Timeouts are terminal and never retried.
type TimeoutError struct {
	NodeID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out", e.NodeID)
}
