package nodes

import (
	"context"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/pkg/logger"
)

// ExecutionContext carries run scope into a handler.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	NodeName    string
	Variables   map[string]interface{}
	Logger      logger.Logger
}

// Input is everything a handler sees. Records is the merged input
// stream; Ports keeps join inputs separated by input port name.
type Input struct {
	Records []execution.Record
	Ports   map[string][]execution.Record
	Config  map[string]interface{}
	Context ExecutionContext
}

// PauseSignal tells the orchestrator to suspend the execution at this
// node and wait for an external decision.
type PauseSignal struct {
	Reason    string   `json:"reason"`
	Approvers []string `json:"approvers,omitempty"`
}

// Result is a handler's output: plain records, a per-port branch map
// (condition and split nodes), or a pause signal. At most one of
// Branches and Pause is set.
type Result struct {
	Records  []execution.Record
	Branches map[string][]execution.Record
	Pause    *PauseSignal
	Message  string
}

// Handler executes one node type. Implementations are pure with
// respect to engine state: all effects go through the context or the
// returned Result.
type Handler interface {
	Type() string
	Execute(ctx context.Context, in Input) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	NodeType string
	Fn       func(ctx context.Context, in Input) (*Result, error)
}

func (h HandlerFunc) Type() string {
	return h.NodeType
}

func (h HandlerFunc) Execute(ctx context.Context, in Input) (*Result, error) {
	return h.Fn(ctx, in)
}

// decodeConfig is shorthand used by the built-in handlers.
func decodeConfig(in Input, dst interface{}) error {
	return workflow.DecodeConfig(in.Config, dst)
}
