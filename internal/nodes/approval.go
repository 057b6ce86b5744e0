package nodes

import (
	"context"

	"github.com/canvasflow/engine/internal/domain/workflow"
)

// HumanApprovalHandler never produces records on its own: it asks the
// orchestrator to pause the run. After approval the orchestrator
// passes the node's input snapshot through to its successors.
type HumanApprovalHandler struct{}

func (HumanApprovalHandler) Type() string {
	return workflow.TypeHumanApproval
}

func (HumanApprovalHandler) Execute(_ context.Context, in Input) (*Result, error) {
	var cfg workflow.HumanApprovalConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}
	reason := cfg.Message
	if reason == "" {
		reason = "waiting for approval"
	}
	return &Result{Pause: &PauseSignal{Reason: reason, Approvers: cfg.Approvers}}, nil
}
