package nodes

import (
	"context"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

// ConditionHandler routes records to the "true" or "false" port.
//
// In perRow mode every record is evaluated independently and the two
// output sets partition the input. In batch mode the first record
// decides, and the whole input set goes to that branch.
type ConditionHandler struct{}

func (ConditionHandler) Type() string {
	return workflow.TypeCondition
}

func (ConditionHandler) Execute(_ context.Context, in Input) (*Result, error) {
	var cfg workflow.ConditionConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}
	mode := cfg.Mode
	if mode == "" {
		mode = workflow.ModeBatch
	}

	if mode == workflow.ModeBatch {
		matched := false
		if len(in.Records) > 0 {
			matched = evaluate(in.Records[0], cfg.Field, cfg.Operator, cfg.Value)
		}
		port := workflow.PortFalse
		if matched {
			port = workflow.PortTrue
		}
		return &Result{Branches: map[string][]execution.Record{
			port: execution.CloneRecords(in.Records),
		}}, nil
	}

	trueSet := []execution.Record{}
	falseSet := []execution.Record{}
	for _, record := range in.Records {
		if evaluate(record, cfg.Field, cfg.Operator, cfg.Value) {
			trueSet = append(trueSet, record)
		} else {
			falseSet = append(falseSet, record)
		}
	}
	return &Result{Branches: map[string][]execution.Record{
		workflow.PortTrue:  trueSet,
		workflow.PortFalse: falseSet,
	}}, nil
}
