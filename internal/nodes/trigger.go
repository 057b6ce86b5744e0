package nodes

import (
	"context"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

// TriggerHandler seeds a run with its launch inputs. When the inputs
// carry a "records" list those become the initial stream; otherwise
// the inputs map itself becomes a single record.
type TriggerHandler struct {
	nodeType string
}

func NewTriggerHandler(nodeType string) TriggerHandler {
	return TriggerHandler{nodeType: nodeType}
}

func (h TriggerHandler) Type() string {
	return h.nodeType
}

func (h TriggerHandler) Execute(_ context.Context, in Input) (*Result, error) {
	return &Result{Records: recordsFromVariables(in.Context.Variables)}, nil
}

func recordsFromVariables(variables map[string]interface{}) []execution.Record {
	if raw, ok := variables["records"]; ok {
		if list, ok := raw.([]interface{}); ok {
			out := make([]execution.Record, 0, len(list))
			for _, item := range list {
				if m, ok := item.(map[string]interface{}); ok {
					out = append(out, execution.Record(m))
				}
			}
			return out
		}
	}
	if len(variables) > 0 {
		record := make(execution.Record, len(variables))
		for k, v := range variables {
			record[k] = v
		}
		return []execution.Record{record}
	}
	return []execution.Record{}
}

// ManualInputHandler emits the records authored in its config,
// falling back to the launch inputs.
type ManualInputHandler struct{}

func (ManualInputHandler) Type() string {
	return workflow.TypeManualInput
}

func (ManualInputHandler) Execute(_ context.Context, in Input) (*Result, error) {
	var cfg workflow.ManualInputConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Records) > 0 {
		out := make([]execution.Record, len(cfg.Records))
		for i, m := range cfg.Records {
			out[i] = execution.Record(m)
		}
		return &Result{Records: out}, nil
	}
	return &Result{Records: recordsFromVariables(in.Context.Variables)}, nil
}
