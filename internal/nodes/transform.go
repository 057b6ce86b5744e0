package nodes

import (
	"context"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

// AddFieldHandler sets a constant field on every record.
type AddFieldHandler struct{}

func (AddFieldHandler) Type() string {
	return workflow.TypeAddField
}

func (AddFieldHandler) Execute(_ context.Context, in Input) (*Result, error) {
	var cfg workflow.AddFieldConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}
	out := execution.CloneRecords(in.Records)
	for _, record := range out {
		record[cfg.Name] = cfg.Value
	}
	return &Result{Records: out}, nil
}

// FilterHandler keeps only records matching its predicate.
type FilterHandler struct{}

func (FilterHandler) Type() string {
	return workflow.TypeFilter
}

func (FilterHandler) Execute(_ context.Context, in Input) (*Result, error) {
	var cfg workflow.FilterConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}
	out := []execution.Record{}
	for _, record := range in.Records {
		if evaluate(record, cfg.Field, cfg.Operator, cfg.Value) {
			out = append(out, record)
		}
	}
	return &Result{Records: out}, nil
}

// SplitColumnsHandler projects each record onto two column sets and
// emits the projections on ports A and B.
type SplitColumnsHandler struct{}

func (SplitColumnsHandler) Type() string {
	return workflow.TypeSplitColumns
}

func (SplitColumnsHandler) Execute(_ context.Context, in Input) (*Result, error) {
	var cfg workflow.SplitColumnsConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}
	return &Result{Branches: map[string][]execution.Record{
		workflow.PortA: project(in.Records, cfg.ColumnsA),
		workflow.PortB: project(in.Records, cfg.ColumnsB),
	}}, nil
}

func project(records []execution.Record, columns []string) []execution.Record {
	if len(columns) == 0 {
		return []execution.Record{}
	}
	out := make([]execution.Record, 0, len(records))
	for _, record := range records {
		projected := make(execution.Record, len(columns))
		for _, col := range columns {
			if v, ok := record[col]; ok {
				projected[col] = v
			}
		}
		out = append(out, projected)
	}
	return out
}

// OutputHandler is the terminal node: it passes records through and
// the orchestrator captures them as the run's final output.
type OutputHandler struct{}

func (OutputHandler) Type() string {
	return workflow.TypeOutput
}

func (OutputHandler) Execute(_ context.Context, in Input) (*Result, error) {
	return &Result{Records: in.Records}, nil
}

// CommentHandler is canvas annotation; data flows through untouched.
type CommentHandler struct{}

func (CommentHandler) Type() string {
	return workflow.TypeComment
}

func (CommentHandler) Execute(_ context.Context, in Input) (*Result, error) {
	return &Result{Records: in.Records}, nil
}

// PassthroughHandler is the fallback for node types the engine does
// not know. Records flow through unchanged so an unknown node never
// breaks a run.
type PassthroughHandler struct{}

func (PassthroughHandler) Type() string {
	return "passthrough"
}

func (PassthroughHandler) Execute(_ context.Context, in Input) (*Result, error) {
	return &Result{
		Records: in.Records,
		Message: "node type not implemented yet, passing data through",
	}, nil
}
