package nodes

import (
	"context"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

// JoinHandler merges the A and B input ports into one record set. A
// missing side is treated as empty; join results do not depend on
// which side arrived first.
type JoinHandler struct{}

func (JoinHandler) Type() string {
	return workflow.TypeJoin
}

func (JoinHandler) Execute(_ context.Context, in Input) (*Result, error) {
	var cfg workflow.JoinConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}

	sideA := in.Ports[workflow.PortA]
	sideB := in.Ports[workflow.PortB]

	if cfg.Strategy == workflow.JoinMergeByKey {
		return &Result{Records: mergeByKey(sideA, sideB, cfg.Key, cfg.MergeMode)}, nil
	}

	// concat: A then B, sizes add up.
	out := make([]execution.Record, 0, len(sideA)+len(sideB))
	out = append(out, execution.CloneRecords(sideA)...)
	out = append(out, execution.CloneRecords(sideB)...)
	return &Result{Records: out}, nil
}

// mergeByKey joins rows whose key fields are equal. B's fields win on
// collision. Inner mode keeps only matched A rows; outer mode keeps
// unmatched A rows as-is.
func mergeByKey(sideA, sideB []execution.Record, key, mode string) []execution.Record {
	if mode == "" {
		mode = workflow.MergeInner
	}

	// First B row per key wins; duplicates on the B side never fan out
	// an A row into multiple outputs.
	byKey := make(map[string]execution.Record, len(sideB))
	for _, b := range sideB {
		k := asString(b[key])
		if _, ok := byKey[k]; !ok {
			byKey[k] = b
		}
	}

	out := []execution.Record{}
	for _, a := range sideA {
		b, ok := byKey[asString(a[key])]
		if !ok {
			if mode == workflow.MergeOuter {
				out = append(out, execution.CloneRecords([]execution.Record{a})[0])
			}
			continue
		}
		merged := make(execution.Record, len(a)+len(b))
		for k, v := range a {
			merged[k] = v
		}
		for k, v := range b {
			merged[k] = v
		}
		out = append(out, merged)
	}
	return out
}
