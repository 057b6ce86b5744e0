package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

func TestAddField(t *testing.T) {
	in := Input{
		Records: []execution.Record{{"x": 1}, {"x": 2}},
		Config:  map[string]interface{}{"name": "source", "value": "import"},
	}
	result, err := AddFieldHandler{}.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "import", result.Records[0]["source"])
	assert.Equal(t, "import", result.Records[1]["source"])

	// input untouched
	_, present := in.Records[0]["source"]
	assert.False(t, present)
}

func TestFilter(t *testing.T) {
	in := Input{
		Records: []execution.Record{
			{"status": "active"},
			{"status": "archived"},
			{"status": "active"},
		},
		Config: map[string]interface{}{"field": "status", "operator": workflow.OpEquals, "value": "active"},
	}
	result, err := FilterHandler{}.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
}

func TestSplitColumns(t *testing.T) {
	in := Input{
		Records: []execution.Record{
			{"id": 1, "name": "alice", "email": "a@example.com", "score": 9},
		},
		Config: map[string]interface{}{
			"columnsA": []string{"id", "name"},
			"columnsB": []string{"id", "email"},
		},
	}
	result, err := SplitColumnsHandler{}.Execute(context.Background(), in)
	require.NoError(t, err)

	sideA := result.Branches[workflow.PortA]
	sideB := result.Branches[workflow.PortB]
	require.Len(t, sideA, 1)
	require.Len(t, sideB, 1)
	assert.Equal(t, execution.Record{"id": 1, "name": "alice"}, sideA[0])
	assert.Equal(t, execution.Record{"id": 1, "email": "a@example.com"}, sideB[0])
}

func TestTriggerSeedsFromVariables(t *testing.T) {
	h := NewTriggerHandler(workflow.TypeTrigger)

	result, err := h.Execute(context.Background(), Input{
		Context: ExecutionContext{Variables: map[string]interface{}{"amount": 150}},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 150, result.Records[0]["amount"])

	result, err = h.Execute(context.Background(), Input{
		Context: ExecutionContext{Variables: map[string]interface{}{
			"records": []interface{}{
				map[string]interface{}{"id": 1},
				map[string]interface{}{"id": 2},
			},
		}},
	})
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)

	result, err = h.Execute(context.Background(), Input{})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
}

func TestManualInputPrefersConfigRecords(t *testing.T) {
	result, err := ManualInputHandler{}.Execute(context.Background(), Input{
		Config: map[string]interface{}{
			"records": []map[string]interface{}{{"seed": true}},
		},
		Context: ExecutionContext{Variables: map[string]interface{}{"other": 1}},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, true, result.Records[0]["seed"])
}

func TestHumanApprovalPauses(t *testing.T) {
	result, err := HumanApprovalHandler{}.Execute(context.Background(), Input{
		Config: map[string]interface{}{"message": "sign off", "approvers": []string{"ops"}},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Pause)
	assert.Equal(t, "sign off", result.Pause.Reason)
	assert.Equal(t, []string{"ops"}, result.Pause.Approvers)
}

func TestPassthroughKeepsRecords(t *testing.T) {
	records := []execution.Record{{"x": 1}}
	result, err := PassthroughHandler{}.Execute(context.Background(), Input{Records: records})
	require.NoError(t, err)
	assert.Equal(t, records, result.Records)
	assert.NotEmpty(t, result.Message)
}

func TestRegistryFallback(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinDeps{
		Generator: GeneratorFunc(func(ctx context.Context, model, prompt string) (string, error) {
			return prompt, nil
		}),
	}))

	h, ok := r.Get(workflow.TypeCondition)
	require.True(t, ok)
	assert.Equal(t, workflow.TypeCondition, h.Type())

	h, ok = r.Get("brandNewNodeKind")
	require.True(t, ok)
	assert.Equal(t, "passthrough", h.Type())

	err := r.Register(ConditionHandler{})
	assert.Error(t, err, "double registration is rejected")
}

func TestLLMRendersPromptPerRecord(t *testing.T) {
	h := NewLLMHandler(GeneratorFunc(func(ctx context.Context, model, prompt string) (string, error) {
		return "summary of " + prompt, nil
	}))

	result, err := h.Execute(context.Background(), Input{
		Records: []execution.Record{{"title": "q3 report"}, {"title": "roadmap"}},
		Config: map[string]interface{}{
			"prompt":      "summarize {{title}}",
			"outputField": "summary",
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "summary of summarize q3 report", result.Records[0]["summary"])
	assert.Equal(t, "summary of summarize roadmap", result.Records[1]["summary"])
}
