package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

func conditionInput(records []execution.Record, field, op string, value interface{}, mode string) Input {
	return Input{
		Records: records,
		Config: map[string]interface{}{
			"field":    field,
			"operator": op,
			"value":    value,
			"mode":     mode,
		},
	}
}

func TestConditionPerRowPartitions(t *testing.T) {
	records := []execution.Record{
		{"amount": 150},
		{"amount": 50},
		{"amount": 200},
		{"amount": 99},
		{"amount": 101},
	}

	result, err := ConditionHandler{}.Execute(context.Background(),
		conditionInput(records, "amount", workflow.OpGreaterThan, 100, workflow.ModePerRow))
	require.NoError(t, err)
	require.NotNil(t, result.Branches)

	trueSet := result.Branches[workflow.PortTrue]
	falseSet := result.Branches[workflow.PortFalse]
	assert.Len(t, trueSet, 3)
	assert.Len(t, falseSet, 2)
	assert.Equal(t, len(records), len(trueSet)+len(falseSet), "partition sizes must sum to the input size")

	for _, r := range trueSet {
		for _, f := range falseSet {
			assert.NotEqual(t, r["amount"], f["amount"], "no record may land on both branches")
		}
	}
}

func TestConditionBatchRoutesWholeSet(t *testing.T) {
	records := []execution.Record{
		{"amount": 10},
		{"amount": 150},
	}

	// The first record decides the branch; a later match does not
	// flip the batch to true.
	result, err := ConditionHandler{}.Execute(context.Background(),
		conditionInput(records, "amount", workflow.OpGreaterThan, 100, workflow.ModeBatch))
	require.NoError(t, err)

	assert.Len(t, result.Branches[workflow.PortFalse], 2)
	assert.NotContains(t, result.Branches, workflow.PortTrue)

	result, err = ConditionHandler{}.Execute(context.Background(),
		conditionInput(records, "amount", workflow.OpGreaterThan, 5, workflow.ModeBatch))
	require.NoError(t, err)
	assert.Len(t, result.Branches[workflow.PortTrue], 2, "a matching first record routes the whole batch to true")
	assert.NotContains(t, result.Branches, workflow.PortFalse)
}

func TestConditionDefaultsToBatch(t *testing.T) {
	records := []execution.Record{{"name": "a"}, {"name": ""}}
	result, err := ConditionHandler{}.Execute(context.Background(),
		conditionInput(records, "name", workflow.OpIsNotEmpty, nil, ""))
	require.NoError(t, err)
	assert.Len(t, result.Branches[workflow.PortTrue], 2)
	assert.NotContains(t, result.Branches, workflow.PortFalse)
}

func TestConditionEmptyInput(t *testing.T) {
	result, err := ConditionHandler{}.Execute(context.Background(),
		conditionInput(nil, "amount", workflow.OpGreaterThan, 100, workflow.ModePerRow))
	require.NoError(t, err)
	assert.Empty(t, result.Branches[workflow.PortTrue])
	assert.Empty(t, result.Branches[workflow.PortFalse])
}

func TestEvaluateOperators(t *testing.T) {
	record := execution.Record{
		"amount": 150.0,
		"name":   "acme corp",
		"tags":   []interface{}{"beta", "priority"},
		"empty":  "",
	}

	tests := []struct {
		field    string
		operator string
		value    interface{}
		want     bool
	}{
		{"amount", workflow.OpEquals, 150, true},
		{"amount", workflow.OpEquals, "150", true},
		{"amount", workflow.OpNotEquals, 100, true},
		{"amount", workflow.OpGreaterThan, 100, true},
		{"amount", workflow.OpGreaterThan, 150, false},
		{"amount", workflow.OpLessThan, 200, true},
		{"name", workflow.OpContains, "acme", true},
		{"name", workflow.OpContains, "globex", false},
		{"tags", workflow.OpContains, "beta", true},
		{"tags", workflow.OpContains, "alpha", false},
		{"empty", workflow.OpIsEmpty, nil, true},
		{"missing", workflow.OpIsEmpty, nil, true},
		{"name", workflow.OpIsNotEmpty, nil, true},
		{"name", workflow.OpEquals, "acme corp", true},
	}

	for _, tt := range tests {
		got := evaluate(record, tt.field, tt.operator, tt.value)
		assert.Equal(t, tt.want, got, "%s %s %v", tt.field, tt.operator, tt.value)
	}
}
