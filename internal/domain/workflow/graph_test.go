package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id, nodeType string) Node {
	return Node{ID: id, Name: id, Type: nodeType}
}

func edge(from, to string) Connection {
	return Connection{From: from, To: to}
}

func TestBuildGraphValid(t *testing.T) {
	g, err := BuildGraph(
		[]Node{node("t", TypeTrigger), node("a", TypeAddField), node("out", TypeOutput)},
		[]Connection{edge("t", "a"), edge("a", "out")},
	)
	require.Error(t, err) // addField requires a name

	g, err = BuildGraph(
		[]Node{
			node("t", TypeTrigger),
			{ID: "a", Type: TypeAddField, Config: map[string]interface{}{"name": "x", "value": 1}},
			node("out", TypeOutput),
		},
		[]Connection{edge("t", "a"), edge("a", "out")},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"t"}, g.StartNodes())
}

func TestBuildGraphRejectsDuplicateNodeID(t *testing.T) {
	_, err := BuildGraph([]Node{node("a", TypeTrigger), node("a", TypeOutput)}, nil)
	assert.ErrorIs(t, err, ErrDuplicateNodeID)
}

func TestBuildGraphRejectsUnknownNodeRef(t *testing.T) {
	_, err := BuildGraph([]Node{node("a", TypeTrigger)}, []Connection{edge("a", "ghost")})
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestBuildGraphRejectsInboundToTrigger(t *testing.T) {
	_, err := BuildGraph(
		[]Node{node("a", TypeComment), node("t", TypeTrigger)},
		[]Connection{edge("a", "t")},
	)
	assert.ErrorIs(t, err, ErrTriggerHasInput)
}

func TestBuildGraphRejectsOutboundFromOutput(t *testing.T) {
	_, err := BuildGraph(
		[]Node{node("out", TypeOutput), node("a", TypeComment)},
		[]Connection{edge("out", "a")},
	)
	assert.ErrorIs(t, err, ErrOutputHasOutput)
}

func TestBuildGraphRejectsCycle(t *testing.T) {
	_, err := BuildGraph(
		[]Node{node("a", TypeComment), node("b", TypeComment), node("c", TypeComment)},
		[]Connection{edge("a", "b"), edge("b", "c"), edge("c", "a")},
	)
	assert.ErrorIs(t, err, ErrGraphHasCycle)
}

func TestBuildGraphConditionPortRules(t *testing.T) {
	cond := Node{ID: "c", Type: TypeCondition, Config: map[string]interface{}{
		"field": "amount", "operator": OpGreaterThan, "value": 100,
	}}

	// missing output port
	_, err := BuildGraph(
		[]Node{cond, node("x", TypeComment)},
		[]Connection{{From: "c", To: "x"}},
	)
	assert.ErrorIs(t, err, ErrInvalidPort)

	// wrong port name
	_, err = BuildGraph(
		[]Node{cond, node("x", TypeComment)},
		[]Connection{{From: "c", To: "x", FromPort: "maybe"}},
	)
	assert.ErrorIs(t, err, ErrInvalidPort)

	// two connections on the same port
	_, err = BuildGraph(
		[]Node{cond, node("x", TypeComment), node("y", TypeComment)},
		[]Connection{
			{From: "c", To: "x", FromPort: PortTrue},
			{From: "c", To: "y", FromPort: PortTrue},
		},
	)
	assert.ErrorIs(t, err, ErrInvalidPort)

	// valid branch fan-out
	_, err = BuildGraph(
		[]Node{cond, node("x", TypeComment), node("y", TypeComment)},
		[]Connection{
			{From: "c", To: "x", FromPort: PortTrue},
			{From: "c", To: "y", FromPort: PortFalse},
		},
	)
	assert.NoError(t, err)
}

func TestBuildGraphJoinPortRules(t *testing.T) {
	join := Node{ID: "j", Type: TypeJoin, Config: map[string]interface{}{"strategy": JoinConcat}}

	// three inputs
	_, err := BuildGraph(
		[]Node{node("a", TypeComment), node("b", TypeComment), node("c", TypeComment), join},
		[]Connection{
			{From: "a", To: "j", ToPort: PortA},
			{From: "b", To: "j", ToPort: PortB},
			{From: "c", To: "j", ToPort: PortA},
		},
	)
	assert.ErrorIs(t, err, ErrInvalidPort)

	// unnamed input port
	_, err = BuildGraph(
		[]Node{node("a", TypeComment), join},
		[]Connection{{From: "a", To: "j"}},
	)
	assert.ErrorIs(t, err, ErrInvalidPort)

	// one per port is fine
	_, err = BuildGraph(
		[]Node{node("a", TypeComment), node("b", TypeComment), join},
		[]Connection{
			{From: "a", To: "j", ToPort: PortA},
			{From: "b", To: "j", ToPort: PortB},
		},
	)
	assert.NoError(t, err)
}

func TestLayersDiamond(t *testing.T) {
	g, err := BuildGraph(
		[]Node{
			node("t", TypeTrigger),
			node("left", TypeComment),
			node("right", TypeComment),
			{ID: "j", Type: TypeJoin, Config: map[string]interface{}{"strategy": JoinConcat}},
			node("out", TypeOutput),
		},
		[]Connection{
			edge("t", "left"),
			edge("t", "right"),
			{From: "left", To: "j", ToPort: PortA},
			{From: "right", To: "j", ToPort: PortB},
			edge("j", "out"),
		},
	)
	require.NoError(t, err)

	layers, err := g.Layers()
	require.NoError(t, err)
	require.Len(t, layers, 4)
	assert.Equal(t, []string{"t"}, layers[0])
	assert.Equal(t, []string{"left", "right"}, layers[1])
	assert.Equal(t, []string{"j"}, layers[2])
	assert.Equal(t, []string{"out"}, layers[3])
}

func TestStartNodePriority(t *testing.T) {
	g, err := BuildGraph(
		[]Node{
			node("w", TypeWebhook),
			node("t", TypeTrigger),
			{ID: "m", Type: TypeManualInput, Config: map[string]interface{}{}},
		},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, g.StartNodes(), "trigger outranks webhook and manual input")

	g, err = BuildGraph(
		[]Node{node("w", TypeWebhook), {ID: "m", Type: TypeManualInput}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"w"}, g.StartNodes())

	g, err = BuildGraph([]Node{{ID: "m", Type: TypeManualInput}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"m"}, g.StartNodes())
}

func TestUpstream(t *testing.T) {
	g, err := BuildGraph(
		[]Node{node("t", TypeTrigger), node("a", TypeComment), node("b", TypeComment), node("out", TypeOutput)},
		[]Connection{edge("t", "a"), edge("a", "b"), edge("b", "out")},
	)
	require.NoError(t, err)

	up := g.Upstream("b")
	assert.True(t, up["a"])
	assert.True(t, up["t"])
	assert.False(t, up["b"])
	assert.False(t, up["out"])
}

func TestValidateNodeConfig(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		wantErr bool
	}{
		{"condition missing field", Node{ID: "c", Type: TypeCondition, Config: map[string]interface{}{"operator": OpEquals}}, true},
		{"condition bad operator", Node{ID: "c", Type: TypeCondition, Config: map[string]interface{}{"field": "x", "operator": "approximately"}}, true},
		{"condition bad mode", Node{ID: "c", Type: TypeCondition, Config: map[string]interface{}{"field": "x", "operator": OpEquals, "mode": "sometimes"}}, true},
		{"condition ok", Node{ID: "c", Type: TypeCondition, Config: map[string]interface{}{"field": "x", "operator": OpIsEmpty, "mode": ModeBatch}}, false},
		{"join mergeByKey without key", Node{ID: "j", Type: TypeJoin, Config: map[string]interface{}{"strategy": JoinMergeByKey}}, true},
		{"join bad strategy", Node{ID: "j", Type: TypeJoin, Config: map[string]interface{}{"strategy": "zip"}}, true},
		{"join default strategy", Node{ID: "j", Type: TypeJoin, Config: map[string]interface{}{}}, false},
		{"http missing url", Node{ID: "h", Type: TypeHTTPRequest, Config: map[string]interface{}{"method": "GET"}}, true},
		{"unknown type passes", Node{ID: "u", Type: "somethingNew", Config: map[string]interface{}{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNodeConfig(tt.node)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
