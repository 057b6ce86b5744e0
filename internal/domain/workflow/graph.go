package workflow

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrGraphHasCycle    = errors.New("workflow graph contains a cycle")
	ErrDuplicateNodeID  = errors.New("duplicate node id")
	ErrUnknownNode      = errors.New("connection references unknown node")
	ErrInvalidPort      = errors.New("invalid port connection")
	ErrNoStartNode      = errors.New("workflow has no start node")
	ErrNodeNotFound     = errors.New("node not found in graph")
	ErrTriggerHasInput  = errors.New("trigger node cannot have incoming connections")
	ErrOutputHasOutput  = errors.New("output node cannot have outgoing connections")
)

// Graph is the validated, indexed form of a workflow's nodes and
// connections. Build once per run, then treat as read-only.
type Graph struct {
	nodes    map[string]Node
	order    []string
	incoming map[string][]Connection
	outgoing map[string][]Connection
}

// BuildGraph indexes and validates the graph. Every structural
// invariant is checked here so the run loop can assume a well formed
// graph.
func BuildGraph(nodes []Node, connections []Connection) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		incoming: make(map[string][]Connection),
		outgoing: make(map[string][]Connection),
	}

	for _, node := range nodes {
		if _, exists := g.nodes[node.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}

	for _, conn := range connections {
		from, ok := g.nodes[conn.From]
		if !ok {
			return nil, fmt.Errorf("%w: source %s", ErrUnknownNode, conn.From)
		}
		to, ok := g.nodes[conn.To]
		if !ok {
			return nil, fmt.Errorf("%w: target %s", ErrUnknownNode, conn.To)
		}
		if IsTriggerType(to.Type) {
			return nil, fmt.Errorf("%w: %s", ErrTriggerHasInput, to.ID)
		}
		if from.Type == TypeOutput {
			return nil, fmt.Errorf("%w: %s", ErrOutputHasOutput, from.ID)
		}
		g.outgoing[conn.From] = append(g.outgoing[conn.From], conn)
		g.incoming[conn.To] = append(g.incoming[conn.To], conn)
	}

	if err := g.validatePorts(); err != nil {
		return nil, err
	}
	if err := g.validateConfigs(); err != nil {
		return nil, err
	}
	if _, err := g.Layers(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) validatePorts() error {
	for id, node := range g.nodes {
		if IsBranchingType(node.Type) {
			seen := make(map[string]bool)
			for _, conn := range g.outgoing[id] {
				port := conn.FromPort
				if port == PortDefault {
					return fmt.Errorf("%w: %s node %s requires an output port on every connection", ErrInvalidPort, node.Type, id)
				}
				if node.Type == TypeCondition && port != PortTrue && port != PortFalse {
					return fmt.Errorf("%w: condition node %s has port %q", ErrInvalidPort, id, port)
				}
				if node.Type == TypeSplitColumns && port != PortA && port != PortB {
					return fmt.Errorf("%w: splitColumns node %s has port %q", ErrInvalidPort, id, port)
				}
				if seen[port] {
					return fmt.Errorf("%w: %s node %s has more than one connection on port %q", ErrInvalidPort, node.Type, id, port)
				}
				seen[port] = true
			}
		}
		if node.Type == TypeJoin {
			in := g.incoming[id]
			if len(in) > 2 {
				return fmt.Errorf("%w: join node %s has %d incoming connections", ErrInvalidPort, id, len(in))
			}
			seen := make(map[string]bool)
			for _, conn := range in {
				port := conn.ToPort
				if port != PortA && port != PortB {
					return fmt.Errorf("%w: join node %s input port %q", ErrInvalidPort, id, port)
				}
				if seen[port] {
					return fmt.Errorf("%w: join node %s has two connections on input port %q", ErrInvalidPort, id, port)
				}
				seen[port] = true
			}
		}
	}
	return nil
}

func (g *Graph) validateConfigs() error {
	for _, id := range g.order {
		if err := ValidateNodeConfig(g.nodes[id]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) Node(id string) (Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

func (g *Graph) NodeIDs() []string {
	return append([]string(nil), g.order...)
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) Incoming(id string) []Connection {
	return g.incoming[id]
}

func (g *Graph) Outgoing(id string) []Connection {
	return g.outgoing[id]
}

// OutgoingFrom returns the outgoing connections of a node restricted
// to one output port.
func (g *Graph) OutgoingFrom(id, port string) []Connection {
	var conns []Connection
	for _, conn := range g.outgoing[id] {
		if conn.FromPort == port {
			conns = append(conns, conn)
		}
	}
	return conns
}

// StartNodes picks the nodes a run begins from. Trigger nodes win,
// then webhooks, then any in-degree-zero node, then manual inputs.
func (g *Graph) StartNodes() []string {
	var triggers, webhooks, roots, manual []string
	for _, id := range g.order {
		node := g.nodes[id]
		switch {
		case node.Type == TypeTrigger || node.Type == TypeSchedule:
			triggers = append(triggers, id)
		case node.Type == TypeWebhook:
			webhooks = append(webhooks, id)
		case node.Type == TypeManualInput:
			manual = append(manual, id)
		case len(g.incoming[id]) == 0 && node.Type != TypeComment:
			roots = append(roots, id)
		}
	}
	switch {
	case len(triggers) > 0:
		return triggers
	case len(webhooks) > 0:
		return webhooks
	case len(roots) > 0:
		return roots
	default:
		return manual
	}
}

// Layers groups nodes into dependency levels: every node in layer k
// depends only on nodes in layers < k. Returns ErrGraphHasCycle when
// no such ordering exists.
func (g *Graph) Layers() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.incoming[id])
	}

	var current []string
	for id, degree := range inDegree {
		if degree == 0 {
			current = append(current, id)
		}
	}

	var layers [][]string
	visited := 0
	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		visited += len(current)

		var next []string
		for _, id := range current {
			for _, conn := range g.outgoing[id] {
				inDegree[conn.To]--
				if inDegree[conn.To] == 0 {
					next = append(next, conn.To)
				}
			}
		}
		current = next
	}

	if visited != len(g.nodes) {
		return nil, ErrGraphHasCycle
	}
	return layers, nil
}

// Upstream returns the set of nodes reachable by walking incoming
// edges from id, excluding id itself.
func (g *Graph) Upstream(id string) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, conn := range g.incoming[current] {
			if !seen[conn.From] {
				seen[conn.From] = true
				stack = append(stack, conn.From)
			}
		}
	}
	return seen
}
