// Package graph provides the in-memory conversation flow graph model.
//
// A Graph is a pure container of nodes and directed connections with
// validation; it performs no I/O. Graphs are ephemeral: they are synthesized
// from a template list, edited, and reconciled back into templates.
package graph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zapflow/zapflow/internal/models"
)

// Structural errors. These indicate contract violations by the caller; a
// graph operation that returns one of them has not modified the graph.
var (
	ErrDuplicateID         = errors.New("node id already exists")
	ErrUnknownNode         = errors.New("node id does not exist")
	ErrDuplicateConnection = errors.New("connection already exists")
)

// Position is an editor layout coordinate. It carries no semantic role.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one vertex of a conversation flow graph. The payload fields are
// kind-dependent: message/human nodes carry triggers and a response,
// condition nodes carry predicates, options nodes carry choices.
type Node struct {
	ID          string          `json:"id"`
	Kind        models.NodeKind `json:"type"`
	Position    Position        `json:"position"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Triggers    []string        `json:"triggers,omitempty"`
	Response    string          `json:"response,omitempty"`
	Active      bool            `json:"active,omitempty"`
	Predicates  []string        `json:"predicates,omitempty"`
	Choices     []string        `json:"choices,omitempty"`
	Outgoing    []string        `json:"connections"`
}

// Connection is a directed edge between two nodes.
type Connection struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph holds nodes and connections. Nodes keep insertion order so that
// synthesis output and persistence order are deterministic. Every node's
// Outgoing list is kept exactly in sync with the connection set.
type Graph struct {
	nodes       []*Node
	index       map[string]*Node
	connections []Connection
	nextConnID  int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{index: make(map[string]*Node)}
}

// AddNode adds a node to the graph. It fails with ErrDuplicateID if a node
// with the same id already exists.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: empty node id", ErrUnknownNode)
	}
	if _, exists := g.index[n.ID]; exists {
		slog.Debug("Graph AddNode rejected duplicate", "id", n.ID)
		return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
	}
	if !models.IsValidNodeKind(n.Kind) {
		return fmt.Errorf("%w: %q", models.ErrInvalidNodeKind, n.Kind)
	}
	g.nodes = append(g.nodes, n)
	g.index[n.ID] = n
	slog.Debug("Graph AddNode succeeded", "id", n.ID, "kind", n.Kind)
	return nil
}

// RemoveNode removes the node and every connection whose source or target
// equals id. It fails with ErrUnknownNode if the node does not exist. After
// a successful removal no connection in the graph references id.
func (g *Graph) RemoveNode(id string) error {
	if _, exists := g.index[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}

	kept := g.connections[:0]
	removed := 0
	for _, c := range g.connections {
		if c.Source == id || c.Target == id {
			removed++
			if c.Source != id {
				g.dropOutgoing(c.Source, c.Target)
			}
			continue
		}
		kept = append(kept, c)
	}
	g.connections = kept

	for i, n := range g.nodes {
		if n.ID == id {
			g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
			break
		}
	}
	delete(g.index, id)
	slog.Debug("Graph RemoveNode succeeded", "id", id, "connections_removed", removed)
	return nil
}

// AddConnection adds a directed connection between two existing nodes. It
// fails with ErrUnknownNode if either endpoint is missing and with
// ErrDuplicateConnection if the (source, target) pair already exists.
// Self-loops are permitted by the model.
func (g *Graph) AddConnection(source, target string) error {
	if _, ok := g.index[source]; !ok {
		return fmt.Errorf("%w: source %s", ErrUnknownNode, source)
	}
	if _, ok := g.index[target]; !ok {
		return fmt.Errorf("%w: target %s", ErrUnknownNode, target)
	}
	for _, c := range g.connections {
		if c.Source == source && c.Target == target {
			slog.Debug("Graph AddConnection rejected duplicate", "source", source, "target", target)
			return fmt.Errorf("%w: %s -> %s", ErrDuplicateConnection, source, target)
		}
	}

	g.nextConnID++
	conn := Connection{
		ID:     fmt.Sprintf("conn_%d", g.nextConnID),
		Source: source,
		Target: target,
	}
	g.connections = append(g.connections, conn)
	src := g.index[source]
	src.Outgoing = append(src.Outgoing, target)
	slog.Debug("Graph AddConnection succeeded", "id", conn.ID, "source", source, "target", target)
	return nil
}

// RemoveConnection removes the connection between source and target, if any.
func (g *Graph) RemoveConnection(source, target string) error {
	for i, c := range g.connections {
		if c.Source == source && c.Target == target {
			g.connections = append(g.connections[:i], g.connections[i+1:]...)
			g.dropOutgoing(source, target)
			slog.Debug("Graph RemoveConnection succeeded", "source", source, "target", target)
			return nil
		}
	}
	return fmt.Errorf("%w: no connection %s -> %s", ErrUnknownNode, source, target)
}

func (g *Graph) dropOutgoing(source, target string) {
	n, ok := g.index[source]
	if !ok {
		return
	}
	for i, out := range n.Outgoing {
		if out == target {
			n.Outgoing = append(n.Outgoing[:i], n.Outgoing[i+1:]...)
			return
		}
	}
}

// Node returns the node with the given id, or nil if absent.
func (g *Graph) Node(id string) *Node {
	return g.index[id]
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Connections returns the connection list.
func (g *Graph) Connections() []Connection {
	return g.connections
}

// Start returns the start node, or nil if the graph has none.
func (g *Graph) Start() *Node {
	for _, n := range g.nodes {
		if n.Kind == models.NodeStart {
			return n
		}
	}
	return nil
}

// Outgoing returns the target nodes of the node's connections, in order.
func (g *Graph) Outgoing(id string) []*Node {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	targets := make([]*Node, 0, len(n.Outgoing))
	for _, t := range n.Outgoing {
		if tn, ok := g.index[t]; ok {
			targets = append(targets, tn)
		}
	}
	return targets
}

// Clone returns a deep copy of the graph. Edits to the clone never affect
// the original; the reconciler uses this to restore state on store failure.
func (g *Graph) Clone() *Graph {
	out := New()
	for _, n := range g.nodes {
		cp := *n
		cp.Triggers = append([]string(nil), n.Triggers...)
		cp.Predicates = append([]string(nil), n.Predicates...)
		cp.Choices = append([]string(nil), n.Choices...)
		cp.Outgoing = append([]string(nil), n.Outgoing...)
		out.nodes = append(out.nodes, &cp)
		out.index[cp.ID] = &cp
	}
	out.connections = append([]Connection(nil), g.connections...)
	out.nextConnID = g.nextConnID
	return out
}

// Validate checks the derived invariants: unique ids, one start node,
// resolvable endpoints, and Outgoing lists matching the connection set.
func (g *Graph) Validate() error {
	starts := 0
	for _, n := range g.nodes {
		if n.Kind == models.NodeStart {
			starts++
		}
	}
	if starts > 1 {
		return fmt.Errorf("graph has %d start nodes, want at most 1", starts)
	}
	for _, c := range g.connections {
		if _, ok := g.index[c.Source]; !ok {
			return fmt.Errorf("%w: connection %s source %s", ErrUnknownNode, c.ID, c.Source)
		}
		if _, ok := g.index[c.Target]; !ok {
			return fmt.Errorf("%w: connection %s target %s", ErrUnknownNode, c.ID, c.Target)
		}
	}
	for _, n := range g.nodes {
		outgoing := make(map[string]bool, len(n.Outgoing))
		for _, t := range n.Outgoing {
			outgoing[t] = true
		}
		count := 0
		for _, c := range g.connections {
			if c.Source == n.ID {
				count++
				if !outgoing[c.Target] {
					return fmt.Errorf("node %s outgoing list missing target %s", n.ID, c.Target)
				}
			}
		}
		if count != len(n.Outgoing) {
			return fmt.Errorf("node %s outgoing list out of sync with connections", n.ID)
		}
	}
	return nil
}
