// This file implements the human-editable flow document used for export and
// import of conversation graphs.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapflow/zapflow/internal/models"
)

// ErrInvalidFormat indicates a flow document that cannot be imported. Import
// never modifies any existing graph: it either returns a fully built graph
// or this error.
var ErrInvalidFormat = errors.New("invalid flow document format")

// DocumentVersion is the current flow document schema version.
const DocumentVersion = "1.0"

// Metadata describes a flow document.
type Metadata struct {
	Version     string    `json:"version"`
	Created     time.Time `json:"created"`
	Description string    `json:"description,omitempty"`
}

// DocumentNode is the wire shape of a node in a flow document.
type DocumentNode struct {
	ID          string           `json:"id"`
	Type        models.NodeKind  `json:"type"`
	Position    Position         `json:"position"`
	Data        DocumentNodeData `json:"data"`
	Connections []string         `json:"connections"`
}

// DocumentNodeData carries the kind-dependent payload of a document node.
type DocumentNodeData struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Triggers    []string `json:"triggers,omitempty"`
	Response    string   `json:"response,omitempty"`
	Active      bool     `json:"active,omitempty"`
	Predicates  []string `json:"predicates,omitempty"`
	Choices     []string `json:"choices,omitempty"`
}

// DocumentConnection is the wire shape of a connection in a flow document.
type DocumentConnection struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Document is the exported/imported flow serialization format.
type Document struct {
	Metadata    Metadata             `json:"metadata"`
	Nodes       []DocumentNode       `json:"nodes"`
	Connections []DocumentConnection `json:"connections"`
}

// Export renders the graph as a flow document.
func Export(g *Graph, description string) Document {
	doc := Document{
		Metadata: Metadata{
			Version:     DocumentVersion,
			Created:     time.Now().UTC(),
			Description: description,
		},
		Nodes:       make([]DocumentNode, 0, len(g.Nodes())),
		Connections: make([]DocumentConnection, 0, len(g.Connections())),
	}
	for _, n := range g.Nodes() {
		doc.Nodes = append(doc.Nodes, DocumentNode{
			ID:       n.ID,
			Type:     n.Kind,
			Position: n.Position,
			Data: DocumentNodeData{
				Title:       n.Title,
				Description: n.Description,
				Triggers:    n.Triggers,
				Response:    n.Response,
				Active:      n.Active,
				Predicates:  n.Predicates,
				Choices:     n.Choices,
			},
			Connections: append([]string(nil), n.Outgoing...),
		})
	}
	for _, c := range g.Connections() {
		doc.Connections = append(doc.Connections, DocumentConnection{ID: c.ID, Source: c.Source, Target: c.Target})
	}
	slog.Debug("Graph exported", "nodes", len(doc.Nodes), "connections", len(doc.Connections))
	return doc
}

// rawDocument defers nodes/connections so their shape can be checked before
// decoding. Malformed documents must be rejected, not crashed on.
type rawDocument struct {
	Metadata    Metadata        `json:"metadata"`
	Nodes       json.RawMessage `json:"nodes"`
	Connections json.RawMessage `json:"connections"`
}

// Import parses a flow document and builds a new graph from it. It fails
// with ErrInvalidFormat if nodes or connections are missing or not arrays,
// or if the document violates graph invariants.
func Import(data []byte) (*Graph, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("Flow import failed to parse JSON", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if !isJSONArray(raw.Nodes) {
		return nil, fmt.Errorf("%w: nodes must be an array", ErrInvalidFormat)
	}
	if !isJSONArray(raw.Connections) {
		return nil, fmt.Errorf("%w: connections must be an array", ErrInvalidFormat)
	}

	var nodes []DocumentNode
	if err := json.Unmarshal(raw.Nodes, &nodes); err != nil {
		return nil, fmt.Errorf("%w: nodes: %v", ErrInvalidFormat, err)
	}
	var connections []DocumentConnection
	if err := json.Unmarshal(raw.Connections, &connections); err != nil {
		return nil, fmt.Errorf("%w: connections: %v", ErrInvalidFormat, err)
	}

	g := New()
	for _, dn := range nodes {
		node := &Node{
			ID:          dn.ID,
			Kind:        dn.Type,
			Position:    dn.Position,
			Title:       dn.Data.Title,
			Description: dn.Data.Description,
			Triggers:    dn.Data.Triggers,
			Response:    dn.Data.Response,
			Active:      dn.Data.Active,
			Predicates:  dn.Data.Predicates,
			Choices:     dn.Data.Choices,
		}
		if err := g.AddNode(node); err != nil {
			return nil, fmt.Errorf("%w: node %s: %v", ErrInvalidFormat, dn.ID, err)
		}
	}
	for _, dc := range connections {
		if err := g.AddConnection(dc.Source, dc.Target); err != nil {
			return nil, fmt.Errorf("%w: connection %s: %v", ErrInvalidFormat, dc.ID, err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	slog.Info("Flow imported", "nodes", len(nodes), "connections", len(connections), "version", raw.Metadata.Version)
	return g, nil
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
