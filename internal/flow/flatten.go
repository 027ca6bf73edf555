package flow

import (
	"log/slog"

	"github.com/zapflow/zapflow/internal/graph"
	"github.com/zapflow/zapflow/internal/models"
)

// Flatten derives a flat template list from a graph for persistence. Every
// message, human, and unclassified node with non-empty triggers and a
// non-empty response produces a template; other node kinds produce none.
// Bound nodes keep their persisted template id, unbound nodes imply a new
// template (empty id).
func Flatten(g *graph.Graph, bindings Bindings) []models.Template {
	var templates []models.Template
	for _, n := range g.Nodes() {
		if !carriesTemplate(n.Kind) {
			continue
		}
		if len(n.Triggers) == 0 || n.Response == "" {
			continue
		}
		t := models.Template{
			Triggers:   append([]string(nil), n.Triggers...),
			Response:   n.Response,
			Active:     n.Active,
			OrderIndex: len(templates),
		}
		if id, ok := bindings.TemplateFor(n.ID); ok {
			t.ID = id
		}
		templates = append(templates, t)
	}
	slog.Debug("Flow flattened", "nodes", len(g.Nodes()), "templates", len(templates))
	return templates
}

func carriesTemplate(kind models.NodeKind) bool {
	switch kind {
	case models.NodeMessage, models.NodeHuman, models.NodeUnclassified:
		return true
	default:
		return false
	}
}
