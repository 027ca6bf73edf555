package flow

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/zapflow/zapflow/internal/graph"
	"github.com/zapflow/zapflow/internal/models"
)

// Bindings records which graph node carries which persisted template. It is
// the explicit identity mapping consumed by flattening and reconciliation;
// node ids themselves carry no persisted identity.
type Bindings map[string]string

// Bind associates a node id with a persisted template id.
func (b Bindings) Bind(nodeID, templateID string) {
	if templateID != "" {
		b[nodeID] = templateID
	}
}

// TemplateFor returns the persisted template id bound to a node, if any.
func (b Bindings) TemplateFor(nodeID string) (string, bool) {
	id, ok := b[nodeID]
	return id, ok
}

// NodeFor returns the node id bound to a persisted template, if any.
func (b Bindings) NodeFor(templateID string) (string, bool) {
	for nodeID, tmplID := range b {
		if tmplID == templateID {
			return nodeID, true
		}
	}
	return "", false
}

// Layout constants. Positions are cosmetic only.
const (
	columnWidth = 220.0
	rowHeight   = 130.0
	startX      = 250.0
	startY      = 40.0
)

// Synthesize builds a conversation flow graph from a flat template list
// using the policy's classification rules. The same template list always
// yields the same graph: node ids are sequential and classification
// preserves list order, so synthesis is deterministic.
func Synthesize(policy Policy, templates []models.Template) (*graph.Graph, Bindings, error) {
	g := graph.New()
	bindings := make(Bindings)
	nextID := 0
	newID := func() string {
		nextID++
		return fmt.Sprintf("node_%d", nextID)
	}

	start := &graph.Node{
		ID:          newID(),
		Kind:        models.NodeStart,
		Position:    graph.Position{X: startX, Y: startY},
		Title:       "Início",
		Description: "Ponto de entrada da conversa",
	}
	if err := g.AddNode(start); err != nil {
		return nil, nil, err
	}

	var (
		welcome     models.Template
		hasWelcome  bool
		menuOptions []models.Template
		humans      []models.Template
		conditions  []models.Template
		leftovers   []models.Template
	)
	for _, t := range templates {
		switch policy.Classify(t) {
		case RoleWelcome:
			if !hasWelcome {
				welcome = t
				hasWelcome = true
			} else {
				// Only the first greeting template becomes the welcome node;
				// later ones are preserved as unclassified.
				leftovers = append(leftovers, t)
			}
		case RoleMenuOption:
			menuOptions = append(menuOptions, t)
		case RoleHuman:
			if len(humans) == 0 {
				humans = append(humans, t)
			} else {
				// A single menu option is retyped to the handoff; the rest
				// stay ordinary menu options.
				menuOptions = append(menuOptions, t)
			}
		case RoleCondition:
			conditions = append(conditions, t)
		default:
			leftovers = append(leftovers, t)
		}
	}
	sort.SliceStable(menuOptions, func(i, j int) bool {
		return menuDigit(menuOptions[i]) < menuDigit(menuOptions[j])
	})

	menuParent := start.ID
	if hasWelcome {
		node := templateNode(newID(), models.NodeMessage, welcome, graph.Position{X: startX, Y: startY + rowHeight})
		node.Title = "Boas-vindas"
		if err := g.AddNode(node); err != nil {
			return nil, nil, err
		}
		if err := g.AddConnection(start.ID, node.ID); err != nil {
			return nil, nil, err
		}
		bindings.Bind(node.ID, welcome.ID)
		menuParent = node.ID
	}

	var purchaseNodeID string
	menuY := startY + 2*rowHeight
	for i, t := range menuOptions {
		pos := graph.Position{X: 80 + float64(i)*columnWidth, Y: menuY}
		node := templateNode(newID(), models.NodeMessage, t, pos)
		node.Title = fmt.Sprintf("Opção %d", menuDigit(t))
		if err := g.AddNode(node); err != nil {
			return nil, nil, err
		}
		if err := g.AddConnection(menuParent, node.ID); err != nil {
			return nil, nil, err
		}
		bindings.Bind(node.ID, t.ID)
		if purchaseNodeID == "" && intersectsPurchase(t) {
			purchaseNodeID = node.ID
		}
	}

	for i, t := range humans {
		pos := graph.Position{X: 80 + float64(len(menuOptions)+i)*columnWidth, Y: menuY + rowHeight/2}
		node := templateNode(newID(), models.NodeHuman, t, pos)
		node.Title = "Atendimento humano"
		if err := g.AddNode(node); err != nil {
			return nil, nil, err
		}
		if err := g.AddConnection(menuParent, node.ID); err != nil {
			return nil, nil, err
		}
		bindings.Bind(node.ID, t.ID)
	}

	condY := menuY + rowHeight
	for i, t := range conditions {
		pos := graph.Position{X: 80 + float64(i)*columnWidth, Y: condY}
		node := &graph.Node{
			ID:         newID(),
			Kind:       models.NodeCondition,
			Position:   pos,
			Title:      "Condição",
			Predicates: append([]string(nil), t.Triggers...),
			Response:   t.Response,
			Triggers:   append([]string(nil), t.Triggers...),
			Active:     t.Active,
		}
		if err := g.AddNode(node); err != nil {
			return nil, nil, err
		}
		if purchaseNodeID != "" {
			if err := g.AddConnection(purchaseNodeID, node.ID); err != nil {
				return nil, nil, err
			}
		}
		bindings.Bind(node.ID, t.ID)
	}

	leftY := condY + rowHeight
	for i, t := range leftovers {
		pos := graph.Position{X: 80 + float64(i)*columnWidth, Y: leftY}
		node := templateNode(newID(), models.NodeUnclassified, t, pos)
		node.Title = "Sem classificação"
		if err := g.AddNode(node); err != nil {
			return nil, nil, err
		}
		bindings.Bind(node.ID, t.ID)
	}

	end := &graph.Node{
		ID:          newID(),
		Kind:        models.NodeEnd,
		Position:    graph.Position{X: startX, Y: leftY + rowHeight},
		Title:       "Fim",
		Description: "Encerramento da conversa",
	}
	if err := g.AddNode(end); err != nil {
		return nil, nil, err
	}

	// Every dead-end node flows to the terminal, except the terminal itself,
	// the entry point, and human handoffs (a human owns the conversation).
	for _, n := range g.Nodes() {
		if n.ID == end.ID || n.Kind == models.NodeStart || n.Kind == models.NodeHuman {
			continue
		}
		if len(n.Outgoing) == 0 {
			if err := g.AddConnection(n.ID, end.ID); err != nil {
				return nil, nil, err
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, nil, err
	}
	slog.Debug("Flow synthesized",
		"templates", len(templates),
		"nodes", len(g.Nodes()),
		"connections", len(g.Connections()),
		"menu_options", len(menuOptions),
		"conditions", len(conditions),
		"unclassified", len(leftovers))
	return g, bindings, nil
}

func templateNode(id string, kind models.NodeKind, t models.Template, pos graph.Position) *graph.Node {
	return &graph.Node{
		ID:       id,
		Kind:     kind,
		Position: pos,
		Triggers: append([]string(nil), t.Triggers...),
		Response: t.Response,
		Active:   t.Active,
	}
}
