package flow

import (
	"fmt"
	"strings"
	"testing"

	"github.com/zapflow/zapflow/internal/graph"
	"github.com/zapflow/zapflow/internal/models"
)

// busTicketTemplates is a typical bus ticket bot configuration.
func busTicketTemplates() []models.Template {
	return []models.Template{
		{ID: "t1", Triggers: []string{"oi", "olá", "menu"}, Response: "Olá {name}! 1-Comprar 2-Horários 3-Atendente", Active: true, OrderIndex: 0},
		{ID: "t2", Triggers: []string{"2", "horários"}, Response: "Saídas a cada hora das 6h às 22h.", Active: true, OrderIndex: 1},
		{ID: "t3", Triggers: []string{"1", "comprar", "passagem"}, Response: "Para qual cidade você deseja viajar?", Active: true, OrderIndex: 2},
		{ID: "t4", Triggers: []string{"3", "atendente"}, Response: "Transferindo para um atendente.", Active: true, OrderIndex: 3},
		{ID: "t5", Triggers: []string{"CIDADE_SAO_PAULO"}, Response: "Passagens para São Paulo a partir de R$ 89.", Active: true, OrderIndex: 4},
		{ID: "t6", Triggers: []string{"reclamação"}, Response: "Sentimos muito! Conte o que aconteceu.", Active: true, OrderIndex: 5},
	}
}

func TestSynthesize_BusTicketFlow(t *testing.T) {
	g, bindings, err := Synthesize(DefaultPolicy(), busTicketTemplates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("synthesized graph invalid: %v", err)
	}

	start := g.Start()
	if start == nil {
		t.Fatal("missing start node")
	}

	// start -> welcome
	welcomeID, ok := bindings.NodeFor("t1")
	if !ok {
		t.Fatal("welcome template not bound")
	}
	welcome := g.Node(welcomeID)
	if welcome.Kind != models.NodeMessage || welcome.Title != "Boas-vindas" {
		t.Errorf("unexpected welcome node: %+v", welcome)
	}
	if len(start.Outgoing) != 1 || start.Outgoing[0] != welcomeID {
		t.Errorf("expected start -> welcome, got %v", start.Outgoing)
	}

	// Menu options hang off the welcome node, ordered by digit.
	var menuKinds []models.NodeKind
	var menuTemplates []string
	for _, n := range g.Outgoing(welcomeID) {
		menuKinds = append(menuKinds, n.Kind)
		id, _ := bindings.TemplateFor(n.ID)
		menuTemplates = append(menuTemplates, id)
	}
	if len(menuTemplates) != 3 {
		t.Fatalf("expected 3 children of welcome, got %v", menuTemplates)
	}
	if menuTemplates[0] != "t3" || menuTemplates[1] != "t2" {
		t.Errorf("menu options not ordered by digit: %v", menuTemplates)
	}
	if menuTemplates[2] != "t4" || menuKinds[2] != models.NodeHuman {
		t.Errorf("expected human handoff as third child, got %v (%v)", menuTemplates, menuKinds)
	}

	// Condition attaches below the purchase option.
	purchaseID, _ := bindings.NodeFor("t3")
	condChildren := g.Outgoing(purchaseID)
	if len(condChildren) != 1 || condChildren[0].Kind != models.NodeCondition {
		t.Fatalf("expected condition below purchase option, got %v", condChildren)
	}
	if id, _ := bindings.TemplateFor(condChildren[0].ID); id != "t5" {
		t.Errorf("condition bound to %q, want t5", id)
	}

	// The unmatched template survives as an unclassified node.
	leftoverID, ok := bindings.NodeFor("t6")
	if !ok {
		t.Fatal("unclassified template not bound")
	}
	if g.Node(leftoverID).Kind != models.NodeUnclassified {
		t.Errorf("expected unclassified node for t6, got %v", g.Node(leftoverID).Kind)
	}

	// Dead ends flow to the terminal; human handoffs do not.
	var end *graph.Node
	for _, n := range g.Nodes() {
		if n.Kind == models.NodeEnd {
			end = n
		}
	}
	if end == nil {
		t.Fatal("missing end node")
	}
	humanID, _ := bindings.NodeFor("t4")
	if len(g.Node(humanID).Outgoing) != 0 {
		t.Errorf("human node should be a dead end, got %v", g.Node(humanID).Outgoing)
	}
	horariosID, _ := bindings.NodeFor("t2")
	if out := g.Node(horariosID).Outgoing; len(out) != 1 || out[0] != end.ID {
		t.Errorf("expected horários -> end, got %v", out)
	}
	if out := g.Node(leftoverID).Outgoing; len(out) != 1 || out[0] != end.ID {
		t.Errorf("expected unclassified -> end, got %v", out)
	}
}

func TestSynthesize_IsDeterministic(t *testing.T) {
	g1, b1, err := Synthesize(DefaultPolicy(), busTicketTemplates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g2, b2, err := Synthesize(DefaultPolicy(), busTicketTemplates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n1, n2 := g1.Nodes(), g2.Nodes()
	if len(n1) != len(n2) {
		t.Fatalf("node counts differ: %d vs %d", len(n1), len(n2))
	}
	for i := range n1 {
		if n1[i].ID != n2[i].ID || n1[i].Kind != n2[i].Kind {
			t.Errorf("node %d differs: %s/%s vs %s/%s", i, n1[i].ID, n1[i].Kind, n2[i].ID, n2[i].Kind)
		}
	}
	if len(b1) != len(b2) {
		t.Fatalf("binding counts differ: %d vs %d", len(b1), len(b2))
	}
	for nodeID, tmplID := range b1 {
		if b2[nodeID] != tmplID {
			t.Errorf("binding for %s differs: %s vs %s", nodeID, tmplID, b2[nodeID])
		}
	}
}

func TestSynthesize_SecondGreetingIsPreserved(t *testing.T) {
	templates := []models.Template{
		{ID: "t1", Triggers: []string{"oi"}, Response: "Primeira saudação", Active: true},
		{ID: "t2", Triggers: []string{"boa noite"}, Response: "Segunda saudação", Active: true},
	}
	g, bindings, err := Synthesize(DefaultPolicy(), templates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firstID, _ := bindings.NodeFor("t1")
	if g.Node(firstID).Kind != models.NodeMessage {
		t.Errorf("first greeting should be the welcome node, got %v", g.Node(firstID).Kind)
	}
	secondID, ok := bindings.NodeFor("t2")
	if !ok {
		t.Fatal("second greeting lost")
	}
	if g.Node(secondID).Kind != models.NodeUnclassified {
		t.Errorf("second greeting should be unclassified, got %v", g.Node(secondID).Kind)
	}
}

func TestSynthesize_SecondHandoffStaysMenuOption(t *testing.T) {
	templates := []models.Template{
		{ID: "t1", Triggers: []string{"3", "atendente"}, Response: "Transferindo.", Active: true},
		{ID: "t2", Triggers: []string{"4", "humano"}, Response: "Chamando alguém.", Active: true},
	}
	g, bindings, err := Synthesize(DefaultPolicy(), templates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firstID, _ := bindings.NodeFor("t1")
	if g.Node(firstID).Kind != models.NodeHuman {
		t.Errorf("first handoff template should be the human node, got %v", g.Node(firstID).Kind)
	}
	secondID, ok := bindings.NodeFor("t2")
	if !ok {
		t.Fatal("second handoff template lost")
	}
	if g.Node(secondID).Kind != models.NodeMessage {
		t.Errorf("second handoff template should stay a menu option, got %v", g.Node(secondID).Kind)
	}
}

func TestSynthesize_EmptyTemplateList(t *testing.T) {
	g, bindings, err := Synthesize(DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bindings) != 0 {
		t.Errorf("expected no bindings, got %v", bindings)
	}
	if g.Start() == nil {
		t.Error("expected start node even for empty list")
	}
	if len(g.Nodes()) != 2 {
		t.Errorf("expected start and end only, got %d nodes", len(g.Nodes()))
	}
}

func TestFlatten_RoundTripPreservesTemplates(t *testing.T) {
	original := busTicketTemplates()
	g, bindings, err := Synthesize(DefaultPolicy(), original)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	flattened := Flatten(g, bindings)

	// Condition nodes carry predicates, not reply templates, so t5 stays
	// managed through its node; every reply template must survive.
	want := map[string]bool{"t1": true, "t2": true, "t3": true, "t4": true, "t6": true}
	got := make(map[string]bool, len(flattened))
	for _, tmpl := range flattened {
		got[tmpl.ID] = true
		if tmpl.Response == "" || len(tmpl.Triggers) == 0 {
			t.Errorf("flattened template %s lost payload: %+v", tmpl.ID, tmpl)
		}
	}
	for id := range want {
		if !got[id] {
			t.Errorf("template %s lost in flatten", id)
		}
	}

	// Re-synthesizing the flattened output must yield the same reply
	// content: the node tuples of both graphs agree.
	g2, _, err := Synthesize(DefaultPolicy(), flattened)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := templateTuples(g)
	second := templateTuples(g2)
	if len(first) != len(second) {
		t.Fatalf("tuple counts differ after re-synthesis: %d vs %d", len(first), len(second))
	}
	for tuple := range first {
		if !second[tuple] {
			t.Errorf("tuple lost after re-synthesis: %s", tuple)
		}
	}
}

// templateTuples collects the (triggers, response, active) content of every
// template-bearing node.
func templateTuples(g *graph.Graph) map[string]bool {
	tuples := make(map[string]bool)
	for _, n := range g.Nodes() {
		if !carriesTemplate(n.Kind) {
			continue
		}
		if len(n.Triggers) == 0 || n.Response == "" {
			continue
		}
		tuples[fmt.Sprintf("%s|%s|%t", strings.Join(n.Triggers, ","), n.Response, n.Active)] = true
	}
	return tuples
}

func TestFlatten_UnboundNodeGetsEmptyID(t *testing.T) {
	g := graph.New()
	if err := g.AddNode(&graph.Node{ID: "n1", Kind: models.NodeMessage, Triggers: []string{"oi"}, Response: "Olá!", Active: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	templates := Flatten(g, Bindings{})
	if len(templates) != 1 {
		t.Fatalf("expected 1 template, got %d", len(templates))
	}
	if templates[0].ID != "" {
		t.Errorf("unbound node should imply a new template, got id %q", templates[0].ID)
	}
}
