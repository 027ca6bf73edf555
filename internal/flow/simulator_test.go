package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/zapflow/zapflow/internal/graph"
	"github.com/zapflow/zapflow/internal/models"
)

func newTestSimulator(t *testing.T, opts ...SimulatorOption) (*Simulator, Bindings) {
	t.Helper()
	templates := busTicketTemplates()
	g, bindings, err := Synthesize(DefaultPolicy(), templates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opts = append([]SimulatorOption{WithTypingDelay(0)}, opts...)
	return NewSimulator(g, bindings, templates, opts...), bindings
}

func TestSimulator_SubmitBeforeStart(t *testing.T) {
	sim, _ := newTestSimulator(t)
	if err := sim.Submit("oi"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestSimulator_StartWithoutStartNode(t *testing.T) {
	g := graph.New()
	if err := g.AddNode(&graph.Node{ID: "msg", Kind: models.NodeMessage}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim := NewSimulator(g, Bindings{}, nil, WithTypingDelay(0))
	if err := sim.Start(); !errors.Is(err, ErrNoStartNode) {
		t.Errorf("expected ErrNoStartNode, got %v", err)
	}
}

func TestSimulator_StartEmitsGreeting(t *testing.T) {
	sim, _ := newTestSimulator(t)
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sim.State() != StateAwaitingInput {
		t.Errorf("expected awaiting_input, got %v", sim.State())
	}
	transcript := sim.Transcript()
	if len(transcript) != 1 || transcript[0].Role != models.RoleSystem {
		t.Fatalf("expected single system greeting, got %+v", transcript)
	}
	if sim.CurrentNodeID() == "" {
		t.Error("expected current node to be the start node")
	}
}

func TestSimulator_DoubleStart(t *testing.T) {
	sim, _ := newTestSimulator(t)
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sim.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second start, got %v", err)
	}
}

func TestSimulator_MatchedReplyUsesName(t *testing.T) {
	sim, bindings := newTestSimulator(t, WithSimulatedName("Maria"))
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sim.Submit("Oi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	transcript := sim.Transcript()
	if len(transcript) != 3 {
		t.Fatalf("expected greeting + user + bot entries, got %d", len(transcript))
	}
	user, bot := transcript[1], transcript[2]
	if user.Role != models.RoleUser || user.Text != "Oi" {
		t.Errorf("unexpected user entry: %+v", user)
	}
	if bot.Role != models.RoleBot || bot.TemplateID != "t1" {
		t.Errorf("unexpected bot entry: %+v", bot)
	}
	want := "Olá Maria! 1-Comprar 2-Horários 3-Atendente"
	if bot.Text != want {
		t.Errorf("bot text = %q, want %q", bot.Text, want)
	}

	welcomeID, _ := bindings.NodeFor("t1")
	if sim.CurrentNodeID() != welcomeID {
		t.Errorf("current node = %q, want welcome %q", sim.CurrentNodeID(), welcomeID)
	}
	if sim.State() != StateAwaitingInput {
		t.Errorf("expected awaiting_input after reply, got %v", sim.State())
	}
}

func TestSimulator_FallbackOnNoMatch(t *testing.T) {
	sim, _ := newTestSimulator(t)
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sim.Submit("xyzzy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	transcript := sim.Transcript()
	last := transcript[len(transcript)-1]
	if last.Role != models.RoleSystem || last.Text != fallbackText {
		t.Errorf("expected fallback entry, got %+v", last)
	}
}

func TestSimulator_MatchingNeverConstrainedByPosition(t *testing.T) {
	// The matcher re-scans the full template list every turn: a menu reply
	// still matches even though the conversation never visited the welcome
	// node first.
	sim, _ := newTestSimulator(t)
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sim.Submit("quero comprar passagem"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	transcript := sim.Transcript()
	last := transcript[len(transcript)-1]
	if last.TemplateID != "t3" {
		t.Errorf("expected purchase template reply, got %+v", last)
	}
}

func TestSimulator_StopClearsSession(t *testing.T) {
	sim, _ := newTestSimulator(t)
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sim.SessionID() == "" {
		t.Error("expected a session id after start")
	}
	if err := sim.Submit("oi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.Stop()

	if sim.State() != StateTerminated {
		t.Errorf("expected terminated, got %v", sim.State())
	}
	if len(sim.Transcript()) != 0 {
		t.Error("expected transcript cleared on stop")
	}
	if sim.CurrentNodeID() != "" {
		t.Error("expected position cleared on stop")
	}
	if sim.SessionID() != "" {
		t.Error("expected session id cleared on stop")
	}
	if err := sim.Submit("oi"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after stop, got %v", err)
	}
}

func TestSimulator_RestartAfterStop(t *testing.T) {
	sim, _ := newTestSimulator(t)
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.Stop()
	if err := sim.Start(); err != nil {
		t.Fatalf("expected restart after stop, got %v", err)
	}
	if len(sim.Transcript()) != 1 {
		t.Errorf("expected fresh transcript after restart, got %d entries", len(sim.Transcript()))
	}
}

func TestSimulator_StopDiscardsDelayedReply(t *testing.T) {
	templates := busTicketTemplates()
	g, bindings, err := Synthesize(DefaultPolicy(), templates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim := NewSimulator(g, bindings, templates, WithTypingDelay(30*time.Millisecond))
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sim.Submit("oi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.Stop()
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	for _, entry := range sim.Transcript() {
		if entry.Role == models.RoleBot {
			t.Errorf("stale delayed reply leaked into new session: %+v", entry)
		}
	}
}

func TestSimulator_DelayedReplyLands(t *testing.T) {
	templates := busTicketTemplates()
	g, bindings, err := Synthesize(DefaultPolicy(), templates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim := NewSimulator(g, bindings, templates, WithTypingDelay(10*time.Millisecond))
	if err := sim.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sim.Submit("oi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sim.State() != StateEvaluating {
		t.Errorf("expected evaluating while reply pending, got %v", sim.State())
	}

	deadline := time.Now().Add(time.Second)
	for sim.State() != StateAwaitingInput {
		if time.Now().After(deadline) {
			t.Fatal("delayed reply never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	transcript := sim.Transcript()
	if transcript[len(transcript)-1].Role != models.RoleBot {
		t.Errorf("expected bot reply after delay, got %+v", transcript[len(transcript)-1])
	}
}
