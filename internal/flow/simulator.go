package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zapflow/zapflow/internal/graph"
	"github.com/zapflow/zapflow/internal/models"
	"github.com/zapflow/zapflow/internal/util"
)

// Simulation misuse errors.
var (
	ErrNoStartNode  = errors.New("graph has no start node")
	ErrInvalidState = errors.New("operation not valid in current simulation state")
)

// State is the simulator's lifecycle state.
type State string

const (
	// StateIdle is the initial state; Start has not been called.
	StateIdle State = "idle"
	// StateAwaitingInput accepts user text via Submit.
	StateAwaitingInput State = "awaiting_input"
	// StateEvaluating means a submitted message is being matched; the bot
	// reply lands after the typing delay.
	StateEvaluating State = "evaluating"
	// StateTerminated means the session was stopped; only Start restarts it.
	StateTerminated State = "terminated"
)

// Default simulator configuration.
const (
	// DefaultTypingDelay emulates perceived typing latency before a reply.
	DefaultTypingDelay = time.Second
	// DefaultSimulatedName replaces the {name} placeholder in responses.
	DefaultSimulatedName = "Visitante"
)

// Fixed transcript texts.
const (
	greetingText = "Simulação iniciada. Envie uma mensagem para testar o fluxo."
	fallbackText = "Não entendi. Tente novamente ou digite 'menu'."
)

// SimulatorOpts holds configuration for a Simulator.
type SimulatorOpts struct {
	TypingDelay   time.Duration
	SimulatedName string
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*SimulatorOpts)

// WithTypingDelay overrides the typing latency. A non-positive delay makes
// Submit evaluate synchronously, which tests rely on.
func WithTypingDelay(d time.Duration) SimulatorOption {
	return func(o *SimulatorOpts) { o.TypingDelay = d }
}

// WithSimulatedName overrides the identity substituted for {name}.
func WithSimulatedName(name string) SimulatorOption {
	return func(o *SimulatorOpts) { o.SimulatedName = name }
}

// Simulator walks a conversation flow turn by turn. Each Submit re-scans the
// full active template list with the production matcher; the current node
// pointer exists for visual highlighting only and never constrains which
// template can match next.
type Simulator struct {
	mu         sync.Mutex
	state      State
	templates  []models.Template
	g          *graph.Graph
	bindings   Bindings
	transcript []models.TranscriptEntry
	currentID  string
	delay      time.Duration
	name       string
	timer      *SimpleTimer
	// epoch distinguishes sessions so an in-flight delayed reply from a
	// stopped session can never land in a new one.
	epoch        int
	pendingTimer string
	sessionID    string
}

// NewSimulator creates a simulator over the given graph and template list.
// The simulator never touches the template store; it operates purely over
// in-memory data.
func NewSimulator(g *graph.Graph, bindings Bindings, templates []models.Template, opts ...SimulatorOption) *Simulator {
	cfg := SimulatorOpts{TypingDelay: DefaultTypingDelay, SimulatedName: DefaultSimulatedName}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Simulator{
		state:     StateIdle,
		templates: templates,
		g:         g,
		bindings:  bindings,
		delay:     cfg.TypingDelay,
		name:      cfg.SimulatedName,
		timer:     NewSimpleTimer(),
	}
}

// State returns the current lifecycle state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the conversation so far.
func (s *Simulator) Transcript() []models.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TranscriptEntry(nil), s.transcript...)
}

// CurrentNodeID returns the node highlighted for the last matched template,
// or empty if none.
func (s *Simulator) CurrentNodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Start begins a session: it transitions to AwaitingInput and emits the
// fixed greeting entry. It fails with ErrNoStartNode if the graph has no
// start node and with ErrInvalidState if a session is already running.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateTerminated {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s.state)
	}
	if s.g == nil || s.g.Start() == nil {
		slog.Warn("Simulator start rejected: no start node")
		return ErrNoStartNode
	}
	s.epoch++
	s.sessionID = util.SimulationID()
	s.transcript = nil
	s.currentID = s.g.Start().ID
	s.append(models.RoleSystem, greetingText, "")
	s.state = StateAwaitingInput
	slog.Info("Simulator started", "session_id", s.sessionID, "templates", len(s.templates))
	return nil
}

// SessionID returns the identifier of the running session, or empty before
// the first Start.
func (s *Simulator) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Submit feeds user text into the session. It is valid only in
// AwaitingInput. The user entry is appended immediately; the bot reply
// lands after the typing delay (synchronously when the delay is
// non-positive).
func (s *Simulator) Submit(userText string) error {
	s.mu.Lock()
	if s.state != StateAwaitingInput {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: submit in %s", ErrInvalidState, state)
	}
	s.append(models.RoleUser, userText, "")
	s.state = StateEvaluating
	epoch := s.epoch

	if s.delay <= 0 {
		s.evaluateLocked(userText)
		s.mu.Unlock()
		return nil
	}

	s.pendingTimer = s.timer.ScheduleAfter(s.delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch || s.state != StateEvaluating {
			slog.Debug("Simulator discarding stale delayed reply", "epoch", epoch)
			return
		}
		s.evaluateLocked(userText)
	})
	s.mu.Unlock()
	return nil
}

// evaluateLocked matches the input against the active templates and appends
// the bot (or fallback) entry. Caller holds s.mu.
func (s *Simulator) evaluateLocked(userText string) {
	if t, ok := MatchTemplate(s.templates, userText); ok {
		s.append(models.RoleBot, RenderResponse(t, s.name), t.ID)
		if nodeID, bound := s.bindings.NodeFor(t.ID); bound {
			s.currentID = nodeID
		}
		slog.Debug("Simulator matched template", "template_id", t.ID)
	} else {
		s.append(models.RoleSystem, fallbackText, "")
		slog.Debug("Simulator fallback", "input_length", len(userText))
	}
	s.state = StateAwaitingInput
	s.pendingTimer = ""
}

// Stop tears down the session: it forces Terminated, clears the transcript
// and position, and discards any in-flight delayed reply.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	if s.pendingTimer != "" {
		s.timer.Cancel(s.pendingTimer)
		s.pendingTimer = ""
	}
	s.transcript = nil
	s.currentID = ""
	s.state = StateTerminated
	slog.Info("Simulator stopped", "session_id", s.sessionID)
	s.sessionID = ""
}

func (s *Simulator) append(role models.TranscriptRole, text, templateID string) {
	s.transcript = append(s.transcript, models.TranscriptEntry{
		Role:       role,
		Text:       text,
		TemplateID: templateID,
		Time:       time.Now(),
	})
}
