// Package models defines the core data structures for zapflow.
//
// It includes types for projects, reply templates, and graph nodes, which are
// shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// NodeKind describes the role a node plays in a conversation flow graph.
type NodeKind string

const (
	// NodeStart is the single entry point of a flow.
	NodeStart NodeKind = "start"
	// NodeMessage is an automatic trigger/response reply.
	NodeMessage NodeKind = "message"
	// NodeCondition branches on programmatically-fired predicates.
	NodeCondition NodeKind = "condition"
	// NodeOptions presents a selectable menu.
	NodeOptions NodeKind = "options"
	// NodeHuman hands the conversation to a human operator.
	NodeHuman NodeKind = "human"
	// NodeEnd is the terminal node of a flow.
	NodeEnd NodeKind = "end"
	// NodeUnclassified holds a template the synthesis rules could not place,
	// so that flattening a synthesized graph loses no templates.
	NodeUnclassified NodeKind = "unclassified"
)

// Validation constants for input validation
const (
	// MaxResponseLength defines the maximum allowed length for a template response
	MaxResponseLength = 4096
	// MaxTriggerLength defines the maximum allowed length of a single trigger word
	MaxTriggerLength = 100
	// MaxTriggersPerTemplate defines the maximum number of triggers per template
	MaxTriggersPerTemplate = 32
)

// Error variables for better error handling and testability
var (
	ErrEmptyTriggers    = errors.New("template requires at least one trigger")
	ErrEmptyTrigger     = errors.New("trigger cannot be empty")
	ErrTriggerTooLong   = errors.New("trigger exceeds maximum length")
	ErrTooManyTriggers  = errors.New("template has too many triggers")
	ErrEmptyResponse    = errors.New("response text is required")
	ErrResponseTooLong  = errors.New("response text exceeds maximum length")
	ErrEmptyProjectName = errors.New("project name is required")
	ErrInvalidNodeKind  = errors.New("invalid node kind")
)

// IsValidNodeKind checks if the given node kind is supported.
func IsValidNodeKind(k NodeKind) bool {
	switch k {
	case NodeStart, NodeMessage, NodeCondition, NodeOptions, NodeHuman, NodeEnd, NodeUnclassified:
		return true
	default:
		return false
	}
}

// Template is a stored trigger-set/response pair used to auto-reply to
// matching user text. Identity is the ID; the ID is empty for templates that
// have not been persisted yet.
type Template struct {
	ID         string    `json:"id,omitempty"`
	ProjectID  string    `json:"project_id,omitempty"`
	Triggers   []string  `json:"trigger_words"`
	Response   string    `json:"response_text"`
	Active     bool      `json:"is_active"`
	OrderIndex int       `json:"order_index"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Validate performs comprehensive validation on a Template structure.
func (t *Template) Validate() error {
	if len(t.Triggers) == 0 {
		return ErrEmptyTriggers
	}
	if len(t.Triggers) > MaxTriggersPerTemplate {
		return ErrTooManyTriggers
	}
	for _, trig := range t.Triggers {
		if strings.TrimSpace(trig) == "" {
			return ErrEmptyTrigger
		}
		if len(trig) > MaxTriggerLength {
			return ErrTriggerTooLong
		}
	}
	if t.Response == "" {
		return ErrEmptyResponse
	}
	if len(t.Response) > MaxResponseLength {
		return ErrResponseTooLong
	}
	return nil
}

// Project groups the templates of one chatbot.
type Project struct {
	ID          string    `json:"id"`
	OperatorID  string    `json:"operator_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"is_active"`
	Default     bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks a Project structure before persisting.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyProjectName
	}
	return nil
}

// Operator is a dashboard user able to manage projects and templates.
type Operator struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TranscriptRole identifies who produced a transcript entry.
type TranscriptRole string

const (
	// RoleUser marks input typed by the simulated user.
	RoleUser TranscriptRole = "user"
	// RoleBot marks an automatic reply.
	RoleBot TranscriptRole = "bot"
	// RoleSystem marks greeting and fallback entries emitted by the engine.
	RoleSystem TranscriptRole = "system"
)

// TranscriptEntry is one turn of a simulated conversation.
type TranscriptEntry struct {
	Role       TranscriptRole `json:"role"`
	Text       string         `json:"text"`
	TemplateID string         `json:"template_id,omitempty"`
	Time       time.Time      `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was accepted by the provider.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the provider rejected the message.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt is a delivery event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response is an inbound message from an end user.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
