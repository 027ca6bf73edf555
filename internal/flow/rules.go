// Package flow implements the conversation flow engine: classification of
// reply templates, synthesis of a flow graph from a flat template list,
// flattening back to templates, and the dialogue simulator.
package flow

import (
	"strconv"
	"strings"

	"github.com/zapflow/zapflow/internal/models"
)

// Role is the flow role a classification rule assigns to a template.
type Role string

const (
	// RoleWelcome greets the user at the start of a conversation.
	RoleWelcome Role = "welcome"
	// RoleMenuOption answers a numbered menu selection.
	RoleMenuOption Role = "menu_option"
	// RoleCondition reacts to programmatically-fired trigger tokens that
	// users never type themselves.
	RoleCondition Role = "condition"
	// RoleHuman hands the conversation to a human operator.
	RoleHuman Role = "human"
	// RoleUnclassified matches no rule. Unclassified templates are kept in
	// the graph so round-trips lose nothing.
	RoleUnclassified Role = "unclassified"
)

// Rule maps a predicate over a template to a flow role. Rules are evaluated
// in order; the first match wins.
type Rule struct {
	Name  string
	Role  Role
	Match func(models.Template) bool
}

// Policy is an ordered list of classification rules. The rule set is data:
// callers may extend or replace it without touching the synthesizer.
type Policy []Rule

// Default vocabularies. Triggers are compared case-insensitively.
var (
	greetingVocabulary = []string{"oi", "olá", "menu", "dia", "tarde", "noite", "bom dia", "boa tarde", "boa noite"}
	menuDigits         = []string{"1", "2", "3", "4", "5"}
	humanVocabulary    = []string{"3", "operador", "atendente", "humano", "pessoa"}
	purchaseVocabulary = []string{"comprar", "passagem", "1"}
)

// specialTokenPrefixes and specialTokenSuffixes detect triggers fired by the
// booking backend rather than typed by users.
var (
	specialTokenSubstrings = []string{"CIDADE_"}
	specialTokenSuffixes   = []string{"_DISPONIVEL", "_NAO_DISPONIVEL"}
)

// DefaultPolicy returns the built-in classification rules, in precedence
// order: greeting, human handoff, menu option, programmatic condition.
func DefaultPolicy() Policy {
	return Policy{
		{
			Name: "greeting",
			Role: RoleWelcome,
			Match: func(t models.Template) bool {
				return intersects(t.Triggers, greetingVocabulary)
			},
		},
		{
			// A menu option that also carries a handoff keyword is routed to
			// a human instead of an automatic reply.
			Name: "human-handoff",
			Role: RoleHuman,
			Match: func(t models.Template) bool {
				return intersects(t.Triggers, menuDigits) &&
					!intersects(t.Triggers, greetingVocabulary) &&
					intersects(t.Triggers, humanVocabulary)
			},
		},
		{
			Name: "menu-option",
			Role: RoleMenuOption,
			Match: func(t models.Template) bool {
				return intersects(t.Triggers, menuDigits) &&
					!intersects(t.Triggers, greetingVocabulary)
			},
		},
		{
			Name: "special-token",
			Role: RoleCondition,
			Match: func(t models.Template) bool {
				for _, trig := range t.Triggers {
					if hasSpecialToken(trig) {
						return true
					}
				}
				return false
			},
		},
	}
}

// Classify assigns a role to the template using the policy's rules in order.
// Templates matching no rule are RoleUnclassified.
func (p Policy) Classify(t models.Template) Role {
	for _, rule := range p {
		if rule.Match(t) {
			return rule.Role
		}
	}
	return RoleUnclassified
}

// intersects reports whether any element of triggers equals any element of
// vocabulary, case-insensitively.
func intersects(triggers, vocabulary []string) bool {
	for _, trig := range triggers {
		lt := strings.ToLower(strings.TrimSpace(trig))
		for _, word := range vocabulary {
			if lt == word {
				return true
			}
		}
	}
	return false
}

func hasSpecialToken(trigger string) bool {
	upper := strings.ToUpper(strings.TrimSpace(trigger))
	for _, sub := range specialTokenSubstrings {
		if strings.Contains(upper, sub) {
			return true
		}
	}
	for _, suffix := range specialTokenSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// menuDigit returns the numeric menu trigger of a template, or 0 if none.
// Menu options are sorted ascending by this value during synthesis.
func menuDigit(t models.Template) int {
	for _, trig := range t.Triggers {
		n, err := strconv.Atoi(strings.TrimSpace(trig))
		if err == nil && n >= 1 && n <= 5 {
			return n
		}
	}
	return 0
}

// intersectsPurchase reports whether the template answers a purchase menu
// selection; condition nodes attach below the first such menu option.
func intersectsPurchase(t models.Template) bool {
	return intersects(t.Triggers, purchaseVocabulary)
}
