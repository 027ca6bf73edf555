package flow

import (
	"strings"

	"github.com/zapflow/zapflow/internal/models"
)

// PlaceholderName is the token in a response text replaced with the
// recipient's name before sending.
const PlaceholderName = "{name}"

// MatchTemplate selects the template that answers the given user text. It
// returns the first active template, by list order, any of whose triggers is
// a case-insensitive substring of the input. This is the production reply
// semantics; the simulator replays exactly this function so its transcripts
// are trustworthy.
func MatchTemplate(templates []models.Template, userText string) (models.Template, bool) {
	input := strings.ToLower(userText)
	for _, t := range templates {
		if !t.Active {
			continue
		}
		for _, trig := range t.Triggers {
			trig = strings.ToLower(strings.TrimSpace(trig))
			if trig == "" {
				continue
			}
			if strings.Contains(input, trig) {
				return t, true
			}
		}
	}
	return models.Template{}, false
}

// RenderResponse substitutes every occurrence of the {name} placeholder in
// the template response with the given name.
func RenderResponse(t models.Template, name string) string {
	return strings.ReplaceAll(t.Response, PlaceholderName, name)
}
