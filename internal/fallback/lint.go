package fallback

import (
	"encoding/json"

	"github.com/tatianab/conestoga/internal/content"
	"github.com/tatianab/conestoga/internal/validate"
)

// Issue is a deck entry that fails validation.
type Issue struct {
	EventID  string
	ChoiceID string
	Errors   []string
}

// Lint encodes every deck event and resolution to the wire format and runs it
// through v, so deck content meets the same contract as generated content.
func Lint(deck []content.DeckEntry, v *validate.Validator) []Issue {
	var issues []Issue
	for _, e := range deck {
		raw, err := json.Marshal(e.EventDraft)
		if err != nil {
			issues = append(issues, Issue{EventID: e.EventID, Errors: []string{err.Error()}})
			continue
		}
		res, draft := v.ValidateDraft(string(raw))
		if !res.OK {
			issues = append(issues, Issue{EventID: e.EventID, Errors: res.Errors})
			continue
		}
		for _, c := range draft.Choices {
			doc, ok := e.Resolution(c.ID)
			if !ok {
				issues = append(issues, Issue{EventID: e.EventID, ChoiceID: c.ID, Errors: []string{"no resolution authored"}})
				continue
			}
			raw, err := json.Marshal(doc)
			if err != nil {
				issues = append(issues, Issue{EventID: e.EventID, ChoiceID: c.ID, Errors: []string{err.Error()}})
				continue
			}
			if res, _ := v.ValidateResolution(string(raw), *draft); !res.OK {
				issues = append(issues, Issue{EventID: e.EventID, ChoiceID: c.ID, Errors: res.Errors})
			}
		}
		for id := range e.Resolutions {
			if _, ok := draft.Choice(id); !ok {
				issues = append(issues, Issue{EventID: e.EventID, ChoiceID: id, Errors: []string{"resolution for unknown choice"}})
			}
		}
	}
	return issues
}
