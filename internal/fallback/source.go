// Package fallback supplies offline content and tracks degraded-mode status.
package fallback

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/content"
	"github.com/tatianab/conestoga/internal/models"
)

type entry struct {
	content.DeckEntry
	when cel.Program
}

// Source picks events from the local deck. It makes no external calls and is
// safe for concurrent use.
type Source struct {
	mu      sync.Mutex
	rng     *rand.Rand
	entries []entry
	byID    map[string]int
	logger  *zap.Logger
}

// NewSource compiles the deck's eligibility expressions. seed drives the
// weighted pick.
func NewSource(deck []content.DeckEntry, seed int64, logger *zap.Logger) (*Source, error) {
	if len(deck) == 0 {
		return nil, fmt.Errorf("fallback: empty deck")
	}
	env, err := cel.NewEnv(
		cel.Variable("state", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}

	s := &Source{
		rng:    rand.New(rand.NewSource(seed)),
		byID:   make(map[string]int, len(deck)),
		logger: logger,
	}
	for i, d := range deck {
		e := entry{DeckEntry: d}
		if d.When != "" {
			ast, iss := env.Compile(d.When)
			if iss.Err() != nil {
				return nil, fmt.Errorf("fallback: %s when: %w", d.EventID, iss.Err())
			}
			if !ast.OutputType().IsExactType(cel.BoolType) {
				return nil, fmt.Errorf("fallback: %s when: expression is %v, not bool", d.EventID, ast.OutputType())
			}
			if e.when, err = env.Program(ast); err != nil {
				return nil, fmt.Errorf("fallback: %s when: %w", d.EventID, err)
			}
		}
		s.byID[d.EventID] = i
		s.entries = append(s.entries, e)
	}
	return s, nil
}

// Entries returns the deck in authored order.
func (s *Source) Entries() []content.DeckEntry {
	out := make([]content.DeckEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.DeckEntry
	}
	return out
}

// NextEvent picks a deck event for the given state. Only events with at
// least one available choice are offered. Events continuing a due follow-up
// are preferred and recently seen events are avoided when possible.
func (s *Source) NextEvent(sum models.Summary) models.EventDraft {
	vars := celVars(sum)

	var eligible, continuing []int
	for i, e := range s.entries {
		if e.FollowupTag != "" && !slices.Contains(sum.DueFollowups, e.FollowupTag) {
			continue
		}
		if !s.matches(e, vars) || !e.Playable(sum) {
			continue
		}
		eligible = append(eligible, i)
		if e.FollowupTag != "" {
			continuing = append(continuing, i)
		}
	}

	pool := eligible
	switch {
	case len(continuing) > 0:
		pool = continuing
	case len(eligible) > 0:
		fresh := slices.DeleteFunc(slices.Clone(eligible), func(i int) bool {
			return sum.Recent(s.entries[i].EventID)
		})
		if len(fresh) > 0 {
			pool = fresh
		}
	default:
		for i, e := range s.entries {
			if e.FollowupTag == "" && e.Playable(sum) {
				pool = append(pool, i)
			}
		}
		if len(pool) == 0 {
			s.logger.Warn("no playable deck event, adding a press-on choice", zap.Int("day", sum.Day))
			return withPressOn(cloneDraft(s.entries[0].EventDraft))
		}
	}

	pick := s.pick(pool)
	return cloneDraft(s.entries[pick].EventDraft)
}

// PressOnID is the unconditional choice given to an event that offers the
// party nothing it can take.
const PressOnID = "press_on"

// maxChoices is the most choices an event may carry.
const maxChoices = 3

// withPressOn returns d with an unconditional press-on choice, replacing the
// last choice when d is already full. Its outcome is the neutral one.
func withPressOn(d models.EventDraft) models.EventDraft {
	d.Choices = slices.Clone(d.Choices)
	pressOn := models.Choice{ID: PressOnID, Text: "Leave it be and press on."}
	if len(d.Choices) >= maxChoices {
		d.Choices[len(d.Choices)-1] = pressOn
	} else {
		d.Choices = append(d.Choices, pressOn)
	}
	return d
}

func (s *Source) pick(pool []int) int {
	total := 0
	for _, i := range pool {
		total += max(s.entries[i].Weight, 1)
	}

	s.mu.Lock()
	n := s.rng.Intn(total)
	s.mu.Unlock()

	for _, i := range pool {
		n -= max(s.entries[i].Weight, 1)
		if n < 0 {
			return i
		}
	}
	return pool[len(pool)-1]
}

func (s *Source) matches(e entry, vars map[string]any) bool {
	if e.when == nil {
		return true
	}
	out, _, err := e.when.Eval(vars)
	if err != nil {
		s.logger.Warn("deck condition failed", zap.String("event_id", e.EventID), zap.Error(err))
		return false
	}
	ok, _ := out.Value().(bool)
	return ok
}

// ResolutionFor returns the authored resolution for a deck event.
func (s *Source) ResolutionFor(eventID, choiceID string) (models.EventResolution, bool) {
	i, ok := s.byID[eventID]
	if !ok {
		return models.EventResolution{}, false
	}
	doc, ok := s.entries[i].Resolution(choiceID)
	if !ok {
		return models.EventResolution{}, false
	}
	r, err := doc.Resolution()
	if err != nil {
		s.logger.Error("deck resolution is malformed", zap.String("event_id", eventID), zap.String("choice_id", choiceID), zap.Error(err))
		return models.EventResolution{}, false
	}
	return r, true
}

// Neutral is a generic, effect-free outcome for a generated event whose
// resolution could not be produced. Checked choices get matching empty
// branches so the outcome passes validation.
func (s *Source) Neutral(draft models.EventDraft, choiceID string) models.EventResolution {
	r := models.EventResolution{
		ResolutionID: draft.EventID + "/" + choiceID + "/neutral",
		EventID:      draft.EventID,
		ChoiceID:     choiceID,
		Narrative:    "The moment passes without consequence, and the wagon rolls on.",
		Effects:      []models.Effect{},
	}
	if c, ok := draft.Choice(choiceID); ok && c.Check != nil {
		r.Success = &models.Branch{Narrative: r.Narrative, Effects: []models.Effect{}}
		r.Failure = &models.Branch{Narrative: r.Narrative, Effects: []models.Effect{}}
	}
	return r
}

func cloneDraft(d models.EventDraft) models.EventDraft {
	d.Choices = slices.Clone(d.Choices)
	for i, c := range d.Choices {
		d.Choices[i].Prerequisites = slices.Clone(c.Prerequisites)
		if c.Check != nil {
			check := *c.Check
			d.Choices[i].Check = &check
		}
	}
	return d
}

// celVars exposes a summary to deck conditions as `state`.
func celVars(sum models.Summary) map[string]any {
	return map[string]any{
		"state": map[string]any{
			"day":            int64(sum.Day),
			"miles_traveled": int64(sum.Miles),
			"target_miles":   int64(sum.TargetMiles),
			"biome":          string(sum.Biome),
			"weather":        string(sum.Weather),
			"resources":      intMap(sum.Resources),
			"inventory":      intMap(sum.Inventory),
			"flags":          anyList(sum.Flags),
			"due_followups":  anyList(sum.DueFollowups),
			"recent_events":  anyList(sum.RecentEvents),
			"events_seen":    int64(sum.EventsSeen),
		},
	}
}

func intMap(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = int64(v)
	}
	return out
}

func anyList(list []string) []any {
	out := make([]any, len(list))
	for i, v := range list {
		out[i] = v
	}
	return out
}
