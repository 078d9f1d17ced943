package models

import (
	"fmt"
	"time"
)

// Tier controls the depth/latency trade-off of a generated event.
type Tier string

const (
	TierMinor   Tier = "minor"
	TierChapter Tier = "chapter"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierMinor || t == TierChapter
}

// StateView is the read-only surface prerequisites are evaluated against.
// Both GameState and Summary implement it.
type StateView interface {
	Resource(name string) int
	ItemCount(id string) int
	HasFlag(flag string) bool
	BestSkill(skill string) int
}

// PrerequisiteKind names a machine-checkable predicate.
type PrerequisiteKind string

const (
	PrereqHasItem         PrerequisiteKind = "has_item"
	PrereqResourceAtLeast PrerequisiteKind = "resource_at_least"
	PrereqFlagSet         PrerequisiteKind = "flag_set"
	PrereqSkillAtLeast    PrerequisiteKind = "skill_at_least"
)

// Prerequisite gates a choice on the current state.
type Prerequisite struct {
	Kind   PrerequisiteKind `json:"kind" yaml:"kind"`
	Target string           `json:"target" yaml:"target"`
	Value  int              `json:"value,omitempty" yaml:"value,omitempty"`
}

// Met evaluates the predicate.
func (p Prerequisite) Met(v StateView) bool {
	switch p.Kind {
	case PrereqHasItem:
		return v.ItemCount(p.Target) >= max(p.Value, 1)
	case PrereqResourceAtLeast:
		return v.Resource(p.Target) >= p.Value
	case PrereqFlagSet:
		return v.HasFlag(p.Target)
	case PrereqSkillAtLeast:
		return v.BestSkill(p.Target) >= p.Value
	}
	return false
}

// Reason describes the requirement for a locked choice.
func (p Prerequisite) Reason() string {
	switch p.Kind {
	case PrereqHasItem:
		return fmt.Sprintf("requires %s x%d", p.Target, max(p.Value, 1))
	case PrereqResourceAtLeast:
		return fmt.Sprintf("requires %s >= %d", p.Target, p.Value)
	case PrereqFlagSet:
		return fmt.Sprintf("requires %s", p.Target)
	case PrereqSkillAtLeast:
		return fmt.Sprintf("requires %s skill >= %d", p.Target, p.Value)
	}
	return "requirements not met"
}

// Check declares that a choice's outcome depends on a skill roll.
type Check struct {
	Skill string `json:"skill" yaml:"skill"`
	DC    int    `json:"dc" yaml:"dc"`
}

// Choice is one option offered by an event.
type Choice struct {
	ID            string         `json:"choice_id" yaml:"choice_id"`
	Text          string         `json:"text" yaml:"text"`
	Prerequisites []Prerequisite `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Check         *Check         `json:"check,omitempty" yaml:"check,omitempty"`
}

// Available reports whether every prerequisite is met.
func (c Choice) Available(v StateView) bool {
	for _, p := range c.Prerequisites {
		if !p.Met(v) {
			return false
		}
	}
	return true
}

// LockReason returns why the choice is unavailable, or "" if it is available.
func (c Choice) LockReason(v StateView) string {
	for _, p := range c.Prerequisites {
		if !p.Met(v) {
			return p.Reason()
		}
	}
	return ""
}

// EventDraft is a narrative event awaiting a player choice. It is treated as
// immutable once validated.
type EventDraft struct {
	EventID     string   `json:"event_id" yaml:"event_id"`
	Title       string   `json:"title" yaml:"title"`
	Tier        Tier     `json:"tier" yaml:"tier"`
	Narrative   string   `json:"narrative" yaml:"narrative"`
	Choices     []Choice `json:"choices" yaml:"choices"`
	FollowupTag string   `json:"followup_tag,omitempty" yaml:"followup_tag,omitempty"`
}

// Choice looks up a choice by id.
func (d EventDraft) Choice(id string) (Choice, bool) {
	for _, c := range d.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// Playable reports whether v can take at least one choice of d.
func (d EventDraft) Playable(v StateView) bool {
	for _, c := range d.Choices {
		if c.Available(v) {
			return true
		}
	}
	return false
}

// Branch is one side of a checked outcome.
type Branch struct {
	Narrative string
	Effects   []Effect
}

// FollowupHook asks for a story thread to resurface between Earliest and
// Latest days from the resolution.
type FollowupHook struct {
	Tag      string `json:"tag" yaml:"tag"`
	Earliest int    `json:"earliest" yaml:"earliest"`
	Latest   int    `json:"latest" yaml:"latest"`
}

// EventResolution is the outcome of a chosen option.
type EventResolution struct {
	ResolutionID string
	EventID      string
	ChoiceID     string
	Narrative    string
	Effects      []Effect
	Success      *Branch
	Failure      *Branch
	Followup     *FollowupHook
}

// HasCheck reports whether the resolution carries checked branches.
func (r EventResolution) HasCheck() bool {
	return r.Success != nil || r.Failure != nil
}

// Outcome returns the narrative and the ordered effect batch for a check
// result. Resolutions without a check ignore success. A follow-up hook is
// appended as a trailing queue_followup effect.
func (r EventResolution) Outcome(success bool) (string, []Effect) {
	narrative := r.Narrative
	effects := append([]Effect(nil), r.Effects...)
	branch := r.Failure
	if success {
		branch = r.Success
	}
	if branch != nil {
		if branch.Narrative != "" {
			narrative = branch.Narrative
		}
		effects = append(effects, branch.Effects...)
	}
	if r.Followup != nil {
		effects = append(effects, QueueFollowup{Tag: r.Followup.Tag, Earliest: r.Followup.Earliest, Latest: r.Followup.Latest})
	}
	return narrative, effects
}

// ValidationResult is the verdict on a piece of content. OK is never true
// while Errors is non-empty.
type ValidationResult struct {
	OK     bool
	Errors []string
}

// Accept returns a passing result.
func Accept() ValidationResult {
	return ValidationResult{OK: true}
}

// Reject returns a failing result carrying errs.
func Reject(errs ...string) ValidationResult {
	if len(errs) == 0 {
		errs = []string{"content rejected"}
	}
	return ValidationResult{Errors: errs}
}

// Source says where delivered content came from.
type Source string

const (
	SourcePrefetch Source = "prefetch"
	SourceDeck     Source = "deck"
)

// Reason says why content came from the deck instead of the service.
type Reason string

const (
	ReasonNone           Reason = "none"
	ReasonTimeout        Reason = "timeout"
	ReasonInvalidSchema  Reason = "invalid_schema"
	ReasonQuotaExhausted Reason = "quota_exhausted"
	ReasonNetworkError   Reason = "network_error"
	ReasonCancelled      Reason = "cancelled"
	ReasonOffline        Reason = "offline"
	ReasonUnplayable     Reason = "unplayable" // no choice of the event could be taken
)

// RecordKind distinguishes event and resolution deliveries.
type RecordKind string

const (
	RecordEvent      RecordKind = "event"
	RecordResolution RecordKind = "resolution"
)

// FallbackRecord is the provenance of one delivered draft or resolution.
type FallbackRecord struct {
	Kind      RecordKind
	Source    Source
	Reason    Reason
	EventID   string
	Timestamp time.Time
}

// Fallback reports whether the record describes deck content.
func (r FallbackRecord) Fallback() bool {
	return r.Source == SourceDeck
}

// Resolution outcomes recorded in history and the audit log.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
)

// ResolutionRecord is the audit trail of one applied or aborted resolution.
type ResolutionRecord struct {
	Day          int
	EventID      string
	ChoiceID     string
	ResolutionID string
	Source       Source
	Outcome      string
	Roll         int // 0 when the choice has no check
	Success      bool
	EffectIndex  int // failing effect, -1 when committed
	Error        string
	Timestamp    time.Time
}
