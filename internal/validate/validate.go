// Package validate decides whether raw generated content may reach the game.
//
// Content passes three gates in order: JSON well-formedness, the structural
// JSON Schema, and semantic checks against the item catalog and the draft the
// content answers. Every gate reports errors as a flat, sorted list so the
// same input always yields the same result and the list can be fed back into
// a regeneration request.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tatianab/conestoga/internal/models"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	draftSchemaURL      = "https://conestoga.local/schemas/draft.schema.json"
	resolutionSchemaURL = "https://conestoga.local/schemas/resolution.schema.json"
)

// Limits bounds free text.
type Limits struct {
	Title               int
	Narrative           int
	ResolutionNarrative int
	ChoiceText          int
	JournalText         int
	MaxAdvanceDays      int
}

// DefaultLimits are the built-in text bounds.
var DefaultLimits = Limits{
	Title:               80,
	Narrative:           800,
	ResolutionNarrative: 900,
	ChoiceText:          120,
	JournalText:         200,
	MaxAdvanceDays:      7,
}

// Rules is the reference data validation checks against.
type Rules struct {
	Catalog *models.ItemCatalog
	Skills  []string
	Members []string
	Limits  Limits
	Filter  *Filter
}

// Option customizes a Validator.
type Option func(*Rules)

// WithMembers sets the party member ids modify_stat may target.
func WithMembers(ids ...string) Option {
	return func(r *Rules) { r.Members = ids }
}

// WithSkills sets the skill names checks and prerequisites may name.
func WithSkills(skills ...string) Option {
	return func(r *Rules) { r.Skills = skills }
}

// WithLimits replaces the text bounds.
func WithLimits(l Limits) Option {
	return func(r *Rules) { r.Limits = l }
}

// WithFilter replaces the disallowed-content filter. nil disables filtering.
func WithFilter(f *Filter) Option {
	return func(r *Rules) { r.Filter = f }
}

// Validator is stateless after construction and safe for concurrent use.
type Validator struct {
	rules      Rules
	draft      *jsonschema.Schema
	resolution *jsonschema.Schema
}

// New compiles the schemas and returns a validator for catalog.
func New(catalog *models.ItemCatalog, opts ...Option) (*Validator, error) {
	defaults := models.NewGameState(0, 0)
	rules := Rules{
		Catalog: catalog,
		Skills:  []string{"hunter", "guide", "doctor"},
		Limits:  DefaultLimits,
		Filter:  NewFilter(),
	}
	for _, m := range defaults.Party {
		rules.Members = append(rules.Members, m.ID)
	}
	for _, opt := range opts {
		opt(&rules)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	for url, name := range map[string]string{
		draftSchemaURL:      "schemas/draft.schema.json",
		resolutionSchemaURL: "schemas/resolution.schema.json",
	} {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	draft, err := c.Compile(draftSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile draft schema: %w", err)
	}
	resolution, err := c.Compile(resolutionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile resolution schema: %w", err)
	}
	return &Validator{rules: rules, draft: draft, resolution: resolution}, nil
}

// Rules returns the reference data in use.
func (v *Validator) Rules() Rules {
	return v.rules
}

// ValidateDraft parses and checks raw as an EventDraft.
func (v *Validator) ValidateDraft(raw string) (models.ValidationResult, *models.EventDraft) {
	var d models.EventDraft
	if errs := v.decode(raw, v.draft, &d); len(errs) > 0 {
		return models.Reject(errs...), nil
	}
	res := v.CheckDraft(d)
	if !res.OK {
		return res, nil
	}
	return res, &d
}

// ValidateResolution parses and checks raw as the resolution of one of
// draft's choices.
func (v *Validator) ValidateResolution(raw string, draft models.EventDraft) (models.ValidationResult, *models.EventResolution) {
	var doc models.ResolutionDoc
	if errs := v.decode(raw, v.resolution, &doc); len(errs) > 0 {
		return models.Reject(errs...), nil
	}
	doc.EventID = draft.EventID
	if errs := v.checkResolutionDoc(doc, draft); len(errs) > 0 {
		return models.Reject(errs...), nil
	}
	r, err := doc.Resolution()
	if err != nil {
		return models.Reject(err.Error()), nil
	}
	return models.Accept(), &r
}

// CheckDraft runs the semantic checks on an already-typed draft.
func (v *Validator) CheckDraft(d models.EventDraft) models.ValidationResult {
	if errs := v.checkDraft(d); len(errs) > 0 {
		return models.Reject(errs...)
	}
	return models.Accept()
}

// CheckResolution runs the semantic checks on an already-typed resolution.
// It is the second pass before effects are applied.
func (v *Validator) CheckResolution(r models.EventResolution, draft models.EventDraft) models.ValidationResult {
	doc := models.DocOf(r)
	if doc.EventID != draft.EventID {
		return models.Reject(fmt.Sprintf("event_id %q does not match draft %q", doc.EventID, draft.EventID))
	}
	if errs := v.checkResolutionDoc(doc, draft); len(errs) > 0 {
		return models.Reject(errs...)
	}
	return models.Accept()
}

// decode strips code fences, checks well-formedness and the schema, then
// decodes into out.
func (v *Validator) decode(raw string, schema *jsonschema.Schema, out any) []string {
	text := CleanJSON(raw)
	if text == "" {
		return []string{"empty response"}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []string{fmt.Sprintf("malformed JSON: %v", err)}
	}
	if dec.More() {
		return []string{"malformed JSON: trailing data after document"}
	}
	if err := schema.Validate(doc); err != nil {
		return flatten(err)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return []string{fmt.Sprintf("decode: %v", err)}
	}
	return nil
}

// CleanJSON removes Markdown code fences around a JSON document.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func flatten(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return slices.Compact(out)
}

func (v *Validator) checkDraft(d models.EventDraft) []string {
	var errs []string
	l := v.rules.Limits

	if strings.TrimSpace(d.Title) == "" {
		errs = append(errs, "title: must not be empty")
	} else if n := utf8.RuneCountInString(d.Title); n > l.Title {
		errs = append(errs, fmt.Sprintf("title: %d characters exceeds %d", n, l.Title))
	}
	if strings.TrimSpace(d.Narrative) == "" {
		errs = append(errs, "narrative: must not be empty")
	} else if n := utf8.RuneCountInString(d.Narrative); n > l.Narrative {
		errs = append(errs, fmt.Sprintf("narrative: %d characters exceeds %d", n, l.Narrative))
	}
	if d.Tier != "" && !d.Tier.Valid() {
		errs = append(errs, fmt.Sprintf("tier: unknown tier %q", d.Tier))
	}
	if n := len(d.Choices); n < 2 || n > 3 {
		errs = append(errs, fmt.Sprintf("choices: expected 2-3 choices, got %d", n))
	}

	ids := make(map[string]bool)
	texts := make(map[string]bool)
	fields := map[string]string{"title": d.Title, "narrative": d.Narrative}
	for i, c := range d.Choices {
		at := fmt.Sprintf("choices[%d]", i)
		if c.ID == "" {
			errs = append(errs, at+": choice_id must not be empty")
		} else if ids[c.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate choice_id %q", at, c.ID))
		}
		ids[c.ID] = true

		text := strings.ToLower(strings.TrimSpace(c.Text))
		switch {
		case text == "":
			errs = append(errs, at+": text must not be empty")
		case texts[text]:
			errs = append(errs, fmt.Sprintf("%s: duplicate text %q", at, c.Text))
		case utf8.RuneCountInString(c.Text) > l.ChoiceText:
			errs = append(errs, fmt.Sprintf("%s: text exceeds %d characters", at, l.ChoiceText))
		}
		texts[text] = true
		fields[at+".text"] = c.Text

		for j, p := range c.Prerequisites {
			if msg := v.checkPrerequisite(p); msg != "" {
				errs = append(errs, fmt.Sprintf("%s.prerequisites[%d]: %s", at, j, msg))
			}
		}
		if c.Check != nil {
			if c.Check.Skill != "" && !slices.Contains(v.rules.Skills, c.Check.Skill) {
				errs = append(errs, fmt.Sprintf("%s.check: unknown skill %q", at, c.Check.Skill))
			}
			if c.Check.DC < 1 || c.Check.DC > 30 {
				errs = append(errs, fmt.Sprintf("%s.check: dc %d out of range 1-30", at, c.Check.DC))
			}
		}
	}
	errs = append(errs, v.rules.Filter.Check(fields)...)
	return errs
}

func (v *Validator) checkPrerequisite(p models.Prerequisite) string {
	switch p.Kind {
	case models.PrereqHasItem:
		if !v.rules.Catalog.Has(p.Target) {
			return fmt.Sprintf("unknown item %q", p.Target)
		}
	case models.PrereqResourceAtLeast:
		if !models.IsResource(p.Target) {
			return fmt.Sprintf("unknown resource %q", p.Target)
		}
	case models.PrereqSkillAtLeast:
		if !slices.Contains(v.rules.Skills, p.Target) {
			return fmt.Sprintf("unknown skill %q", p.Target)
		}
	case models.PrereqFlagSet:
		if p.Target == "" {
			return "flag must not be empty"
		}
	default:
		return fmt.Sprintf("unknown prerequisite kind %q", p.Kind)
	}
	if p.Value < 0 {
		return fmt.Sprintf("value %d is negative", p.Value)
	}
	return ""
}

func (v *Validator) checkResolutionDoc(doc models.ResolutionDoc, draft models.EventDraft) []string {
	var errs []string
	l := v.rules.Limits

	choice, ok := draft.Choice(doc.ChoiceID)
	if !ok {
		errs = append(errs, fmt.Sprintf("choice_id: %q is not a choice of event %s", doc.ChoiceID, draft.EventID))
	}

	fields := map[string]string{"narrative": doc.Narrative}
	if n := utf8.RuneCountInString(doc.Narrative); n > l.ResolutionNarrative {
		errs = append(errs, fmt.Sprintf("narrative: %d characters exceeds %d", n, l.ResolutionNarrative))
	}
	errs = append(errs, v.checkEffects("effects", doc.Effects, fields)...)

	branches := 0
	for name, b := range map[string]*models.BranchDoc{"success": doc.Success, "failure": doc.Failure} {
		if b == nil {
			continue
		}
		branches++
		fields[name+".narrative"] = b.Narrative
		if n := utf8.RuneCountInString(b.Narrative); n > l.ResolutionNarrative {
			errs = append(errs, fmt.Sprintf("%s.narrative: %d characters exceeds %d", name, n, l.ResolutionNarrative))
		}
		errs = append(errs, v.checkEffects(name+".effects", b.Effects, fields)...)
	}

	if ok {
		switch {
		case choice.Check != nil && branches != 2:
			errs = append(errs, "check: choice declares a check but resolution lacks success and failure branches")
		case choice.Check == nil && branches != 0:
			errs = append(errs, "check: resolution has branches but the choice declares no check")
		}
	}
	if strings.TrimSpace(doc.Narrative) == "" {
		if doc.Success == nil || doc.Failure == nil ||
			strings.TrimSpace(doc.Success.Narrative) == "" || strings.TrimSpace(doc.Failure.Narrative) == "" {
			errs = append(errs, "narrative: must not be empty")
		}
	}

	if h := doc.Followup; h != nil {
		if h.Tag == "" {
			errs = append(errs, "followup_hook: tag must not be empty")
		}
		if h.Earliest < 0 || h.Latest < h.Earliest {
			errs = append(errs, fmt.Sprintf("followup_hook: window %d..%d is invalid", h.Earliest, h.Latest))
		}
	}

	errs = append(errs, v.rules.Filter.Check(fields)...)
	sort.Strings(errs)
	return errs
}

func (v *Validator) checkEffects(at string, specs []models.EffectSpec, fields map[string]string) []string {
	var errs []string
	for i, s := range specs {
		path := fmt.Sprintf("%s[%d]", at, i)
		if msg := v.checkEffect(s); msg != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", path, msg))
		}
		if s.Op == string(models.EffectLogJournal) {
			fields[path+".text"] = s.Text
		}
	}
	return errs
}

func (v *Validator) checkEffect(s models.EffectSpec) string {
	l := v.rules.Limits
	switch models.EffectKind(s.Op) {
	case models.EffectAddItem, models.EffectRemoveItem:
		if !v.rules.Catalog.Has(s.Target) {
			return fmt.Sprintf("unknown item %q", s.Target)
		}
		if s.Value <= 0 {
			return fmt.Sprintf("%s quantity must be positive, got %d", s.Op, s.Value)
		}
	case models.EffectModifyResource:
		if !models.IsResource(s.Target) {
			return fmt.Sprintf("unknown resource %q", s.Target)
		}
	case models.EffectModifyStat:
		if s.Target != models.TargetParty && s.Target != models.TargetRandom && !slices.Contains(v.rules.Members, s.Target) {
			return fmt.Sprintf("unknown party member %q", s.Target)
		}
		if s.Stat != models.StatHealth && s.Stat != models.StatMorale {
			return fmt.Sprintf("unknown stat %q", s.Stat)
		}
	case models.EffectSetFlag, models.EffectClearFlag:
		if s.Target == "" {
			return "flag must not be empty"
		}
	case models.EffectAdvanceTime:
		if s.Value < 1 || s.Value > l.MaxAdvanceDays {
			return fmt.Sprintf("advance_time days %d out of range 1-%d", s.Value, l.MaxAdvanceDays)
		}
	case models.EffectDamageWagon, models.EffectRepairWagon:
		if s.Value < 0 || s.Value > 100 {
			return fmt.Sprintf("%s amount %d out of range 0-100", s.Op, s.Value)
		}
	case models.EffectLogJournal:
		if strings.TrimSpace(s.Text) == "" {
			return "journal text must not be empty"
		}
		if utf8.RuneCountInString(s.Text) > l.JournalText {
			return fmt.Sprintf("journal text exceeds %d characters", l.JournalText)
		}
	case models.EffectQueueFollowup:
		if s.Target == "" {
			return "followup tag must not be empty"
		}
		if s.Earliest < 0 || s.Latest < s.Earliest {
			return fmt.Sprintf("followup window %d..%d is invalid", s.Earliest, s.Latest)
		}
	default:
		return fmt.Sprintf("effect op %q is not whitelisted", s.Op)
	}
	return ""
}
