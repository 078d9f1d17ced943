package models

import "fmt"

// BranchDoc is the wire form of a Branch.
type BranchDoc struct {
	Narrative string       `json:"narrative" yaml:"narrative"`
	Effects   []EffectSpec `json:"effects,omitempty" yaml:"effects"`
}

// ResolutionDoc is the wire form of an EventResolution, used for generated
// JSON and for deck YAML.
type ResolutionDoc struct {
	ResolutionID string        `json:"resolution_id" yaml:"resolution_id"`
	EventID      string        `json:"event_id" yaml:"event_id"`
	ChoiceID     string        `json:"choice_id" yaml:"choice_id"`
	Narrative    string        `json:"narrative" yaml:"narrative"`
	Effects      []EffectSpec  `json:"effects,omitempty" yaml:"effects"`
	Success      *BranchDoc    `json:"success,omitempty" yaml:"success,omitempty"`
	Failure      *BranchDoc    `json:"failure,omitempty" yaml:"failure,omitempty"`
	Followup     *FollowupHook `json:"followup_hook,omitempty" yaml:"followup_hook,omitempty"`
}

// Resolution converts the wire form into typed effects.
func (d ResolutionDoc) Resolution() (EventResolution, error) {
	effects, err := toEffects(d.Effects)
	if err != nil {
		return EventResolution{}, err
	}
	r := EventResolution{
		ResolutionID: d.ResolutionID,
		EventID:      d.EventID,
		ChoiceID:     d.ChoiceID,
		Narrative:    d.Narrative,
		Effects:      effects,
	}
	if d.Success != nil {
		if r.Success, err = d.Success.branch(); err != nil {
			return EventResolution{}, fmt.Errorf("success: %w", err)
		}
	}
	if d.Failure != nil {
		if r.Failure, err = d.Failure.branch(); err != nil {
			return EventResolution{}, fmt.Errorf("failure: %w", err)
		}
	}
	if d.Followup != nil {
		hook := *d.Followup
		r.Followup = &hook
	}
	return r, nil
}

func (b BranchDoc) branch() (*Branch, error) {
	effects, err := toEffects(b.Effects)
	if err != nil {
		return nil, err
	}
	return &Branch{Narrative: b.Narrative, Effects: effects}, nil
}

func toEffects(specs []EffectSpec) ([]Effect, error) {
	effects := make([]Effect, 0, len(specs))
	for i, s := range specs {
		e, err := s.Effect()
		if err != nil {
			return nil, fmt.Errorf("effects[%d]: %w", i, err)
		}
		effects = append(effects, e)
	}
	return effects, nil
}

// DocOf converts a resolution back to its wire form.
func DocOf(r EventResolution) ResolutionDoc {
	d := ResolutionDoc{
		ResolutionID: r.ResolutionID,
		EventID:      r.EventID,
		ChoiceID:     r.ChoiceID,
		Narrative:    r.Narrative,
		Effects:      specsOf(r.Effects),
	}
	if r.Success != nil {
		d.Success = &BranchDoc{Narrative: r.Success.Narrative, Effects: specsOf(r.Success.Effects)}
	}
	if r.Failure != nil {
		d.Failure = &BranchDoc{Narrative: r.Failure.Narrative, Effects: specsOf(r.Failure.Effects)}
	}
	if r.Followup != nil {
		hook := *r.Followup
		d.Followup = &hook
	}
	return d
}

func specsOf(effects []Effect) []EffectSpec {
	specs := make([]EffectSpec, 0, len(effects))
	for _, e := range effects {
		specs = append(specs, SpecOf(e))
	}
	return specs
}
