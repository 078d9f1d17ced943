package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tatianab/conestoga/internal/models"
)

//go:embed tuning.yaml
var defaultTuning []byte

// Profile is the generation configuration for one tier.
type Profile struct {
	Model           string        `yaml:"model"`
	Temperature     float32       `yaml:"temperature"`
	MaxOutputTokens int32         `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Tuning holds the game balance and generation profiles.
type Tuning struct {
	Profiles map[models.Tier]Profile `yaml:"profiles"`

	TargetMiles       int      `yaml:"target_miles"`
	HistoryCap        int      `yaml:"history_cap"`
	MaxEventChance    float64  `yaml:"max_event_chance"`
	EventRampDays     int      `yaml:"event_ramp_days"`
	ChapterEvery      int      `yaml:"chapter_every"`
	CriticalResources []string `yaml:"critical_resources"`
}

// DefaultTuning returns the embedded tuning.
func DefaultTuning() Tuning {
	t, err := parseTuning(defaultTuning)
	if err != nil {
		panic(fmt.Sprintf("embedded tuning.yaml: %v", err))
	}
	return t
}

// LoadTuning reads a tuning file over the defaults. An empty path returns
// the defaults.
func LoadTuning(path string) (Tuning, error) {
	if path == "" {
		return DefaultTuning(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}
	t := DefaultTuning()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, t.validate()
}

func parseTuning(raw []byte) (Tuning, error) {
	var t Tuning
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, err
	}
	return t, t.validate()
}

func (t Tuning) validate() error {
	for _, tier := range []models.Tier{models.TierMinor, models.TierChapter} {
		p, ok := t.Profiles[tier]
		if !ok {
			return fmt.Errorf("tuning: no profile for tier %s", tier)
		}
		if p.Model == "" || p.Timeout <= 0 {
			return fmt.Errorf("tuning: profile %s needs a model and a timeout", tier)
		}
	}
	if t.TargetMiles <= 0 {
		return fmt.Errorf("tuning: target_miles must be positive")
	}
	if t.MaxEventChance <= 0 || t.MaxEventChance > 1 {
		return fmt.Errorf("tuning: max_event_chance must be in (0, 1]")
	}
	for _, r := range t.CriticalResources {
		if !models.IsResource(r) {
			return fmt.Errorf("tuning: unknown critical resource %q", r)
		}
	}
	return nil
}
