// Package content loads the item catalog and the offline event deck.
package content

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tatianab/conestoga/internal/models"
)

//go:embed data/*.yaml
var embedded embed.FS

const (
	itemsFile = "items.yaml"
	deckFile  = "deck.yaml"
)

// DeckEntry is one authored event with a resolution per choice.
type DeckEntry struct {
	models.EventDraft `yaml:",inline"`

	// Weight biases the pick; zero means 1.
	Weight int `yaml:"weight,omitempty"`
	// When is a CEL boolean over `state`; empty means always eligible.
	When        string                          `yaml:"when,omitempty"`
	Resolutions map[string]models.ResolutionDoc `yaml:"resolutions"`
}

// Resolution returns the authored resolution for choiceID with ids filled in.
func (e DeckEntry) Resolution(choiceID string) (models.ResolutionDoc, bool) {
	doc, ok := e.Resolutions[choiceID]
	if !ok {
		return models.ResolutionDoc{}, false
	}
	doc.EventID = e.EventID
	doc.ChoiceID = choiceID
	if doc.ResolutionID == "" {
		doc.ResolutionID = e.EventID + "/" + choiceID
	}
	if doc.Effects == nil {
		doc.Effects = []models.EffectSpec{}
	}
	return doc, true
}

// Pack is the loaded content.
type Pack struct {
	Catalog *models.ItemCatalog
	Deck    []DeckEntry
}

// Load reads the content pack. Files present in dir replace the embedded
// defaults; an empty dir loads only the defaults.
func Load(dir string) (*Pack, error) {
	var items []models.ItemDef
	if err := readYAML(dir, itemsFile, &items); err != nil {
		return nil, err
	}
	var deck []DeckEntry
	if err := readYAML(dir, deckFile, &deck); err != nil {
		return nil, err
	}
	if len(deck) == 0 {
		return nil, fmt.Errorf("content: deck is empty")
	}
	seen := make(map[string]bool, len(deck))
	for i, e := range deck {
		if e.EventID == "" {
			return nil, fmt.Errorf("content: deck entry %d has no event_id", i)
		}
		if seen[e.EventID] {
			return nil, fmt.Errorf("content: duplicate deck event %s", e.EventID)
		}
		seen[e.EventID] = true
		if e.Tier == "" {
			deck[i].Tier = models.TierMinor
		}
	}
	return &Pack{Catalog: models.NewItemCatalog(items), Deck: deck}, nil
}

// Default loads the embedded pack.
func Default() (*Pack, error) {
	return Load("")
}

func readYAML(dir, name string, v any) error {
	var (
		data []byte
		err  error
	)
	if dir != "" {
		data, err = os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			data, err = embedded.ReadFile("data/" + name)
		}
	} else {
		data, err = embedded.ReadFile("data/" + name)
	}
	if err != nil {
		return fmt.Errorf("content: read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("content: parse %s: %w", name, err)
	}
	return nil
}
