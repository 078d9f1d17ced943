package models

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultSaveDir is used when no save directory is configured.
const DefaultSaveDir = ".saves"

const stateFile = "state.yaml"

// SaveState writes state to dir/name/state.yaml.
func SaveState(dir, name string, state *GameState) error {
	if name == "" {
		return fmt.Errorf("save name is empty")
	}
	target := filepath.Join(dir, name)
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(filepath.Join(target, stateFile), data, 0644)
}

// LoadState reads a state saved by SaveState and checks its invariants.
func LoadState(dir, name string) (*GameState, error) {
	data, err := os.ReadFile(filepath.Join(dir, name, stateFile))
	if err != nil {
		return nil, err
	}
	var state GameState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if state.Resources == nil {
		state.Resources = make(map[string]int)
	}
	if state.Inventory == nil {
		state.Inventory = make(map[string]int)
	}
	if state.HistoryCap <= 0 {
		state.HistoryCap = DefaultHistoryCap
	}
	// HasFlag searches Flags, so a hand-edited save is put back in order.
	slices.Sort(state.Flags)
	state.Flags = slices.Compact(state.Flags)
	if err := state.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return &state, nil
}

// ListSaves returns the names of saved runs under dir.
func ListSaves(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	saves := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// state.yaml marks a valid save
		if _, err := os.Stat(filepath.Join(dir, entry.Name(), stateFile)); err == nil {
			saves = append(saves, entry.Name())
		}
	}
	sort.Strings(saves)
	return saves, nil
}
