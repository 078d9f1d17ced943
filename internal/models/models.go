package models

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvariant marks a state change that would break a GameState invariant.
var ErrInvariant = errors.New("invariant violation")

// Resource names tracked by GameState.
const (
	ResourceFood  = "food"
	ResourceWater = "water"
	ResourceAmmo  = "ammo"
	ResourceMoney = "money"
	ResourceWagon = "wagon" // wagon condition, 0-100
)

// Resources lists every resource a GameState tracks, in display order.
var Resources = []string{ResourceFood, ResourceWater, ResourceAmmo, ResourceMoney, ResourceWagon}

// IsResource reports whether name is a tracked resource.
func IsResource(name string) bool {
	return slices.Contains(Resources, name)
}

// Biome is the terrain the wagon is currently crossing.
type Biome string

const (
	BiomePrairie  Biome = "prairie"
	BiomeRiver    Biome = "river"
	BiomeMountain Biome = "mountain"
	BiomeForest   Biome = "forest"
)

// Weather is the current day's weather.
type Weather string

const (
	WeatherClear Weather = "clear"
	WeatherRain  Weather = "rain"
	WeatherStorm Weather = "storm"
	WeatherSnow  Weather = "snow"
)

// Condition is a status affliction on a party member.
type Condition string

const (
	ConditionSick      Condition = "sick"
	ConditionInjured   Condition = "injured"
	ConditionExhausted Condition = "exhausted"
)

// Stats that modify_stat effects may target on a party member.
const (
	StatHealth = "health"
	StatMorale = "morale"
)

// PartyMember is one traveler. A member at zero health is incapacitated but
// stays in the roster for the end-of-run summary.
type PartyMember struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Health     int            `yaml:"health"`
	Morale     int            `yaml:"morale"`
	Skills     map[string]int `yaml:"skills,omitempty"`
	Conditions []Condition    `yaml:"conditions,omitempty"`
}

// Active reports whether the member still counts toward the roster.
func (m PartyMember) Active() bool {
	return m.Health > 0
}

// Environment is where and under what sky the party is traveling.
type Environment struct {
	Biome   Biome   `yaml:"biome"`
	Weather Weather `yaml:"weather"`
}

// HistoryEntry summarizes one presented event and what came of it.
type HistoryEntry struct {
	Day      int    `yaml:"day"`
	EventID  string `yaml:"event_id"`
	Title    string `yaml:"title"`
	ChoiceID string `yaml:"choice_id,omitempty"`
	Outcome  string `yaml:"outcome"` // "committed" or "aborted"
	Source   Source `yaml:"source"`
}

// Followup is a pending story thread that may surface between two days.
type Followup struct {
	Tag         string `yaml:"tag"`
	EarliestDay int    `yaml:"earliest_day"`
	LatestDay   int    `yaml:"latest_day"`
}

// Due reports whether the follow-up window is open on day.
func (f Followup) Due(day int) bool {
	return day >= f.EarliestDay && day <= f.LatestDay
}

// Expired reports whether the window closed before day.
func (f Followup) Expired(day int) bool {
	return day > f.LatestDay
}

// GameState is the authoritative simulation data for one run. It is flat data
// so the persistence layer can encode it without knowing about behavior.
type GameState struct {
	Day            int            `yaml:"day"`
	MilesTraveled  int            `yaml:"miles_traveled"`
	TargetMiles    int            `yaml:"target_miles"`
	Resources      map[string]int `yaml:"resources"`
	Inventory      map[string]int `yaml:"inventory"`
	Party          []PartyMember  `yaml:"party"`
	Environment    Environment    `yaml:"environment"`
	Flags          []string       `yaml:"flags,omitempty"`
	Journal        []string       `yaml:"journal,omitempty"`
	History        []HistoryEntry `yaml:"event_history,omitempty"`
	HistoryCap     int            `yaml:"history_cap"`
	Followups      []Followup     `yaml:"followups,omitempty"`
	DaysSinceEvent int            `yaml:"days_since_event"`
	EventsSeen     int            `yaml:"events_seen"`
}

// DefaultHistoryCap bounds History and Journal when no cap is configured.
const DefaultHistoryCap = 20

// NewGameState returns the start-of-run state.
func NewGameState(targetMiles, historyCap int) *GameState {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &GameState{
		Day:         1,
		TargetMiles: targetMiles,
		Resources: map[string]int{
			ResourceFood:  500,
			ResourceWater: 100,
			ResourceAmmo:  50,
			ResourceMoney: 200,
			ResourceWagon: 100,
		},
		Inventory: map[string]int{
			"itm_rifle":         2,
			"itm_cookware":      1,
			"itm_blanket":       4,
			"itm_spare_clothes": 4,
		},
		Party: []PartyMember{
			{ID: "sarah", Name: "Sarah", Health: 100, Morale: 100, Skills: map[string]int{"guide": 5}},
			{ID: "john", Name: "John", Health: 100, Morale: 100, Skills: map[string]int{"hunter": 6}},
			{ID: "mary", Name: "Mary", Health: 100, Morale: 100, Skills: map[string]int{"doctor": 4}},
			{ID: "tom", Name: "Tom", Health: 100, Morale: 100, Skills: map[string]int{"hunter": 3}},
		},
		Environment: Environment{Biome: BiomePrairie, Weather: WeatherClear},
		HistoryCap:  historyCap,
	}
}

// Clone returns a deep copy of s.
func (s *GameState) Clone() *GameState {
	c := *s
	c.Resources = cloneMap(s.Resources)
	c.Inventory = cloneMap(s.Inventory)
	c.Flags = slices.Clone(s.Flags)
	c.Journal = slices.Clone(s.Journal)
	c.History = slices.Clone(s.History)
	c.Followups = slices.Clone(s.Followups)
	if s.Party != nil {
		c.Party = make([]PartyMember, len(s.Party))
		for i, m := range s.Party {
			m.Skills = cloneMap(m.Skills)
			m.Conditions = slices.Clone(m.Conditions)
			c.Party[i] = m
		}
	}
	return &c
}

func cloneMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Resource returns the current amount of a resource.
func (s *GameState) Resource(name string) int {
	return s.Resources[name]
}

// ItemCount returns how many of an item the party holds.
func (s *GameState) ItemCount(id string) int {
	return s.Inventory[id]
}

// HasFlag reports whether flag is set.
func (s *GameState) HasFlag(flag string) bool {
	_, found := slices.BinarySearch(s.Flags, flag)
	return found
}

// SetFlag adds flag to the set.
func (s *GameState) SetFlag(flag string) {
	i, found := slices.BinarySearch(s.Flags, flag)
	if !found {
		s.Flags = slices.Insert(s.Flags, i, flag)
	}
}

// ClearFlag removes flag from the set.
func (s *GameState) ClearFlag(flag string) {
	i, found := slices.BinarySearch(s.Flags, flag)
	if !found {
		return
	}
	s.Flags = slices.Delete(s.Flags, i, i+1)
	if len(s.Flags) == 0 {
		s.Flags = nil
	}
}

// BestSkill returns the highest rating for skill among active members.
func (s *GameState) BestSkill(skill string) int {
	best := 0
	for _, m := range s.Party {
		if m.Active() && m.Skills[skill] > best {
			best = m.Skills[skill]
		}
	}
	return best
}

// ActiveMembers returns the indexes of members that are not incapacitated.
func (s *GameState) ActiveMembers() []int {
	var idx []int
	for i, m := range s.Party {
		if m.Active() {
			idx = append(idx, i)
		}
	}
	return idx
}

// Member returns the index of the member with the given id, or -1.
func (s *GameState) Member(id string) int {
	return slices.IndexFunc(s.Party, func(m PartyMember) bool { return m.ID == id })
}

// AddHistory appends an entry, dropping the oldest beyond the cap.
func (s *GameState) AddHistory(e HistoryEntry) {
	s.History = appendCapped(s.History, e, s.HistoryCap)
}

// AddJournal appends a journal line, dropping the oldest beyond the cap.
func (s *GameState) AddJournal(text string) {
	s.Journal = appendCapped(s.Journal, text, s.HistoryCap)
}

func appendCapped[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	if limit > 0 && len(list) > limit {
		list = slices.Clone(list[len(list)-limit:])
	}
	return list
}

// DueFollowups returns the pending follow-ups whose window is open today.
func (s *GameState) DueFollowups() []Followup {
	var due []Followup
	for _, f := range s.Followups {
		if f.Due(s.Day) {
			due = append(due, f)
		}
	}
	return due
}

// ConsumeFollowup removes the first pending follow-up with tag. It reports
// whether one was removed.
func (s *GameState) ConsumeFollowup(tag string) bool {
	i := slices.IndexFunc(s.Followups, func(f Followup) bool { return f.Tag == tag })
	if i < 0 {
		return false
	}
	s.Followups = slices.Delete(s.Followups, i, i+1)
	if len(s.Followups) == 0 {
		s.Followups = nil
	}
	return true
}

// CheckInvariants verifies the always-true properties of a state.
func (s *GameState) CheckInvariants() error {
	if s.Day < 0 {
		return fmt.Errorf("%w: day %d is negative", ErrInvariant, s.Day)
	}
	if s.MilesTraveled < 0 {
		return fmt.Errorf("%w: miles %d is negative", ErrInvariant, s.MilesTraveled)
	}
	for name, v := range s.Resources {
		if v < 0 {
			return fmt.Errorf("%w: resource %s is %d", ErrInvariant, name, v)
		}
	}
	for id, qty := range s.Inventory {
		if qty < 0 {
			return fmt.Errorf("%w: item %s quantity is %d", ErrInvariant, id, qty)
		}
	}
	for _, m := range s.Party {
		if m.Health < 0 || m.Health > 100 {
			return fmt.Errorf("%w: %s health %d out of range", ErrInvariant, m.ID, m.Health)
		}
		if m.Morale < 0 || m.Morale > 100 {
			return fmt.Errorf("%w: %s morale %d out of range", ErrInvariant, m.ID, m.Morale)
		}
	}
	return nil
}

// Outcome reports whether the run is over. critical names the resources whose
// depletion loses the game.
func (s *GameState) Outcome(critical []string) (over, victory bool, reason string) {
	if s.MilesTraveled >= s.TargetMiles && s.TargetMiles > 0 {
		return true, true, "reached the end of the trail"
	}
	if len(s.ActiveMembers()) == 0 {
		return true, false, "the whole party is incapacitated"
	}
	for _, name := range critical {
		if v, ok := s.Resources[name]; ok && v <= 0 {
			return true, false, fmt.Sprintf("ran out of %s", name)
		}
	}
	return false, false, ""
}
