package models

import (
	"encoding/json"
	"slices"
)

// RecentEventWindow is how many recent event ids a Summary carries.
const RecentEventWindow = 6

// MemberSummary is the id-only projection of a party member.
type MemberSummary struct {
	ID         string         `json:"id"`
	Health     int            `json:"health"`
	Morale     int            `json:"morale"`
	Skills     map[string]int `json:"skills,omitempty"`
	Conditions []Condition    `json:"conditions,omitempty"`
}

// Summary is the bounded, canonical view of a GameState handed to the
// generation service and the fallback deck. It holds canonical ids only.
type Summary struct {
	Day          int             `json:"day"`
	Miles        int             `json:"miles_traveled"`
	TargetMiles  int             `json:"target_miles"`
	Biome        Biome           `json:"biome"`
	Weather      Weather         `json:"weather"`
	Resources    map[string]int  `json:"resources"`
	Inventory    map[string]int  `json:"inventory"`
	Flags        []string        `json:"flags"`
	Party        []MemberSummary `json:"party"`
	RecentEvents []string        `json:"recent_events"`
	DueFollowups []string        `json:"due_followups"`
	EventsSeen   int             `json:"events_seen"`
}

// Summary projects s into a Summary that shares no memory with s.
func (s *GameState) Summary() Summary {
	sum := Summary{
		Day:          s.Day,
		Miles:        s.MilesTraveled,
		TargetMiles:  s.TargetMiles,
		Biome:        s.Environment.Biome,
		Weather:      s.Environment.Weather,
		Resources:    cloneMap(s.Resources),
		Inventory:    make(map[string]int, len(s.Inventory)),
		Flags:        slices.Clone(s.Flags),
		RecentEvents: []string{},
		DueFollowups: []string{},
		EventsSeen:   s.EventsSeen,
	}
	if sum.Resources == nil {
		sum.Resources = map[string]int{}
	}
	if sum.Flags == nil {
		sum.Flags = []string{}
	}
	for id, qty := range s.Inventory {
		if qty > 0 {
			sum.Inventory[id] = qty
		}
	}
	for _, m := range s.Party {
		sum.Party = append(sum.Party, MemberSummary{
			ID:         m.ID,
			Health:     m.Health,
			Morale:     m.Morale,
			Skills:     cloneMap(m.Skills),
			Conditions: slices.Clone(m.Conditions),
		})
	}
	start := max(0, len(s.History)-RecentEventWindow)
	for _, h := range s.History[start:] {
		sum.RecentEvents = append(sum.RecentEvents, h.EventID)
	}
	for _, f := range s.DueFollowups() {
		sum.DueFollowups = append(sum.DueFollowups, f.Tag)
	}
	return sum
}

// JSON renders the summary canonically. Map keys are sorted by the encoder,
// so equal summaries render to equal bytes.
func (s Summary) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (s Summary) Resource(name string) int { return s.Resources[name] }

func (s Summary) ItemCount(id string) int { return s.Inventory[id] }

func (s Summary) HasFlag(flag string) bool {
	_, found := slices.BinarySearch(s.Flags, flag)
	return found
}

func (s Summary) BestSkill(skill string) int {
	best := 0
	for _, m := range s.Party {
		if m.Health > 0 && m.Skills[skill] > best {
			best = m.Skills[skill]
		}
	}
	return best
}

// Recent reports whether eventID is among the recent events.
func (s Summary) Recent(eventID string) bool {
	return slices.Contains(s.RecentEvents, eventID)
}
