package models

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGameStateYAML(t *testing.T) {
	state := NewGameState(2000, 10)
	state.SetFlag("met_trader")
	state.AddJournal("Crossed the Platte.")
	state.AddHistory(HistoryEntry{Day: 3, EventID: "evt-1", Title: "River", ChoiceID: "ford", Outcome: "committed", Source: SourceDeck})
	state.Followups = []Followup{{Tag: "trader_returns", EarliestDay: 5, LatestDay: 9}}
	state.Party[1].Conditions = []Condition{ConditionInjured}

	data, err := yaml.Marshal(state)
	if err != nil {
		t.Fatalf("Failed to marshal state: %v", err)
	}

	var state2 GameState
	if err := yaml.Unmarshal(data, &state2); err != nil {
		t.Fatalf("Failed to unmarshal state: %v", err)
	}

	if len(state2.History) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(state2.History))
	}
	if !state2.HasFlag("met_trader") {
		t.Errorf("Expected flag met_trader to survive the round trip")
	}
	assert.Equal(t, state, &state2)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	state := NewGameState(2000, 20)
	rng := rand.New(rand.NewSource(7))
	for range 5 {
		state.AdvanceDay(rng)
	}
	state.SetFlag("b")
	state.SetFlag("a")

	require.NoError(t, SaveState(dir, "run1", state))
	loaded, err := LoadState(dir, "run1")
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	saves, err := ListSaves(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"run1"}, saves)
}

func TestLoadRepairsHandEditedSave(t *testing.T) {
	dir := t.TempDir()
	state := NewGameState(2000, 20)
	state.Flags = []string{"zeta", "alpha", "zeta"}
	state.HistoryCap = 0
	require.NoError(t, SaveState(dir, "edited", state))

	loaded, err := LoadState(dir, "edited")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, loaded.Flags)
	assert.True(t, loaded.HasFlag("alpha"))
	assert.True(t, loaded.HasFlag("zeta"))
	assert.Equal(t, DefaultHistoryCap, loaded.HistoryCap)

	for i := range DefaultHistoryCap + 5 {
		loaded.AddJournal(fmt.Sprintf("day %d", i))
	}
	assert.Len(t, loaded.Journal, DefaultHistoryCap)
}

func TestListSavesMissingDir(t *testing.T) {
	saves, err := ListSaves(t.TempDir() + "/nope")
	require.NoError(t, err)
	assert.Empty(t, saves)
}

func TestApplyBatchAbortsWholeBatch(t *testing.T) {
	state := NewGameState(2000, 20)
	state.Resources[ResourceFood] = 200
	rng := rand.New(rand.NewSource(1))

	next, err := state.ApplyBatch([]Effect{ModifyResource{Resource: ResourceFood, Delta: -250}}, rng)
	require.Error(t, err)
	assert.Nil(t, next)
	assert.True(t, errors.Is(err, ErrInvariant))
	assert.Equal(t, 200, state.Resources[ResourceFood])

	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 0, be.Index)
}

func TestApplyBatchRollsBackEarlierEffects(t *testing.T) {
	state := NewGameState(2000, 20)
	before := state.Clone()
	rng := rand.New(rand.NewSource(1))

	_, err := state.ApplyBatch([]Effect{
		ModifyResource{Resource: ResourceMoney, Delta: 50},
		AddItem{Item: "itm_rope", Qty: 1},
		SetFlag{Flag: "rope"},
		RemoveItem{Item: "itm_medicine", Qty: 1},
	}, rng)
	require.Error(t, err)

	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 3, be.Index)
	assert.Equal(t, EffectRemoveItem, be.Kind)
	assert.Equal(t, before, state)
}

func TestApplyEffects(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	state := NewGameState(2000, 20)

	next, err := state.ApplyBatch([]Effect{
		AddItem{Item: "itm_rope", Qty: 2},
		RemoveItem{Item: "itm_rope", Qty: 2},
		ModifyResource{Resource: ResourceWater, Delta: -40},
		ModifyStat{Target: "john", Stat: StatHealth, Delta: -130},
		ModifyStat{Target: TargetParty, Stat: StatMorale, Delta: 20},
		SetFlag{Flag: "ford"},
		ClearFlag{Flag: "ford"},
		AdvanceTime{Days: 2},
		DamageWagon{Amount: 130},
		RepairWagon{Amount: 25},
		LogJournal{Text: "hard day"},
		QueueFollowup{Tag: "bandits", Earliest: 1, Latest: 4},
	}, rng)
	require.NoError(t, err)

	assert.Zero(t, next.ItemCount("itm_rope"))
	_, held := next.Inventory["itm_rope"]
	assert.False(t, held)
	assert.Equal(t, 60, next.Resource(ResourceWater))
	assert.Equal(t, 0, next.Party[1].Health)
	assert.False(t, next.Party[1].Active())
	assert.Equal(t, 100, next.Party[0].Morale)
	assert.False(t, next.HasFlag("ford"))
	assert.Equal(t, 3, next.Day)
	assert.Equal(t, 25, next.Resource(ResourceWagon))
	assert.Equal(t, []string{"hard day"}, next.Journal)
	assert.Equal(t, []Followup{{Tag: "bandits", EarliestDay: 4, LatestDay: 7}}, next.Followups)

	// The original is untouched.
	assert.Equal(t, 1, state.Day)
	assert.Equal(t, 100, state.Party[1].Health)
}

func TestApplyUnknownMember(t *testing.T) {
	state := NewGameState(2000, 20)
	err := state.Apply(ModifyStat{Target: "ghost", Stat: StatHealth, Delta: -1}, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestEffectSpecConversion(t *testing.T) {
	for _, kind := range EffectKinds {
		e, err := EffectSpec{Op: string(kind), Target: "x", Value: 1}.Effect()
		require.NoError(t, err, kind)
		assert.Equal(t, kind, e.Kind())
		assert.Equal(t, string(kind), SpecOf(e).Op)
	}

	_, err := EffectSpec{Op: "teleport"}.Effect()
	assert.Error(t, err)
	assert.False(t, EffectKind("teleport").Valid())
}

func TestResolutionOutcome(t *testing.T) {
	r := EventResolution{
		Narrative: "You try the ford.",
		Effects:   []Effect{AdvanceTime{Days: 1}},
		Success:   &Branch{Narrative: "Made it.", Effects: []Effect{SetFlag{Flag: "forded"}}},
		Failure:   &Branch{Narrative: "Swept away.", Effects: []Effect{DamageWagon{Amount: 20}}},
		Followup:  &FollowupHook{Tag: "lost_goods", Earliest: 2, Latest: 5},
	}

	text, effects := r.Outcome(false)
	assert.Equal(t, "Swept away.", text)
	assert.Equal(t, []Effect{
		AdvanceTime{Days: 1},
		DamageWagon{Amount: 20},
		QueueFollowup{Tag: "lost_goods", Earliest: 2, Latest: 5},
	}, effects)

	doc := DocOf(r)
	back, err := doc.Resolution()
	require.NoError(t, err)
	assert.Equal(t, r, back)
}

func TestAdvanceDay(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	state := NewGameState(2000, 20)

	r := state.AdvanceDay(rng)
	assert.Equal(t, 2, state.Day)
	assert.GreaterOrEqual(t, r.Miles, 12)
	assert.LessOrEqual(t, r.Miles, 18)
	assert.Equal(t, r.Miles, state.MilesTraveled)
	assert.Equal(t, 500-4*FoodPerMember, state.Resource(ResourceFood))
	assert.Equal(t, 100-4*WaterPerMember, state.Resource(ResourceWater))
	assert.Equal(t, 1, state.DaysSinceEvent)
}

func TestAdvanceDayStarvation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	state := NewGameState(2000, 20)
	state.Resources[ResourceFood] = 3

	r := state.AdvanceDay(rng)
	assert.True(t, r.Starving)
	assert.Equal(t, 0, state.Resource(ResourceFood))
	for _, m := range state.Party {
		assert.Equal(t, 90, m.Health)
	}
	require.NoError(t, state.CheckInvariants())
}

func TestExpiredFollowupIsDropped(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	state := NewGameState(2000, 20)
	state.Followups = []Followup{
		{Tag: "closing", EarliestDay: 1, LatestDay: 1},
		{Tag: "open", EarliestDay: 1, LatestDay: 10},
	}

	r := state.AdvanceDay(rng)
	assert.Equal(t, []Followup{{Tag: "closing", EarliestDay: 1, LatestDay: 1}}, r.Expired)
	assert.Equal(t, []Followup{{Tag: "open", EarliestDay: 1, LatestDay: 10}}, state.Followups)
	assert.Equal(t, []string{"open"}, state.Summary().DueFollowups)
}

func TestAdvanceDayDeterministic(t *testing.T) {
	a, b := NewGameState(2000, 20), NewGameState(2000, 20)
	ra, rb := rand.New(rand.NewSource(42)), rand.New(rand.NewSource(42))
	for range 30 {
		a.AdvanceDay(ra)
		b.AdvanceDay(rb)
	}
	assert.Equal(t, a, b)
}

func TestOutcome(t *testing.T) {
	critical := []string{ResourceFood, ResourceWater, ResourceWagon}

	s := NewGameState(100, 20)
	over, _, _ := s.Outcome(critical)
	assert.False(t, over)

	s.MilesTraveled = 100
	over, won, _ := s.Outcome(critical)
	assert.True(t, over)
	assert.True(t, won)

	s = NewGameState(100, 20)
	s.Resources[ResourceWater] = 0
	over, won, reason := s.Outcome(critical)
	assert.True(t, over)
	assert.False(t, won)
	assert.Contains(t, reason, "water")

	s = NewGameState(100, 20)
	s.Resources[ResourceMoney] = 0
	over, _, _ = s.Outcome(critical)
	assert.False(t, over)
}

func TestPrerequisites(t *testing.T) {
	s := NewGameState(2000, 20)
	sum := s.Summary()
	cases := []struct {
		p    Prerequisite
		want bool
	}{
		{Prerequisite{Kind: PrereqHasItem, Target: "itm_rifle"}, true},
		{Prerequisite{Kind: PrereqHasItem, Target: "itm_rifle", Value: 3}, false},
		{Prerequisite{Kind: PrereqResourceAtLeast, Target: ResourceMoney, Value: 200}, true},
		{Prerequisite{Kind: PrereqResourceAtLeast, Target: ResourceMoney, Value: 201}, false},
		{Prerequisite{Kind: PrereqFlagSet, Target: "nope"}, false},
		{Prerequisite{Kind: PrereqSkillAtLeast, Target: "hunter", Value: 6}, true},
		{Prerequisite{Kind: "bogus", Target: "x"}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.p.Met(s), "%+v", c.p)
		assert.Equal(t, c.want, c.p.Met(sum), "summary %+v", c.p)
	}
}

func TestSummaryIsCanonical(t *testing.T) {
	s := NewGameState(2000, 20)
	for i := range 8 {
		s.AddHistory(HistoryEntry{EventID: string(rune('a' + i))})
	}
	sum := s.Summary()
	assert.Len(t, sum.RecentEvents, RecentEventWindow)
	assert.Equal(t, "h", sum.RecentEvents[len(sum.RecentEvents)-1])
	assert.Equal(t, sum.JSON(), s.Clone().Summary().JSON())

	sum.Resources[ResourceFood] = 0
	assert.Equal(t, 500, s.Resource(ResourceFood))
}

func TestHistoryCap(t *testing.T) {
	s := NewGameState(2000, 3)
	for i := range 5 {
		s.AddHistory(HistoryEntry{Day: i})
	}
	require.Len(t, s.History, 3)
	assert.Equal(t, 2, s.History[0].Day)
}
