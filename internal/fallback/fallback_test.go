package fallback

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/content"
	"github.com/tatianab/conestoga/internal/models"
	"github.com/tatianab/conestoga/internal/validate"
)

func defaultPack(t *testing.T) *content.Pack {
	t.Helper()
	pack, err := content.Default()
	require.NoError(t, err)
	return pack
}

func TestDeckPassesValidator(t *testing.T) {
	pack := defaultPack(t)
	v, err := validate.New(pack.Catalog)
	require.NoError(t, err)
	assert.Empty(t, Lint(pack.Deck, v))
}

func TestNextEventOnlyOffersPlayableEvents(t *testing.T) {
	pack := defaultPack(t)
	src, err := NewSource(pack.Deck, 1, zap.NewNop())
	require.NoError(t, err)
	v, err := validate.New(pack.Catalog)
	require.NoError(t, err)

	state := models.NewGameState(2000, 20)
	state.Resources[models.ResourceMoney] = 0
	state.Resources[models.ResourceAmmo] = 0
	sum := state.Summary()
	for range 50 {
		d := src.NextEvent(sum)
		assert.NotEqual(t, "deck_hunting", d.EventID)
		assert.NotEqual(t, "deck_trader_returns", d.EventID)
		available := 0
		for _, c := range d.Choices {
			if c.Available(sum) {
				available++
			}
		}
		assert.Positive(t, available, d.EventID)
		assert.True(t, v.CheckDraft(d).OK)
	}
}

func TestNextEventPrefersDueFollowup(t *testing.T) {
	pack := defaultPack(t)
	src, err := NewSource(pack.Deck, 3, zap.NewNop())
	require.NoError(t, err)

	state := models.NewGameState(2000, 20)
	state.Followups = []models.Followup{{Tag: "trader_returns", EarliestDay: 1, LatestDay: 5}}
	for range 10 {
		assert.Equal(t, "deck_trader_returns", src.NextEvent(state.Summary()).EventID)
	}
}

func TestNextEventAvoidsRecent(t *testing.T) {
	deck := []content.DeckEntry{
		deckEntry("a", ""),
		deckEntry("b", ""),
	}
	src, err := NewSource(deck, 9, zap.NewNop())
	require.NoError(t, err)

	state := models.NewGameState(2000, 20)
	state.AddHistory(models.HistoryEntry{EventID: "a"})
	for range 20 {
		assert.Equal(t, "b", src.NextEvent(state.Summary()).EventID)
	}

	// With every event recent, one is still returned.
	state.AddHistory(models.HistoryEntry{EventID: "b"})
	id := src.NextEvent(state.Summary()).EventID
	assert.Contains(t, []string{"a", "b"}, id)
}

func TestNextEventWhenExpression(t *testing.T) {
	deck := []content.DeckEntry{
		deckEntry("late", "state.day > 10 && \"ford\" in state.flags"),
		deckEntry("rich", "state.resources.money >= 150 && state.inventory.itm_rifle == 2"),
	}
	src, err := NewSource(deck, 1, zap.NewNop())
	require.NoError(t, err)

	state := models.NewGameState(2000, 20)
	assert.Equal(t, "rich", src.NextEvent(state.Summary()).EventID)

	state.Day = 11
	state.SetFlag("ford")
	state.Resources[models.ResourceMoney] = 0
	assert.Equal(t, "late", src.NextEvent(state.Summary()).EventID)
}

func TestNewSourceRejectsBadExpressions(t *testing.T) {
	_, err := NewSource([]content.DeckEntry{deckEntry("x", "state.day +")}, 1, zap.NewNop())
	assert.Error(t, err)

	_, err = NewSource([]content.DeckEntry{deckEntry("x", "1 + 2")}, 1, zap.NewNop())
	assert.ErrorContains(t, err, "not bool")
}

func TestNextEventDeterministic(t *testing.T) {
	pack := defaultPack(t)
	a, err := NewSource(pack.Deck, 77, zap.NewNop())
	require.NoError(t, err)
	b, err := NewSource(pack.Deck, 77, zap.NewNop())
	require.NoError(t, err)

	sum := models.NewGameState(2000, 20).Summary()
	for range 20 {
		assert.Equal(t, a.NextEvent(sum), b.NextEvent(sum))
	}
}

func TestResolutionFor(t *testing.T) {
	pack := defaultPack(t)
	src, err := NewSource(pack.Deck, 1, zap.NewNop())
	require.NoError(t, err)

	r, ok := src.ResolutionFor("deck_trader", "buy_food")
	require.True(t, ok)
	assert.Equal(t, "deck_trader", r.EventID)
	assert.Equal(t, "buy_food", r.ChoiceID)
	assert.Contains(t, r.Effects, models.ModifyResource{Resource: models.ResourceMoney, Delta: -25})
	require.NotNil(t, r.Followup)
	assert.Equal(t, "trader_returns", r.Followup.Tag)

	_, ok = src.ResolutionFor("deck_trader", "steal")
	assert.False(t, ok)
	_, ok = src.ResolutionFor("evt-unknown", "a")
	assert.False(t, ok)
}

func TestNeutralPassesValidation(t *testing.T) {
	pack := defaultPack(t)
	src, err := NewSource(pack.Deck, 1, zap.NewNop())
	require.NoError(t, err)
	v, err := validate.New(pack.Catalog)
	require.NoError(t, err)

	draft := models.EventDraft{
		EventID:   "evt-1",
		Title:     "Crossroads",
		Narrative: "Two trails split.",
		Choices: []models.Choice{
			{ID: "left", Text: "Go left", Check: &models.Check{Skill: "guide", DC: 10}},
			{ID: "right", Text: "Go right"},
		},
	}
	for _, c := range draft.Choices {
		r := src.Neutral(draft, c.ID)
		assert.True(t, v.CheckResolution(r, draft).OK, c.ID)

		raw, err := json.Marshal(models.DocOf(r))
		require.NoError(t, err)
		res, _ := v.ValidateResolution(string(raw), draft)
		assert.True(t, res.OK, res.Errors)
	}
}

func deckEntry(id, when string) content.DeckEntry {
	return content.DeckEntry{
		EventDraft: models.EventDraft{
			EventID:   id,
			Title:     "Event " + id,
			Tier:      models.TierMinor,
			Narrative: "Something happens.",
			Choices: []models.Choice{
				{ID: "one", Text: "One"},
				{ID: "two", Text: "Two"},
			},
		},
		When: when,
		Resolutions: map[string]models.ResolutionDoc{
			"one": {Narrative: "One."},
			"two": {Narrative: "Two."},
		},
	}
}

type memSink struct {
	mu      sync.Mutex
	records []models.FallbackRecord
}

func (s *memSink) RecordFallback(r models.FallbackRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func TestMonitorQuotaTripsImmediately(t *testing.T) {
	m := NewMonitor(3, zap.NewNop())
	assert.False(t, m.IsOffline())
	assert.Equal(t, models.ReasonNone, m.LastReason())

	assert.True(t, m.NoteFailure(models.ReasonQuotaExhausted))
	assert.True(t, m.IsOffline())
	assert.Equal(t, models.ReasonQuotaExhausted, m.OfflineReason())
}

func TestMonitorThreshold(t *testing.T) {
	m := NewMonitor(3, zap.NewNop())
	assert.False(t, m.NoteFailure(models.ReasonNetworkError))
	assert.False(t, m.NoteFailure(models.ReasonTimeout))
	assert.True(t, m.NoteFailure(models.ReasonNetworkError))
	assert.Equal(t, models.ReasonNetworkError, m.OfflineReason())

	// The first cause sticks.
	m.TripOffline(models.ReasonQuotaExhausted)
	assert.Equal(t, models.ReasonNetworkError, m.OfflineReason())
}

func TestMonitorNotifyOnce(t *testing.T) {
	m := NewMonitor(3, zap.NewNop())
	assert.False(t, m.ShouldNotifyOffline())
	m.TripOffline(models.ReasonOffline)
	assert.True(t, m.ShouldNotifyOffline())
	m.MarkOfflineNotified()
	assert.False(t, m.ShouldNotifyOffline())
}

func TestMonitorRecord(t *testing.T) {
	sink := &memSink{}
	m := NewMonitor(3, zap.NewNop(), sink)

	m.Record(models.FallbackRecord{Kind: models.RecordEvent, Source: models.SourcePrefetch, EventID: "evt-1"})
	m.Record(models.FallbackRecord{Kind: models.RecordEvent, Source: models.SourceDeck, Reason: models.ReasonTimeout, EventID: "deck_rest"})
	m.Record(models.FallbackRecord{Kind: models.RecordResolution, Source: models.SourceDeck, Reason: models.ReasonCancelled, EventID: "deck_rest"})

	assert.Equal(t, models.ReasonCancelled, m.LastReason())
	stats := m.Stats()
	assert.Equal(t, 1, stats.Generated)
	assert.Equal(t, 1, stats.EventFallbacks)
	assert.Equal(t, 1, stats.ResolutionFallbacks)

	recent := m.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, models.ReasonNone, recent[0].Reason)
	assert.False(t, recent[0].Timestamp.IsZero())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.records, 3)
}

func TestMonitorRecentIsBounded(t *testing.T) {
	m := NewMonitor(3, zap.NewNop())
	for range recentCap + 10 {
		m.Record(models.FallbackRecord{Kind: models.RecordEvent, Source: models.SourceDeck, Reason: models.ReasonOffline})
	}
	assert.Len(t, m.Recent(), recentCap)
}

func TestNextEventAddsPressOnWhenNothingIsPlayable(t *testing.T) {
	pack := defaultPack(t)
	v, err := validate.New(pack.Catalog)
	require.NoError(t, err)
	rope := []models.Prerequisite{{Kind: models.PrereqHasItem, Target: "itm_rope", Value: 1}}
	deck := []content.DeckEntry{{
		EventDraft: models.EventDraft{
			EventID:   "deck_snag",
			Title:     "Snagged Axle",
			Tier:      models.TierMinor,
			Narrative: "The rear axle is caught between two rocks.",
			Choices: []models.Choice{
				{ID: "lever", Text: "Lever it out with a rope", Prerequisites: rope},
				{ID: "haul", Text: "Haul it out with a rope", Prerequisites: rope},
			},
		},
	}}
	src, err := NewSource(deck, 1, zap.NewNop())
	require.NoError(t, err)

	state := models.NewGameState(2000, 20)
	delete(state.Inventory, "itm_rope")
	sum := state.Summary()
	d := src.NextEvent(sum)
	assert.Equal(t, "deck_snag", d.EventID)
	require.True(t, d.Playable(sum))
	require.Len(t, d.Choices, 3)
	assert.Equal(t, PressOnID, d.Choices[2].ID)
	assert.True(t, v.CheckDraft(d).OK)
	assert.Len(t, src.Entries()[0].Choices, 2)

	_, ok := src.ResolutionFor(d.EventID, PressOnID)
	assert.False(t, ok)
	assert.True(t, v.CheckResolution(src.Neutral(d, PressOnID), d).OK)
}

func TestPressOnReplacesLastChoiceWhenFull(t *testing.T) {
	d := models.EventDraft{
		EventID: "deck_x",
		Choices: []models.Choice{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	}
	got := withPressOn(d)
	require.Len(t, got.Choices, maxChoices)
	assert.Equal(t, PressOnID, got.Choices[2].ID)
	assert.Equal(t, "c", d.Choices[2].ID)
}
