package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/config"
	"github.com/tatianab/conestoga/internal/content"
	"github.com/tatianab/conestoga/internal/fallback"
	"github.com/tatianab/conestoga/internal/game"
	"github.com/tatianab/conestoga/internal/models"
	"github.com/tatianab/conestoga/internal/prefetch"
	"github.com/tatianab/conestoga/internal/validate"
)

// offlineModel builds a model over a controller that only draws from the deck.
func offlineModel(t *testing.T) model {
	t.Helper()
	pack, err := content.Default()
	require.NoError(t, err)
	val, err := validate.New(pack.Catalog)
	require.NoError(t, err)
	deck, err := fallback.NewSource(pack.Deck, 3, zap.NewNop())
	require.NoError(t, err)
	mon := fallback.NewMonitor(3, zap.NewNop())
	mon.TripOffline(models.ReasonOffline)
	orch := prefetch.New(nil, val, deck, mon, zap.NewNop())
	t.Cleanup(orch.Close)

	tuning := config.DefaultTuning()
	tuning.MaxEventChance = 1
	tuning.EventRampDays = 1
	ctrl := game.New(game.Config{
		Prefetch: orch,
		Deck:     deck,
		Checker:  val,
		Monitor:  mon,
		Tuning:   tuning,
		Seed:     9,
	})
	m := newModel(ctrl, t.TempDir(), pack.Catalog)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(model)
}

func press(m model, key string) model {
	var msg tea.KeyMsg
	switch key {
	case "space":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, _ := m.Update(msg)
	return next.(model)
}

func TestTravelPresentsDeckEventAndOfflineNotice(t *testing.T) {
	m := offlineModel(t)
	m = press(m, "space")

	require.Equal(t, game.ModeEvent, m.ctrl.Mode())
	ev, _ := m.ctrl.Event()
	assert.Contains(t, m.gameLog, ev.Title)
	assert.Contains(t, m.notice, "offline")

	view := m.View()
	assert.Contains(t, view, "1-3: choose")
	assert.Contains(t, view, "storyteller: offline")
}

func TestChooseAndContinue(t *testing.T) {
	m := offlineModel(t)
	m = press(m, "space")
	require.Equal(t, game.ModeEvent, m.ctrl.Mode())

	ev, _ := m.ctrl.Event()
	pick := -1
	for i, c := range ev.Choices {
		if m.ctrl.LockReason(c) == "" {
			pick = i
			break
		}
	}
	require.GreaterOrEqual(t, pick, 0)
	m = press(m, string(rune('1'+pick)))
	require.NotNil(t, m.ctrl.Result())
	assert.Contains(t, m.gameLog, "> ")

	if m.ctrl.Mode() == game.ModeResolution {
		m = press(m, "enter")
	}
	assert.Equal(t, game.ModeTravel, m.ctrl.Mode())
}

func TestInventoryAndSave(t *testing.T) {
	m := offlineModel(t)
	m = press(m, "i")
	require.Equal(t, game.ModeInventory, m.ctrl.Mode())
	view := m.View()
	assert.Contains(t, view, "INVENTORY")
	assert.Contains(t, view, "Wool blanket x4")
	assert.NotContains(t, view, "itm_blanket")

	m = press(m, "s")
	assert.Contains(t, m.notice, "Saved")
	_, err := models.LoadState(m.saveDir, saveName)
	require.NoError(t, err)

	m = press(m, "esc")
	assert.Equal(t, game.ModeTravel, m.ctrl.Mode())
}

func TestKeysOutOfModeAreIgnored(t *testing.T) {
	m := offlineModel(t)
	m = press(m, "enter")
	m = press(m, "2")
	m = press(m, "r")
	assert.Equal(t, game.ModeTravel, m.ctrl.Mode())
	assert.Empty(t, m.notice)
}
