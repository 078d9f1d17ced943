package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPack(t *testing.T) {
	pack, err := Default()
	require.NoError(t, err)

	assert.True(t, pack.Catalog.Has("itm_rifle"))
	assert.True(t, pack.Catalog.Has("itm_rope"))
	assert.False(t, pack.Catalog.Has("itm_spaceship"))
	require.NotEmpty(t, pack.Deck)

	for _, e := range pack.Deck {
		for _, c := range e.Choices {
			doc, ok := e.Resolution(c.ID)
			require.True(t, ok, "%s/%s has no resolution", e.EventID, c.ID)
			assert.Equal(t, e.EventID, doc.EventID)
			assert.Equal(t, c.ID, doc.ChoiceID)
			assert.NotNil(t, doc.Effects)
			if c.Check != nil {
				assert.NotNil(t, doc.Success, "%s/%s", e.EventID, c.ID)
				assert.NotNil(t, doc.Failure, "%s/%s", e.EventID, c.ID)
			}
		}
	}
}

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	deck := `
- event_id: only
  title: Only Event
  narrative: Nothing happens.
  choices:
    - choice_id: a
      text: Wait
    - choice_id: b
      text: Walk
  resolutions:
    a: {narrative: You wait.}
    b: {narrative: You walk.}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, deckFile), []byte(deck), 0644))

	pack, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, pack.Deck, 1)
	assert.Equal(t, "minor", string(pack.Deck[0].Tier))
	// items fall back to the embedded catalog
	assert.True(t, pack.Catalog.Has("itm_rifle"))

	doc, ok := pack.Deck[0].Resolution("b")
	require.True(t, ok)
	assert.Equal(t, "only/b", doc.ResolutionID)
	assert.Empty(t, doc.Effects)
}

func TestLoadRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	deck := `
- event_id: dup
  title: A
  narrative: x
  choices: []
- event_id: dup
  title: B
  narrative: y
  choices: []
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, deckFile), []byte(deck), 0644))
	_, err := Load(dir)
	assert.ErrorContains(t, err, "duplicate")
}
