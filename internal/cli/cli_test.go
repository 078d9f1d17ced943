package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/config"
	"github.com/tatianab/conestoga/internal/game"
	"github.com/tatianab/conestoga/internal/models"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "conestoga "+Version)
}

func TestDeckLintsEmbeddedPack(t *testing.T) {
	out, err := run(t, "deck")
	require.NoError(t, err)
	assert.Contains(t, out, "events ok")
}

func TestReportRequiresDatabase(t *testing.T) {
	t.Setenv("CONESTOGA_AUDIT_DB", "")
	_, err := run(t, "report")
	require.Error(t, err)
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		SaveDir:          filepath.Join(dir, "saves"),
		AuditDB:          filepath.Join(dir, "audit.db"),
		Seed:             5,
		Offline:          true,
		AttemptCap:       2,
		WaitBudget:       time.Second,
		OfflineThreshold: 3,
	}
}

// playOneEvent travels until an event appears and takes its first open choice.
func playOneEvent(t *testing.T, c *game.Controller) {
	t.Helper()
	for range 40 {
		require.NoError(t, c.Travel())
		if c.Mode() != game.ModeTravel {
			break
		}
	}
	require.Equal(t, game.ModeEvent, c.Mode())
	ev, rec := c.Event()
	require.Equal(t, models.SourceDeck, rec.Source)
	require.Equal(t, models.ReasonOffline, rec.Reason)
	for _, ch := range ev.Choices {
		if c.LockReason(ch) == "" {
			require.NoError(t, c.Choose(ch.ID))
			return
		}
	}
	t.Fatalf("event %s has no open choice", ev.EventID)
}

func TestOfflineSessionPlaysFromDeckAndAudits(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open(context.Background(), cfg, "", zap.NewNop())
	require.NoError(t, err)
	assert.True(t, s.Monitor.IsOffline())
	assert.Equal(t, int64(5), s.Seed)

	playOneEvent(t, s.Controller)
	require.NotNil(t, s.Controller.Result())
	require.NoError(t, s.Close())

	out, err := run(t, "report", "--db", cfg.AuditDB, "--run", s.Run)
	require.NoError(t, err)
	assert.Contains(t, out, string(models.ReasonOffline))
	assert.Contains(t, out, "Resolutions: ")
}

func TestOpenResumesSave(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuditDB = ""
	state := models.NewGameState(2000, 20)
	state.Day = 9
	state.MilesTraveled = 120
	require.NoError(t, models.SaveState(cfg.SaveDir, "camp", state))

	s, err := Open(context.Background(), cfg, "camp", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	assert.Nil(t, s.Audit)
	assert.Equal(t, 9, s.Controller.State().Day)
	assert.Equal(t, 120, s.Controller.State().MilesTraveled)
}

func TestOpenDefaultsSaveDirAndItemNames(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuditDB = ""
	cfg.SaveDir = ""
	s, err := Open(context.Background(), cfg, "", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, models.DefaultSaveDir, s.SaveDir)
	assert.Equal(t, "Rope", s.Items.Name("itm_rope"))
}

func TestOpenMissingSave(t *testing.T) {
	cfg := testConfig(t)
	_, err := Open(context.Background(), cfg, "nope", zap.NewNop())
	require.Error(t, err)
}

func TestPlayFlagsOverrideEnv(t *testing.T) {
	cmd := newPlayCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--seed", "77", "--offline", "--tuning", "t.yaml"}))
	cfg := &config.Config{Seed: 1}
	f := playFlags{seed: 77, offline: true, tuning: "t.yaml"}
	f.apply(cmd, cfg)
	assert.Equal(t, int64(77), cfg.Seed)
	assert.True(t, cfg.Offline)
	assert.Equal(t, "t.yaml", cfg.TuningFile)

	cmd = newPlayCommand()
	require.NoError(t, cmd.ParseFlags(nil))
	cfg = &config.Config{Seed: 1}
	playFlags{}.apply(cmd, cfg)
	assert.Equal(t, int64(1), cfg.Seed)
}
