package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/conestoga/internal/models"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("CONESTOGA_ATTEMPT_CAP", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Online())
	assert.Equal(t, ".saves", cfg.SaveDir)
	assert.Equal(t, 2, cfg.AttemptCap)
	assert.Equal(t, 5*time.Second, cfg.WaitBudget)
	assert.Equal(t, 3, cfg.OfflineThreshold)
}

func TestLoadConfigClampsAttemptCap(t *testing.T) {
	t.Setenv("CONESTOGA_ATTEMPT_CAP", "9")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.AttemptCap)

	t.Setenv("CONESTOGA_ATTEMPT_CAP", "1")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.AttemptCap)
}

func TestLoadConfigBadValue(t *testing.T) {
	t.Setenv("CONESTOGA_WAIT_BUDGET", "soon")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "secret-key")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Online())
	assert.Equal(t, "***", cfg.Redacted().GeminiAPIKey)
	assert.Equal(t, "secret-key", cfg.GeminiAPIKey)

	cfg.Offline = true
	assert.False(t, cfg.Online())
}

func TestDefaultTuning(t *testing.T) {
	tun := DefaultTuning()
	assert.Equal(t, 2000, tun.TargetMiles)
	assert.Equal(t, "gemini-2.5-flash", tun.Profiles[models.TierMinor].Model)
	assert.Equal(t, 4*time.Second, tun.Profiles[models.TierMinor].Timeout)
	assert.Equal(t, int32(2048), tun.Profiles[models.TierChapter].MaxOutputTokens)
	assert.Equal(t, []string{"food", "water", "wagon"}, tun.CriticalResources)
}

func TestLoadTuningOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target_miles: 300\nchapter_every: 2\n"), 0644))

	tun, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 300, tun.TargetMiles)
	assert.Equal(t, 2, tun.ChapterEvery)
	assert.Equal(t, "gemini-2.5-pro", tun.Profiles[models.TierChapter].Model)

	require.NoError(t, os.WriteFile(path, []byte("critical_resources: [gold]\n"), 0644))
	_, err = LoadTuning(path)
	assert.ErrorContains(t, err, "gold")
}
