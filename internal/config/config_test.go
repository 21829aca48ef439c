package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MOCKINTERVIEW_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, 2, cfg.Interview.FollowUpCap)
	assert.Equal(t, 8*time.Second, cfg.Interview.EvaluateSoftDeadline)
	assert.Equal(t, 2, cfg.Interview.ModeMinRun)
	assert.True(t, cfg.UseMockLLM)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MOCKINTERVIEW_FOLLOW_UP_CAP", "3")
	t.Setenv("MOCKINTERVIEW_EVALUATE_SOFT_DEADLINE", "250ms")
	t.Setenv("MOCKINTERVIEW_MODE_MIN_CONFIDENCE", "0.5")
	t.Setenv("MOCKINTERVIEW_STORAGE_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Interview.FollowUpCap)
	assert.Equal(t, 250*time.Millisecond, cfg.Interview.EvaluateSoftDeadline)
	assert.InDelta(t, 0.5, cfg.Interview.ModeMinConfidence, 1e-9)
	assert.Equal(t, "redis", cfg.StorageBackend)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
interview:
  max_questions: 9
  follow_up_cap: 1
turn:
  gentle_silence: 5s
  hard_silence: 15s
  soft_turn_duration: 1m
  max_turn_duration: 2m
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("MOCKINTERVIEW_CONFIG_FILE", path)
	t.Setenv("MOCKINTERVIEW_FOLLOW_UP_CAP", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Interview.MaxQuestions)
	assert.Equal(t, 2, cfg.Interview.FollowUpCap, "env wins over file")
	assert.Equal(t, 5*time.Second, cfg.Turn.GentleSilence)
	assert.Equal(t, 2*time.Minute, cfg.Turn.MaxTurnDuration)
}

func TestUseMockLLMFollowsModeUnlessPinned(t *testing.T) {
	t.Setenv("MOCKINTERVIEW_MODE", "gcp")
	t.Setenv("MOCKINTERVIEW_GCP_PROJECT", "demo")
	t.Setenv("MOCKINTERVIEW_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.UseMockLLM, "gcp defaults to the real model")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("use_mock_llm: true\n"), 0o600))
	t.Setenv("MOCKINTERVIEW_CONFIG_FILE", path)

	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.UseMockLLM, "file choice holds in gcp mode")

	t.Setenv("MOCKINTERVIEW_USE_MOCK_LLM", "false")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.UseMockLLM, "env wins over file")
}

func TestValidateRejectsInconsistentSettings(t *testing.T) {
	cfg := Default()
	cfg.Interview.MaxQuestions = 0
	cfg.Turn.GentleSilence = time.Minute
	cfg.Turn.HardSilence = time.Second
	cfg.Mode = ModeGCP

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_questions")
	assert.Contains(t, err.Error(), "gentle_silence")
	assert.Contains(t, err.Error(), "GCP_PROJECT")
}
