package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"profile": "profile.json",
		"concurrency": 3,
		"challenge": {"daily_budget": 2.5, "hourly_limit": 10}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "profile.json", cfg.Profile)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 2.5, cfg.Challenge.DailyBudget)
	assert.Equal(t, 10, cfg.Challenge.HourlyLimit)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestMergeWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{Concurrency: 5}
	cfg.Challenge.DailyBudget = 0.5

	merged := cfg.MergeWithDefaults(Default())

	assert.Equal(t, 5, merged.Concurrency)
	assert.Equal(t, 0.5, merged.Challenge.DailyBudget)
	assert.Equal(t, Default().Challenge.HourlyLimit, merged.Challenge.HourlyLimit)
	assert.Equal(t, Default().DataDir, merged.DataDir)
}

func TestValidateRejectsNegativeBudget(t *testing.T) {
	cfg := Default()
	cfg.Challenge.DailyBudget = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeCostTableEntry(t *testing.T) {
	cfg := Default()
	cfg.Challenge.CostTable["2captcha"]["hcaptcha"] = -0.1
	assert.Error(t, cfg.Validate())
}

func TestCostForFallsBackWhenUnlisted(t *testing.T) {
	cfg := Default().Challenge
	assert.Equal(t, 0.003, cfg.CostFor("recaptcha_v2"))
	assert.Equal(t, 0.005, cfg.CostFor("image"))
}
