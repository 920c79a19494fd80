package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "gpt-5", cfg.Generator.Model)
	assert.Equal(t, 2*time.Minute, cfg.Generator.Timeout)
	assert.Equal(t, 24, cfg.Budgets.MaxSteps)
	assert.Equal(t, 5, cfg.Budgets.HistoryDepth)
	assert.Equal(t, 40, cfg.Budgets.TailLines)
	assert.Equal(t, 5*time.Minute, cfg.Sandbox.CommandTimeout)
	assert.Equal(t, "trusted", cfg.Completion.Policy)
	assert.Equal(t, "engineer", cfg.Practices.Role)
	assert.Equal(t, 50, cfg.Retention.KeepLast)
}

func TestDefaultJSONPassesSchema(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, string(DefaultJSON()))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"generator": {"model": "gpt-5-mini", "timeout": "45s"},
		"budgets": {"max_steps": 8},
		"sandbox": {"command_timeout": "90s", "keep_workspace": true},
		"verification": {"test_command": "go test ./..."},
		"completion": {"policy": "gated"},
		"practices": {"names": ["Tests first", "Small steps"]}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-mini", cfg.Generator.Model)
	assert.Equal(t, 45*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Generator.APIKeyEnv)
	assert.Equal(t, 8, cfg.Budgets.MaxSteps)
	assert.Equal(t, 5, cfg.Budgets.HistoryDepth)
	assert.Equal(t, 90*time.Second, cfg.Sandbox.CommandTimeout)
	assert.True(t, cfg.Sandbox.KeepWorkspace)
	assert.Equal(t, "go test ./...", cfg.Verification.TestCommand)
	assert.Equal(t, "gated", cfg.Completion.Policy)
	assert.Equal(t, []string{"Tests first", "Small steps"}, cfg.Practices.Names)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("BENDOVER_GENERATOR_MODEL", "gpt-5-codex")

	path := writeConfig(t, `{"generator": {"model": "gpt-5"}, "budgets": {"max_steps": 3}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-codex", cfg.Generator.Model)
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown section":   `{"generator": {"model": "m"}, "budgets": {"max_steps": 1}, "agents": {}}`,
		"zero step budget":  `{"generator": {"model": "m"}, "budgets": {"max_steps": 0}}`,
		"bad policy":        `{"generator": {"model": "m"}, "budgets": {"max_steps": 1}, "completion": {"policy": "maybe"}}`,
		"bad duration":      `{"generator": {"model": "m", "timeout": "soon"}, "budgets": {"max_steps": 1}}`,
		"missing generator": `{"budgets": {"max_steps": 1}}`,
	}
	for name, content := range tests {
		content := content
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config schema validation failed")
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".bendover", "config.json")
	created, err := WriteDefault(path)
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, os.WriteFile(path, []byte(`{"custom": true}`), 0o644))
	created, err = WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, created)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"custom": true}`, string(data))
}
