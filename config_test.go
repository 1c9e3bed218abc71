package checks

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-checks/flags"
)

// parseConfig runs NewConfig through a real cli context so flag parsing,
// defaults and argument forwarding behave as they do in production.
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	var cfg *Config
	var cfgErr error
	app := cli.NewApp()
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, log.New(), ctx.String(flags.RepoDir.Name))
		return nil
	}
	err := app.Run(append([]string{"op-checks"}, args...))
	require.NoError(t, err)
	return cfg, cfgErr
}

func TestNewConfigDefaults(t *testing.T) {
	repoDir := t.TempDir()

	cfg, err := parseConfig(t, "--repo-dir", repoDir)
	require.NoError(t, err)

	assert.Equal(t, repoDir, cfg.RepoDir)
	assert.True(t, cfg.RunOnce, "No interval should imply run-once mode")
	assert.Equal(t, time.Duration(0), cfg.RunInterval)
	assert.Equal(t, "python", cfg.PythonBinary)
	assert.Equal(t, "cargo", cfg.CargoBinary)
	assert.Empty(t, cfg.Sessions, "No selection should run every session")
	assert.Empty(t, cfg.ForwardArgs)

	expectedLogDir, err := filepath.Abs("logs")
	require.NoError(t, err)
	assert.Equal(t, expectedLogDir, cfg.LogDir, "Log dir should default to ./logs resolved")
}

func TestNewConfigMissingRepoDir(t *testing.T) {
	cfg, err := parseConfig(t)
	require.Error(t, err, "Config should require a repository directory")
	assert.Nil(t, cfg)
}

func TestNewConfigRunInterval(t *testing.T) {
	cfg, err := parseConfig(t, "--repo-dir", t.TempDir(), "--run-interval", "1h")
	require.NoError(t, err)

	assert.False(t, cfg.RunOnce, "An interval should switch to continuous mode")
	assert.Equal(t, time.Hour, cfg.RunInterval)
}

func TestNewConfigSessionSelection(t *testing.T) {
	cfg, err := parseConfig(t, "--repo-dir", t.TempDir(), "--session", "lint", "--session", "tests")
	require.NoError(t, err)

	assert.Equal(t, []string{"lint", "tests"}, cfg.Sessions)
}

func TestNewConfigForwardArgs(t *testing.T) {
	cfg, err := parseConfig(t, "--repo-dir", t.TempDir(), "--", "-k", "test_rsa", "--randomly-seed=42")
	require.NoError(t, err)

	assert.Equal(t, []string{"-k", "test_rsa", "--randomly-seed=42"}, cfg.ForwardArgs,
		"Arguments after -- should be forwarded verbatim")
}

func TestNewConfigSessionConfigResolved(t *testing.T) {
	cfg, err := parseConfig(t, "--repo-dir", t.TempDir(), "--config", "checks.yaml")
	require.NoError(t, err)

	expected, err := filepath.Abs("checks.yaml")
	require.NoError(t, err)
	assert.Equal(t, expected, cfg.SessionConfig)
}

func TestNewConfigEnvDirFlag(t *testing.T) {
	venv := t.TempDir()

	cfg, err := parseConfig(t, "--repo-dir", t.TempDir(), "--env-dir", venv)
	require.NoError(t, err)
	assert.Equal(t, venv, cfg.EnvDir)
}

func TestNewConfigEnvDirFromVirtualEnv(t *testing.T) {
	venv := t.TempDir()
	t.Setenv("VIRTUAL_ENV", venv)

	cfg, err := parseConfig(t, "--repo-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, venv, cfg.EnvDir, "EnvDir should fall back to $VIRTUAL_ENV")
}

func TestNewConfigNoEnvDir(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "")

	cfg, err := parseConfig(t, "--repo-dir", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.EnvDir, "Without a flag or $VIRTUAL_ENV the env dir stays unset")
}
