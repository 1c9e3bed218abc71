package checks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-checks/flags"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	RepoDir       string
	EnvDir        string        // Environment directory the sessions install into
	SessionConfig string        // Optional session config file overriding the builtin project layout
	Sessions      []string      // Session names to run; empty runs every registered session
	PythonBinary  string
	CargoBinary   string
	RunInterval   time.Duration // Interval between check runs
	RunOnce       bool          // Indicates if the service should exit after one check run
	LogDir        string        // Directory to store session logs
	EnvFile       string        // Optional dotenv file merged into every session subprocess
	ForwardArgs   []string      // Extra arguments forwarded verbatim to the test runner
	Log           log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, repoDir string) (*Config, error) {
	// Parse flags
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if repoDir == "" {
		return nil, errors.New("repository directory is required")
	}

	absRepoDir, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for repository '%s': %w", repoDir, err)
	}

	sessionConfig := ctx.String(flags.SessionConfig.Name)
	if sessionConfig != "" {
		sessionConfig, err = filepath.Abs(sessionConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for session config '%s': %w", sessionConfig, err)
		}
	}

	// The environment directory falls back to the active virtualenv so the
	// orchestrator can be pointed at a repo without extra flags.
	envDir := ctx.String(flags.EnvDir.Name)
	if envDir == "" {
		envDir = os.Getenv("VIRTUAL_ENV")
	}
	if envDir != "" {
		envDir, err = filepath.Abs(envDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for environment directory '%s': %w", envDir, err)
		}
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	return &Config{
		RepoDir:       absRepoDir,
		EnvDir:        envDir,
		SessionConfig: sessionConfig,
		Sessions:      ctx.StringSlice(flags.Sessions.Name),
		PythonBinary:  ctx.String(flags.PythonBinary.Name),
		CargoBinary:   ctx.String(flags.CargoBinary.Name),
		RunInterval:   runInterval,
		RunOnce:       runOnce,
		LogDir:        logDir,
		EnvFile:       ctx.String(flags.EnvFile.Name),
		ForwardArgs:   ctx.Args().Slice(),
		Log:           log,
	}, nil
}
