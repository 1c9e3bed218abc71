package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-checks/exitcodes"
	"github.com/ethereum-optimism/infra/op-checks/gitinfo"
	"github.com/ethereum-optimism/infra/op-checks/logging"
	"github.com/ethereum-optimism/infra/op-checks/registry"
	"github.com/ethereum-optimism/infra/op-checks/runner"
	"github.com/ethereum-optimism/infra/op-checks/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// checks implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &checks{}

// checks orchestrates build and test sessions against a repository.
type checks struct {
	ctx      context.Context
	config   *Config
	version  string
	registry *registry.Registry
	runner   runner.SessionRunner
	result   *runner.CheckResult

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*checks, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating checks service with config",
		"repoDir", config.RepoDir,
		"sessionConfig", config.SessionConfig,
		"sessions", strings.Join(config.Sessions, ","),
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	reg, err := registry.NewRegistry(registry.Config{
		Log:               config.Log,
		SessionConfigFile: config.SessionConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	extraEnv, err := loadEnvFile(config)
	if err != nil {
		return nil, err
	}

	if info, err := gitinfo.Describe(config.RepoDir); err != nil {
		config.Log.Warn("Unable to read repository git state", "repoDir", config.RepoDir, "error", err)
	} else {
		config.Log.Info("Checking repository", "commit", info.ShortCommit(), "branch", info.Branch)
	}

	// Create runner with registry
	sessionRunner, err := runner.NewSessionRunner(runner.Config{
		Registry:     reg,
		RepoDir:      config.RepoDir,
		EnvDir:       config.EnvDir,
		Sessions:     config.Sessions,
		PythonBinary: config.PythonBinary,
		CargoBinary:  config.CargoBinary,
		ForwardArgs:  config.ForwardArgs,
		ExtraEnv:     extraEnv,
		Log:          config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session runner: %w", err)
	}
	config.Log.Info("checks.New: created registry and session runner")

	return &checks{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		runner:           sessionRunner,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// loadEnvFile reads the optional dotenv file whose entries are layered onto
// every session subprocess.
func loadEnvFile(config *Config) (map[string]string, error) {
	if config.EnvFile == "" {
		return nil, nil
	}
	env, err := godotenv.Read(config.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file '%s': %w", config.EnvFile, err)
	}
	config.Log.Debug("Loaded session environment entries", "file", config.EnvFile, "count", len(env))
	return env, nil
}

// Start runs the check sessions periodically at the configured interval.
// Start implements the cliapp.Lifecycle interface.
func (c *checks) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			c.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	c.ctx = ctx
	c.done = make(chan struct{})
	c.running.Store(true)

	if c.config.RunOnce {
		c.config.Log.Info("Starting op-checks in run-once mode")
	} else {
		c.config.Log.Info("Starting op-checks in continuous mode", "interval", c.config.RunInterval)
	}

	c.config.Log.Debug("Checks config paths",
		"config.RepoDir", c.config.RepoDir,
		"config.LogDir", c.config.LogDir)

	// Run sessions immediately on startup
	err := c.runSessions()
	if err != nil {
		// For runtime errors (like configuration issues), return exit code 2
		c.config.Log.Error("Runtime error running sessions", "error", err)
		return cli.Exit(err.Error(), 2)
	}

	// If in run-once mode, trigger shutdown and return
	if c.config.RunOnce {
		c.config.Log.Info("Sessions completed, exiting (run-once mode)")

		// Check if any sessions failed and return appropriate exit code
		if c.result != nil && c.result.Status == types.SessionStatusFail {
			c.config.Log.Warn("Run-once check run completed with failures, returning exit code 1")
			// Return exit code 1 for session failures (child commands failed)
			return NewSessionFailureError(c.result.String())
		}

		// Only need to call this when we're in run-once mode and all sessions passed
		go func() {
			c.shutdownCallback(nil)
		}()
		return nil // Success (exit code 0)
	}

	// Start a goroutine for periodic session execution
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.config.Log.Debug("Starting periodic check runner goroutine", "interval", c.config.RunInterval)

		for {
			select {
			case <-time.After(c.config.RunInterval):
				// Check if we should still be running
				if !c.running.Load() {
					c.config.Log.Debug("Service stopped, exiting periodic check runner")
					return
				}

				// Run sessions
				c.config.Log.Info("Running periodic check sessions")
				if err := c.runSessions(); err != nil {
					c.config.Log.Error("Error running periodic sessions", "error", err)
				}
				c.config.Log.Info("Check run interval", "interval", c.config.RunInterval)

			case <-c.done:
				c.config.Log.Debug("Done signal received, stopping periodic check runner")
				return

			case <-ctx.Done():
				c.config.Log.Debug("Context canceled, stopping periodic check runner")
				c.running.Store(false)
				return
			}
		}
	}()
	c.config.Log.Debug("op-checks started successfully")
	return nil
}

// runSessions runs the selected sessions and processes the results
func (c *checks) runSessions() error {
	c.config.Log.Info("Running selected sessions...")

	fileLogger, err := logging.NewFileLogger(c.config.LogDir, uuid.New().String())
	if err != nil {
		// This is a runtime error (not a session failure)
		c.config.Log.Error("Error creating file logger", "error", err)
		return NewRuntimeError(err)
	}
	if withLogger, ok := c.runner.(runner.SessionRunnerWithFileLogger); ok {
		withLogger.SetFileLogger(fileLogger)
	}

	result, err := c.runner.RunSelected(c.ctx)
	if err != nil {
		// This is a runtime error (not a session failure)
		c.config.Log.Error("Runtime error running sessions", "error", err)
		return NewRuntimeError(err)
	}
	c.result = result

	c.printResultsTable(result.RunID)
	fmt.Println(c.result.String())
	if err := fileLogger.LogSummary(c.result.String(), result.RunID); err != nil {
		c.config.Log.Error("Error writing run summary", "error", err)
	}
	if err := fileLogger.Complete(result.RunID); err != nil {
		c.config.Log.Error("Error completing file logger", "error", err)
	}
	c.config.Log.Info("Check run completed",
		"run_id", result.RunID, "status", c.result.Status, "logdir", fileLogger.GetLogDir())
	return nil
}

// Stop stops the op-checks service.
// Stop implements the cliapp.Lifecycle interface.
func (c *checks) Stop(ctx context.Context) error {
	c.config.Log.Info("Stopping op-checks")

	// Check if we're already stopped
	if !c.running.Load() {
		c.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	// Update running state first to prevent new check runs
	c.running.Store(false)

	// Signal goroutines to exit
	c.config.Log.Debug("Sending done signal to goroutines")
	close(c.done)

	c.config.Log.Info("op-checks stopped successfully")
	return nil
}

// Stopped returns true if the op-checks service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (c *checks) Stopped() bool {
	return !c.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (c *checks) WaitForShutdown(ctx context.Context) error {
	c.config.Log.Debug("Waiting for all goroutines to terminate")

	// Create a channel that will be closed when the WaitGroup is done
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	// Wait for either WaitGroup completion or context expiration
	select {
	case <-done:
		c.config.Log.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		c.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
