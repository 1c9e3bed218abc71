package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/ethereum-optimism/infra/op-checks/types"
	"github.com/ethereum/go-ethereum/log"
)

var _ Executor = (*executor)(nil)

// Executor runs external commands on behalf of a session. Streaming and
// capturing are separate operations, never modes of a shared one.
type Executor interface {
	// Run executes cmd with stdout and stderr streamed to the console and
	// the session log as they are produced.
	Run(ctx context.Context, cmd types.Command) error

	// Capture executes cmd and returns its complete stdout. Stdout is not
	// displayed; stderr still streams to the console and the session log.
	Capture(ctx context.Context, cmd types.Command) (string, error)
}

// ChildProcessError reports an external command that exited non-zero.
// Session commands are never retried, so this is always fatal to the session.
type ChildProcessError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *ChildProcessError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
}

// Unwrap implements the errors.Unwrap interface
func (e *ChildProcessError) Unwrap() error {
	return e.Err
}

// IsChildProcessError checks if the error is or wraps a ChildProcessError
func IsChildProcessError(err error) bool {
	var childErr *ChildProcessError
	return err != nil && errors.As(err, &childErr)
}

// ExecutorConfig holds configuration for creating a new executor
type ExecutorConfig struct {
	// DefaultDir is the working directory for commands that don't set one.
	DefaultDir string
	// ExtraEnv is merged over the process environment for every command.
	ExtraEnv map[string]string
	// LogWriter receives a copy of all command output. May be nil.
	LogWriter io.Writer
	// Stdout is the console stream. Defaults to os.Stdout.
	Stdout io.Writer
	// Stderr is the console error stream. Defaults to os.Stderr.
	Stderr io.Writer
	// CmdBuilder constructs commands, injectable for tests.
	CmdBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd

	Log log.Logger
}

// executor implements Executor
type executor struct {
	defaultDir string
	extraEnv   map[string]string
	logWriter  io.Writer
	stdout     io.Writer
	stderr     io.Writer
	cmdBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd
	log        log.Logger
}

// NewExecutor creates a new command executor
func NewExecutor(cfg ExecutorConfig) (Executor, error) {
	if cfg.DefaultDir == "" {
		return nil, fmt.Errorf("default directory cannot be empty")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = exec.CommandContext
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	return &executor{
		defaultDir: cfg.DefaultDir,
		extraEnv:   cfg.ExtraEnv,
		logWriter:  cfg.LogWriter,
		stdout:     cfg.Stdout,
		stderr:     cfg.Stderr,
		cmdBuilder: cfg.CmdBuilder,
		log:        cfg.Log,
	}, nil
}

// Run executes cmd streaming its output.
func (e *executor) Run(ctx context.Context, cmd types.Command) error {
	proc := e.prepare(ctx, cmd)
	proc.Stdout = e.tee(e.stdout)
	proc.Stderr = e.tee(e.stderr)

	e.log.Info("Running command", "cmd", cmd.String(), "dir", proc.Dir)
	start := time.Now()
	err := proc.Run()
	e.log.Debug("Command finished", "cmd", cmd.Bin, "duration", time.Since(start))

	return e.wrapExitError(cmd, err)
}

// Capture executes cmd and returns its stdout unmodified, suitable for
// output that is consumed rather than read, like JSON build messages.
func (e *executor) Capture(ctx context.Context, cmd types.Command) (string, error) {
	proc := e.prepare(ctx, cmd)

	var stdout bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = e.tee(e.stderr)

	e.log.Info("Running command (captured)", "cmd", cmd.String(), "dir", proc.Dir)
	start := time.Now()
	err := proc.Run()
	e.log.Debug("Command finished", "cmd", cmd.Bin, "duration", time.Since(start), "stdoutBytes", stdout.Len())

	if err := e.wrapExitError(cmd, err); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// prepare builds the process with its working directory and merged
// environment. The directory is set per command, the runner's own working
// directory never changes.
func (e *executor) prepare(ctx context.Context, cmd types.Command) *exec.Cmd {
	proc := e.cmdBuilder(ctx, cmd.Bin, cmd.Args...)
	proc.Dir = cmd.Dir
	if proc.Dir == "" {
		proc.Dir = e.defaultDir
	}
	proc.Env = mergeEnv(os.Environ(), e.extraEnv, cmd.Env)
	return proc
}

// tee mirrors command output to the session log when one is configured.
func (e *executor) tee(console io.Writer) io.Writer {
	if e.logWriter == nil {
		return console
	}
	return io.MultiWriter(console, e.logWriter)
}

func (e *executor) wrapExitError(cmd types.Command, err error) error {
	if err == nil {
		return nil
	}
	exitErr := &exec.ExitError{}
	if errors.As(err, &exitErr) {
		return &ChildProcessError{
			Command:  cmd.String(),
			ExitCode: exitErr.ExitCode(),
			Err:      err,
		}
	}
	return fmt.Errorf("failed to run command %q: %w", cmd.String(), err)
}

// mergeEnv layers the extra maps over base in order, later keys winning.
// Map entries are appended in sorted order so command env is deterministic.
func mergeEnv(base []string, overlays ...map[string]string) []string {
	env := make([]string, len(base))
	copy(env, base)
	for _, overlay := range overlays {
		if len(overlay) == 0 {
			continue
		}
		keys := make([]string, 0, len(overlay))
		for k := range overlay {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+overlay[k])
		}
	}
	return env
}
