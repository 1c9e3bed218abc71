package coverage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-checks/types"
)

// fakeExecutor records commands and plays back scripted results. It stands in
// for the runner's executor in pipeline and stage tests.
type fakeExecutor struct {
	mu        sync.Mutex
	commands  []types.Command
	runFn     func(cmd types.Command) error
	captureFn func(cmd types.Command) (string, error)
}

func (f *fakeExecutor) Run(ctx context.Context, cmd types.Command) error {
	f.record(cmd)
	if f.runFn != nil {
		return f.runFn(cmd)
	}
	return nil
}

func (f *fakeExecutor) Capture(ctx context.Context, cmd types.Command) (string, error) {
	f.record(cmd)
	if f.captureFn != nil {
		return f.captureFn(cmd)
	}
	return "", nil
}

func (f *fakeExecutor) record(cmd types.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeExecutor) recorded() []types.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// commandsWithArg returns the recorded commands whose first argument matches.
func (f *fakeExecutor) commandsWithArg(arg string) []types.Command {
	var out []types.Command
	for _, cmd := range f.recorded() {
		if len(cmd.Args) > 0 && cmd.Args[0] == arg {
			out = append(out, cmd)
		}
	}
	return out
}

func TestMerger_EmptyFragmentSetIsNoOp(t *testing.T) {
	exec := &fakeExecutor{}
	m := NewMerger("cargo", "/repo/src/rust", "rust-cov.profdata", exec, log.New())

	err := m.Merge(context.Background(), nil)
	require.NoError(t, err, "merging zero fragments is a valid no-op")
	assert.Empty(t, exec.recorded(), "no toolchain command should run for an empty fragment set")
}

func TestMerger_MergesAllFragments(t *testing.T) {
	exec := &fakeExecutor{}
	m := NewMerger("cargo", "/repo/src/rust", "rust-cov.profdata", exec, log.New())

	fragments := []string{"rust-cov/cov-100.profraw", "rust-cov/cov-200.profraw"}
	err := m.Merge(context.Background(), fragments)
	require.NoError(t, err)

	recorded := exec.recorded()
	require.Len(t, recorded, 1, "exactly one merge command per invocation")
	cmd := recorded[0]
	assert.Equal(t, "cargo", cmd.Bin)
	assert.Equal(t, []string{
		"profdata", "--", "merge", "-sparse",
		"rust-cov/cov-100.profraw", "rust-cov/cov-200.profraw",
		"-o", "rust-cov.profdata",
	}, cmd.Args, "every discovered fragment must be in the merge command")
	assert.Equal(t, "/repo/src/rust", cmd.Dir)
}

func TestMerger_CommandFailurePropagates(t *testing.T) {
	exec := &fakeExecutor{
		runFn: func(cmd types.Command) error {
			return fmt.Errorf("exit status 1")
		},
	}
	m := NewMerger("cargo", "/repo/src/rust", "rust-cov.profdata", exec, log.New())

	err := m.Merge(context.Background(), []string{"cov-1.profraw"})
	require.Error(t, err, "a failed merge must abort, a partial profile is never used")
}
