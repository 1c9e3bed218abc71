package coverage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-checks/types"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Compiler and profile runtime environment for instrumented builds. The
// profile path template is resolved per process: %p expands to the writing
// process's pid, so concurrent test processes never clobber each other's
// fragment.
const (
	InstrumentationEnvVar = "RUSTFLAGS"
	InstrumentationFlags  = "-Cinstrument-coverage"
	ProfileFileEnvVar     = "LLVM_PROFILE_FILE"
	ProfileFileTemplate   = "rust-cov/cov-%p.profraw"
)

// InstrumentationEnv returns the environment entries that switch the
// toolchain into coverage-instrumented builds.
func InstrumentationEnv() map[string]string {
	return map[string]string{
		InstrumentationEnvVar: InstrumentationFlags,
		ProfileFileEnvVar:     ProfileFileTemplate,
	}
}

// Executor runs external commands for the pipeline. It is satisfied by the
// runner package's executor.
type Executor interface {
	Run(ctx context.Context, cmd types.Command) error
	Capture(ctx context.Context, cmd types.Command) (string, error)
}

// State identifies a coverage pipeline stage.
type State string

const (
	StateIdle            State = "idle"
	StateTesting         State = "testing"
	StateCollecting      State = "collecting"
	StateMerging         State = "merging"
	StateBinaryDiscovery State = "binary-discovery"
	StateExporting       State = "exporting"
	StateDone            State = "done"
	StateAborted         State = "aborted"
)

// transitions is the allowed state graph. The stages run strictly in
// sequence; any active stage may fail into Aborted. Done and Aborted are
// terminal.
var transitions = map[State][]State{
	StateIdle:            {StateTesting},
	StateTesting:         {StateCollecting, StateAborted},
	StateCollecting:      {StateMerging, StateAborted},
	StateMerging:         {StateBinaryDiscovery, StateAborted},
	StateBinaryDiscovery: {StateExporting, StateAborted},
	StateExporting:       {StateDone, StateAborted},
	StateDone:            {},
	StateAborted:         {},
}

// Config holds configuration for creating a new pipeline
type Config struct {
	RepoDir     string        // repository under check
	EnvDir      string        // active environment dir; shared objects are located beneath it
	Project     types.Project // repository layout
	CargoBinary string
	Executor    Executor
	Log         log.Logger

	// TestSuite runs the instrumented primary test suite in the Testing
	// stage, before the native test run. May be nil.
	TestSuite func(ctx context.Context) error

	// RawMessageSink receives the captured build message stream before
	// parsing, for post-mortems. May be nil.
	RawMessageSink io.Writer
}

// Pipeline drives the native coverage stages in order: run the instrumented
// suite, collect profile fragments, merge them, discover the compiled test
// binaries and the installed shared object, and export the report.
type Pipeline struct {
	cfg      Config
	merger   *Merger
	exporter *Exporter
	tracer   trace.Tracer
	log      log.Logger

	mu    sync.RWMutex
	state State
}

// NewPipeline creates a coverage pipeline
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.RepoDir == "" {
		return nil, fmt.Errorf("repo directory is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.CargoBinary == "" {
		cfg.CargoBinary = "cargo"
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	rustDir := filepath.Join(cfg.RepoDir, cfg.Project.RustDir)
	reportFile := filepath.Join(cfg.RepoDir, cfg.Project.ReportFile)

	return &Pipeline{
		cfg:      cfg,
		merger:   NewMerger(cfg.CargoBinary, rustDir, cfg.Project.MergedProfile, cfg.Executor, cfg.Log),
		exporter: NewExporter(cfg.CargoBinary, rustDir, cfg.Project.MergedProfile, reportFile, cfg.Project.ExcludePatterns, cfg.Executor, cfg.Log),
		tracer:   otel.Tracer("coverage pipeline"),
		log:      cfg.Log,
		state:    StateIdle,
	}, nil
}

// State returns the pipeline's current state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// transition moves the pipeline to next, enforcing the allowed state graph.
func (p *Pipeline) transition(next State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, allowed := range transitions[p.state] {
		if next == allowed {
			p.log.Debug("Pipeline state change", "from", p.state, "to", next)
			p.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal pipeline transition from %q to %q", p.state, next)
}

// abort records the terminal failure state.
func (p *Pipeline) abort() {
	if err := p.transition(StateAborted); err != nil {
		p.log.Error("Failed to record aborted pipeline state", "err", err)
	}
}

// Run executes the pipeline stages in order. The first failing stage aborts
// the pipeline; no later stage runs and no report is produced.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	ctx, span := p.tracer.Start(ctx, "coverage pipeline")
	defer span.End()

	defer func() {
		if err != nil {
			p.abort()
		}
	}()

	if err = p.transition(StateTesting); err != nil {
		return err
	}
	if err = p.runTests(ctx); err != nil {
		return err
	}

	if err = p.transition(StateCollecting); err != nil {
		return err
	}
	fragments, err := Locate(p.rustDir(), p.cfg.Project.FragmentGlob)
	if err != nil {
		return err
	}
	p.log.Info("Collected profile fragments", "count", len(fragments), "pattern", p.cfg.Project.FragmentGlob)

	if err = p.transition(StateMerging); err != nil {
		return err
	}
	if err = p.merger.Merge(ctx, fragments); err != nil {
		return err
	}

	if err = p.transition(StateBinaryDiscovery); err != nil {
		return err
	}
	sharedObjects, objects, err := p.discoverBinaries(ctx)
	if err != nil {
		return err
	}

	if err = p.transition(StateExporting); err != nil {
		return err
	}
	if err = p.exporter.Export(ctx, sharedObjects, objects); err != nil {
		return err
	}

	return p.transition(StateDone)
}

func (p *Pipeline) rustDir() string {
	return filepath.Join(p.cfg.RepoDir, p.cfg.Project.RustDir)
}

// runTests executes the instrumented test suite and then the native tests,
// both of which write profile fragments as a side effect.
func (p *Pipeline) runTests(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "instrumented tests")
	defer span.End()

	if p.cfg.TestSuite != nil {
		if err := p.cfg.TestSuite(ctx); err != nil {
			return err
		}
	}
	return p.cfg.Executor.Run(ctx, types.Command{
		Bin:  p.cfg.CargoBinary,
		Args: []string{"test", "--no-default-features"},
		Dir:  p.rustDir(),
	})
}

// discoverBinaries rebuilds test metadata without running tests, parses the
// captured build message stream into export references, and locates the
// installed shared object under the environment directory.
func (p *Pipeline) discoverBinaries(ctx context.Context) (sharedObjects, objects []string, err error) {
	ctx, span := p.tracer.Start(ctx, "binary discovery")
	defer span.End()

	out, err := p.cfg.Executor.Capture(ctx, types.Command{
		Bin:  p.cfg.CargoBinary,
		Args: []string{"test", "--no-default-features", "--all", "--tests", "--no-run", "-q", "--message-format=json"},
		Dir:  p.rustDir(),
	})
	if err != nil {
		return nil, nil, err
	}

	if p.cfg.RawMessageSink != nil {
		if _, err := p.cfg.RawMessageSink.Write([]byte(out)); err != nil {
			p.log.Warn("Failed to preserve raw build messages", "err", err)
		}
	}

	objects, err = ParseBuildMessages(strings.NewReader(out))
	if err != nil {
		return nil, nil, err
	}
	p.log.Info("Discovered test binaries", "count", len(objects)/2)

	if p.cfg.EnvDir == "" {
		p.log.Warn("No environment directory configured, skipping shared object discovery")
		return nil, objects, nil
	}

	relative, err := Locate(p.cfg.EnvDir, p.cfg.Project.SharedObjectGlob)
	if err != nil {
		return nil, nil, err
	}
	for _, rel := range relative {
		sharedObjects = append(sharedObjects, filepath.Join(p.cfg.EnvDir, rel))
	}
	if len(sharedObjects) == 0 {
		p.log.Warn("No installed shared object matched", "pattern", p.cfg.Project.SharedObjectGlob, "envDir", p.cfg.EnvDir)
	}
	return sharedObjects, objects, nil
}
