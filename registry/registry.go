package registry

import (
	"fmt"
	"os"
	"sync"

	"github.com/ethereum-optimism/infra/op-checks/types"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// Registry holds the ordered set of check sessions and the layout of the
// repository they run against. It is built once at startup and passed by
// reference into the runner.
type Registry struct {
	config   Config
	project  types.Project
	sessions []types.SessionDefinition
	byName   map[string]int
	mu       sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log               log.Logger
	SessionConfigFile string // optional YAML overrides; empty uses the built-in registry
}

// builtinSessions returns the default session registry in execution order.
func builtinSessions() []types.SessionDefinition {
	return []types.SessionDefinition{
		{
			Name:          "tests",
			Kind:          types.SessionKindTest,
			Description:   "Primary test suite with source coverage",
			InstallExtras: []string{"test"},
			Coverage:      true,
		},
		{
			Name:          "tests-ssh",
			Kind:          types.SessionKindTest,
			Description:   "Test suite with the ssh extra installed",
			InstallExtras: []string{"test", "ssh"},
			Coverage:      true,
		},
		{
			Name:          "tests-randomorder",
			Kind:          types.SessionKindTest,
			Description:   "Test suite with randomized test ordering",
			InstallExtras: []string{"test", "test-randomorder"},
			Coverage:      true,
		},
		{
			Name:          "tests-nocoverage",
			Kind:          types.SessionKindTest,
			Description:   "Test suite without coverage collection",
			InstallExtras: []string{"test"},
		},
		{
			Name:          "docs",
			Kind:          types.SessionKindDocs,
			Description:   "Documentation, doctest, spelling and sdist checks",
			InstallExtras: []string{"docs", "docstest", "sdist", "ssh"},
		},
		{
			Name:          "docs-linkcheck",
			Kind:          types.SessionKindLinkcheck,
			Description:   "Documentation external link check",
			InstallExtras: []string{"docs"},
		},
		{
			Name:          "lint",
			Kind:          types.SessionKindLint,
			Description:   "Style, manifest and static type checks",
			InstallExtras: []string{"pep8test", "test", "ssh"},
		},
		{
			Name:        "rust-check",
			Kind:        types.SessionKindRustCheck,
			Description: "Native crate formatting, clippy and tests",
		},
		{
			Name:          "rust-coverage",
			Kind:          types.SessionKindRustCoverage,
			Description:   "Instrumented suite with native coverage export",
			InstallExtras: []string{"test"},
			Coverage:      true,
		},
	}
}

// sessionConfigFile is the YAML shape of the optional overrides file.
type sessionConfigFile struct {
	Project  types.Project     `yaml:"project"`
	Sessions []sessionOverride `yaml:"sessions"`
}

// sessionOverride mirrors SessionDefinition with optional fields, so an
// override can change one attribute without resetting the rest.
type sessionOverride struct {
	Name          string            `yaml:"name"`
	Kind          types.SessionKind `yaml:"kind,omitempty"`
	Description   string            `yaml:"description,omitempty"`
	InstallExtras []string          `yaml:"install_extras,omitempty"`
	Coverage      *bool             `yaml:"coverage,omitempty"`
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		config:   cfg,
		project:  types.DefaultProject(),
		sessions: builtinSessions(),
	}

	if cfg.SessionConfigFile != "" {
		if err := r.loadOverrides(cfg.SessionConfigFile); err != nil {
			return nil, fmt.Errorf("failed to load session config: %w", err)
		}
	}
	r.reindex()

	cfg.Log.Debug("Registry loaded", "len(sessions)", len(r.sessions))

	return r, nil
}

// loadOverrides applies a YAML config on top of the built-in registry.
// Project fields replace their defaults when set; sessions are matched by
// name and replaced, unmatched entries are appended in file order.
func (r *Registry) loadOverrides(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	mergeProject(&r.project, cfg.Project)

	for _, override := range cfg.Sessions {
		if override.Name == "" {
			return fmt.Errorf("session override without a name in %s", path)
		}
		idx := r.indexOf(override.Name)
		if idx == -1 {
			if !override.Kind.IsValid() {
				return fmt.Errorf("session %q declares unknown kind %q", override.Name, override.Kind)
			}
			def := types.SessionDefinition{
				Name:          override.Name,
				Kind:          override.Kind,
				Description:   override.Description,
				InstallExtras: override.InstallExtras,
			}
			if override.Coverage != nil {
				def.Coverage = *override.Coverage
			}
			r.sessions = append(r.sessions, def)
			continue
		}
		current := r.sessions[idx]
		if override.Kind != "" {
			if !override.Kind.IsValid() {
				return fmt.Errorf("session %q declares unknown kind %q", override.Name, override.Kind)
			}
			current.Kind = override.Kind
		}
		if override.Description != "" {
			current.Description = override.Description
		}
		if override.InstallExtras != nil {
			current.InstallExtras = override.InstallExtras
		}
		if override.Coverage != nil {
			current.Coverage = *override.Coverage
		}
		r.sessions[idx] = current
	}

	return nil
}

// mergeProject overlays non-zero override fields onto the defaults.
func mergeProject(dst *types.Project, src types.Project) {
	if src.ConstraintsFile != "" {
		dst.ConstraintsFile = src.ConstraintsFile
	}
	if src.VectorsDir != "" {
		dst.VectorsDir = src.VectorsDir
	}
	if src.TestsDir != "" {
		dst.TestsDir = src.TestsDir
	}
	if src.DocsDir != "" {
		dst.DocsDir = src.DocsDir
	}
	if src.CoverageTargets != nil {
		dst.CoverageTargets = src.CoverageTargets
	}
	if src.LintTargets != nil {
		dst.LintTargets = src.LintTargets
	}
	if src.RustDir != "" {
		dst.RustDir = src.RustDir
	}
	if src.FragmentGlob != "" {
		dst.FragmentGlob = src.FragmentGlob
	}
	if src.SharedObjectGlob != "" {
		dst.SharedObjectGlob = src.SharedObjectGlob
	}
	if src.MergedProfile != "" {
		dst.MergedProfile = src.MergedProfile
	}
	if src.ReportFile != "" {
		dst.ReportFile = src.ReportFile
	}
	if src.ExcludePatterns != nil {
		dst.ExcludePatterns = src.ExcludePatterns
	}
}

func (r *Registry) indexOf(name string) int {
	for i, s := range r.sessions {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func (r *Registry) reindex() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]int, len(r.sessions))
	for i, s := range r.sessions {
		r.byName[s.Name] = i
	}
}

// Sessions returns all registered sessions in execution order.
func (r *Registry) Sessions() []types.SessionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.SessionDefinition, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Session returns the definition registered under name.
func (r *Registry) Session(name string) (types.SessionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[name]
	if !ok {
		return types.SessionDefinition{}, false
	}
	return r.sessions[idx], true
}

// Select resolves the requested session names, preserving registry order.
// An empty request selects every session. Unknown names are an error.
func (r *Registry) Select(names []string) ([]types.SessionDefinition, error) {
	if len(names) == 0 {
		return r.Sessions(), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	requested := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := r.byName[name]; !ok {
			return nil, fmt.Errorf("unknown session %q", name)
		}
		requested[name] = true
	}

	var selected []types.SessionDefinition
	for _, s := range r.sessions {
		if requested[s.Name] {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// Project returns the layout of the repository under check.
func (r *Registry) Project() types.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.project
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// loadConfig loads a session config from a file
func loadConfig(path string) (*sessionConfigFile, error) {
	log.Debug("Reading session config file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg sessionConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}
