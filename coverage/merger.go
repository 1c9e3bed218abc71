package coverage

import (
	"context"

	"github.com/ethereum-optimism/infra/op-checks/types"
	"github.com/ethereum/go-ethereum/log"
)

// Merger consolidates raw profile fragments into a single indexed profile
// using the native toolchain.
type Merger struct {
	cargoBinary string
	rustDir     string
	output      string // merged profile path, relative to rustDir
	exec        Executor
	log         log.Logger
}

// NewMerger creates a profile merger. output is the merged profile path
// relative to rustDir.
func NewMerger(cargoBinary, rustDir, output string, exec Executor, logger log.Logger) *Merger {
	if logger == nil {
		logger = log.New()
	}
	return &Merger{
		cargoBinary: cargoBinary,
		rustDir:     rustDir,
		output:      output,
		exec:        exec,
		log:         logger,
	}
}

// Merge consolidates fragments into the merged profile. Fragment paths are
// relative to the rust directory. An empty fragment set is a valid outcome
// of an uninstrumented build: no command runs and no error is returned.
// A failed merge never leaves a partial profile in use; the error aborts
// the pipeline.
func (m *Merger) Merge(ctx context.Context, fragments []string) error {
	if len(fragments) == 0 {
		m.log.Info("No profile fragments found, skipping merge")
		return nil
	}

	m.log.Info("Merging profile fragments", "count", len(fragments), "output", m.output)

	args := []string{"profdata", "--", "merge", "-sparse"}
	args = append(args, fragments...)
	args = append(args, "-o", m.output)

	return m.exec.Run(ctx, types.Command{
		Bin:  m.cargoBinary,
		Args: args,
		Dir:  m.rustDir,
	})
}
