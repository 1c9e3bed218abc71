package coverage

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum-optimism/infra/op-checks/types"
	"github.com/ethereum/go-ethereum/log"
)

// Exporter produces the line-coverage report from the merged profile and the
// discovered binaries.
type Exporter struct {
	cargoBinary string
	rustDir     string
	profile     string // merged profile path, relative to rustDir
	reportFile  string // absolute path of the report to write
	excludes    []string
	exec        Executor
	log         log.Logger
}

// NewExporter creates a coverage exporter.
func NewExporter(cargoBinary, rustDir, profile, reportFile string, excludes []string, exec Executor, logger log.Logger) *Exporter {
	if logger == nil {
		logger = log.New()
	}
	return &Exporter{
		cargoBinary: cargoBinary,
		rustDir:     rustDir,
		profile:     profile,
		reportFile:  reportFile,
		excludes:    excludes,
		exec:        exec,
		log:         logger,
	}
}

// Export runs the toolchain export over the shared objects and test binary
// references and writes the lcov output to the report file, byte for byte.
// An empty reference list skips the export entirely, leaving no report file.
// The exclusion patterns drop toolchain-internal source paths from the
// report.
func (e *Exporter) Export(ctx context.Context, sharedObjects, objects []string) error {
	if len(objects) == 0 {
		e.log.Info("No test binaries discovered, skipping coverage export")
		return nil
	}

	e.log.Info("Exporting coverage report", "binaries", len(objects)/2, "report", e.reportFile)

	args := []string{"cov", "--", "export"}
	args = append(args, sharedObjects...)
	args = append(args, objects...)
	args = append(args, "-instr-profile="+e.profile)
	for _, pattern := range e.excludes {
		args = append(args, "--ignore-filename-regex="+pattern)
	}
	args = append(args, "--format=lcov")

	report, err := os.Create(e.reportFile)
	if err != nil {
		return fmt.Errorf("failed to create coverage report %s: %w", e.reportFile, err)
	}
	defer report.Close()

	out, err := e.exec.Capture(ctx, types.Command{
		Bin:  e.cargoBinary,
		Args: args,
		Dir:  e.rustDir,
	})
	if err != nil {
		return err
	}

	if _, err := report.Write([]byte(out)); err != nil {
		return fmt.Errorf("failed to write coverage report %s: %w", e.reportFile, err)
	}
	return nil
}
