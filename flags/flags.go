package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_CHECKS"

var (
	// RepoDir is enforced through CheckRequired rather than the flag itself so
	// subcommands like list work without it.
	RepoDir = &cli.StringFlag{
		Name:    "repo-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPO_DIR"),
		Usage:   "Path to the repository to run check sessions against",
	}
	Sessions = &cli.StringSliceFlag{
		Name:    "session",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SESSION"),
		Usage:   "Session to run (repeatable, eg. 'tests', 'lint'). Omit to run every registered session.",
	}
	SessionConfig = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a session config file overriding the built-in project layout (eg. 'checks.yaml')",
	}
	EnvDir = &cli.StringFlag{
		Name:    "env-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENV_DIR"),
		Usage:   "Path to the active environment directory. Defaults to $VIRTUAL_ENV.",
	}
	PythonBinary = &cli.StringFlag{
		Name:    "python-binary",
		Value:   "python",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PYTHON_BINARY"),
		Usage:   "Path to the Python binary to use for installs and builds",
	}
	CargoBinary = &cli.StringFlag{
		Name:    "cargo-binary",
		Value:   "cargo",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CARGO_BINARY"),
		Usage:   "Path to the cargo binary to use for native checks and coverage",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store per-run session logs",
	}
	EnvFile = &cli.StringFlag{
		Name:    "env-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENV_FILE"),
		Usage:   "Optional dotenv file whose entries are added to every session subprocess",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between check runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
)

var requiredFlags = []cli.Flag{
	RepoDir,
}

var optionalFlags = []cli.Flag{
	Sessions,
	SessionConfig,
	EnvDir,
	PythonBinary,
	CargoBinary,
	LogDir,
	EnvFile,
	RunInterval,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
