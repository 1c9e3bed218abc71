package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	checks "github.com/ethereum-optimism/infra/op-checks"
	"github.com/ethereum-optimism/infra/op-checks/exitcodes"
	"github.com/ethereum-optimism/infra/op-checks/flags"
	"github.com/ethereum-optimism/infra/op-checks/registry"
	"github.com/ethereum-optimism/infra/op-checks/service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-checks"
	app.Usage = "Optimism Repository Check Orchestrator"
	app.Description = "op-checks runs install, lint, docs and test sessions against a repository"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Commands = []*cli.Command{
		{
			Name:   "list",
			Usage:  "List the registered sessions and exit",
			Action: listSessions,
		},
	}
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// Check for typed runtime errors
			if checks.IsRuntimeError(err) {
				// For runtime errors, use exit code 2
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if checks.IsSessionFailureError(err) {
				// For session failures, use exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.SessionFailure))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.SessionFailure))
			}
		}
	}

	// Start telemetry
	shutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start server
	ctx := context.Background()
	svc := service.New()
	svc.Start(ctx)
	defer svc.Shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	// Initialize the service with the repository path
	cfg, err := checks.NewConfig(ctx, log, ctx.String(flags.RepoDir.Name))
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, checks.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	// Create the checks service
	checksService, err := checks.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, checks.NewRuntimeError(fmt.Errorf("failed to create checks service: %w", err))
	}

	return checksService, nil
}

// listSessions prints the registered sessions, honoring a session config
// override when one is passed.
func listSessions(ctx *cli.Context) error {
	reg, err := registry.NewRegistry(registry.Config{
		Log:               log.New(),
		SessionConfigFile: ctx.String(flags.SessionConfig.Name),
	})
	if err != nil {
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}
	checks.PrintSessionList(reg.Sessions())
	return nil
}
