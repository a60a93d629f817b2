package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/opencode-pilot/ocp/internal/config"
	"github.com/opencode-pilot/ocp/internal/logging"
	"github.com/opencode-pilot/ocp/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

// errUnsuccessful marks a run that finished cleanly but whose task outcome
// warrants a non-zero exit code.
var errUnsuccessful = errors.New("task did not complete successfully")

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if !errors.Is(err, errUnsuccessful) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New()
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	cmd := newRootCommand(cfg, logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(cfg *config.Config, runtimeLogger *logging.RuntimeLogger) *cobra.Command {
	root := &cobra.Command{
		Use:           "ocp",
		Short:         "Drive a remote coding agent through tasks to completion",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newRunCommand(cfg, runtimeLogger),
		newDoctorCommand(cfg),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger(runtimeLogger).With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}

func logger(runtimeLogger *logging.RuntimeLogger) *log.Logger {
	if runtimeLogger == nil || runtimeLogger.Logger == nil {
		return log.Default()
	}
	return runtimeLogger.Logger
}
