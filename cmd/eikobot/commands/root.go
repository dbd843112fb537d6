// Package commands implements the eikobot CLI.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/eikobot/eikobot/pkg/telemetry"
)

var (
	// Global flags
	debug      bool
	jsonOutput bool
	traceSpans bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eikobot",
		Short: "Eikobot - desired state orchestrator",
		Long: `Eikobot compiles models written in the Eiko language into a task
graph and deploys it while honouring dependencies and deferred values.

Features:
  - Statically typed, Python-flavoured model language
  - Immutable resources with overloadable constructors
  - Promises: values resolved during deployment
  - Bounded-concurrency CRUD deployment engine
  - SSH and file primitives in the standard library`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "log in JSON format")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false, "emit trace spans to stderr")

	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newProjectCommand())
	rootCmd.AddCommand(newPackageCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}

func setupLogging() error {
	level := "info"
	if debug {
		level = "debug"
	}
	format := "console"
	if jsonOutput {
		format = "json"
	}
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  level,
		Format: format,
		Output: "stderr",
	})
	if err != nil {
		return err
	}
	log.Logger = logger.Zerolog()
	return nil
}

// initTracing installs the stdout tracer when requested; the returned
// function flushes buffered spans.
func initTracing(ctx context.Context) func() {
	if !traceSpans {
		return func() {}
	}
	shutdown, err := telemetry.InitTracer(os.Stderr)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize tracing")
		return func() {}
	}
	return func() {
		if err := shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to shut tracer down")
		}
	}
}
