package commands

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/eikobot/eikobot/pkg/deployer"
	"github.com/eikobot/eikobot/pkg/exporter"
	"github.com/eikobot/eikobot/pkg/project"
	"github.com/eikobot/eikobot/pkg/source"
	"github.com/eikobot/eikobot/pkg/telemetry"
)

func newDeployCommand() *cobra.Command {
	var (
		filePath    string
		dryRun      bool
		maxParallel int
		graphOut    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Compile a model and deploy its task graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flush := initTracing(ctx)
			defer flush()

			srcmap := source.NewMap()
			result, err := compileModel(ctx, srcmap, filePath)
			if err != nil {
				reportError(srcmap, err)
				return err
			}

			graph, err := exporter.New().Export(result)
			if err != nil {
				reportError(srcmap, err)
				return err
			}
			if graphOut != "" {
				if err := os.WriteFile(graphOut, []byte(graph.ToDOT()), 0o644); err != nil {
					return err
				}
			}

			settings, err := project.Load(filepath.Dir(filePath))
			if err != nil {
				return err
			}
			if settings.DryRun {
				dryRun = true
			}

			metrics := telemetry.NewMetrics()
			if metricsAddr != "" {
				go func() {
					if err := http.ListenAndServe(metricsAddr, metrics.Handler()); err != nil {
						log.Warn().Err(err).Msg("metrics server stopped")
					}
				}()
			}

			_, span := telemetry.StartSpan(ctx, "deploy")
			d := deployer.New(result.Evaluator, metrics, deployer.Options{
				MaxParallel: maxParallel,
				DryRun:      dryRun,
			})
			report, err := d.Deploy(ctx, graph)
			span.End()
			if err != nil {
				reportError(srcmap, err)
				return err
			}

			printReport(report)
			if report.Failed() {
				return fmt.Errorf("deployment finished with failures")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "main.eiko", "model file to deploy")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only read state and report would-be changes")
	cmd.Flags().IntVar(&maxParallel, "parallel", deployer.DefaultMaxParallel, "maximum tasks in flight")
	cmd.Flags().StringVar(&graphOut, "graph", "", "write the task graph in DOT format to a file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&enablePluginStacktrace, "enable-plugin-stacktrace", false,
		"show host stack traces for plugin errors")
	return cmd
}

// printReport renders the per-task outcome table and summary line.
func printReport(report *deployer.Report) {
	ids := make([]string, 0, len(report.Results))
	for id := range report.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := tablewriter.NewTable(os.Stdout)
	table.Header("Task", "State", "Changes")
	for _, id := range ids {
		result := report.Results[id]
		changes := ""
		if len(result.Changes) > 0 {
			changes = fmt.Sprint(len(result.Changes))
		}
		_ = table.Append([]string{id, string(result.State), changes})
	}
	if err := table.Render(); err != nil {
		log.Warn().Err(err).Msg("failed to render summary table")
	}

	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}
	fmt.Printf("%d deployed, %d failed, %d skipped of %d tasks%s\n",
		report.Summary.Deployed, report.Summary.Failed,
		report.Summary.Skipped, report.Summary.Total, mode)
}
