package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/eval"
	"github.com/eikobot/eikobot/pkg/project"
	"github.com/eikobot/eikobot/pkg/source"
	"github.com/eikobot/eikobot/pkg/stdlib"
	"github.com/eikobot/eikobot/pkg/telemetry"
)

var enablePluginStacktrace bool

func newCompileCommand() *cobra.Command {
	var (
		filePath    string
		outputModel bool
	)

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile an Eiko model without deploying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			flush := initTracing(cmd.Context())
			defer flush()

			srcmap := source.NewMap()
			result, err := compileModel(cmd.Context(), srcmap, filePath)
			if err != nil {
				reportError(srcmap, err)
				return err
			}

			fmt.Println("Compiled successfully.")
			if outputModel {
				return writeModel(os.Stdout, result)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "main.eiko", "model file to compile")
	cmd.Flags().BoolVar(&outputModel, "output-model", false, "print the compiled model as YAML")
	cmd.Flags().BoolVar(&enablePluginStacktrace, "enable-plugin-stacktrace", false,
		"show host stack traces for plugin errors")
	return cmd
}

// compileModel loads project settings and runs the compiler with the
// standard library and installed packages on the search path.
func compileModel(ctx context.Context, srcmap *source.Map, filePath string) (*eval.Result, error) {
	_, span := telemetry.StartSpan(ctx, "compile")
	defer span.End()
	started := time.Now()

	settings, err := project.Load(filepath.Dir(filePath))
	if err != nil {
		return nil, err
	}
	stdlib.SetSSHTimeout(time.Duration(settings.SSHTimeout) * time.Second)

	stdRoot, err := stdlib.Materialize()
	if err != nil {
		return nil, err
	}
	packageRoots := []string{
		stdRoot,
		filepath.Join(filepath.Dir(filePath), project.PackageRoot),
	}

	result, err := eval.Compile(srcmap, filePath, nil, packageRoots)
	log.Debug().Dur("duration", time.Since(started)).Msg("compile finished")
	return result, err
}

// reportError prints a compile or deploy error with its source snippet.
func reportError(srcmap *source.Map, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	fmt.Fprintln(os.Stderr, e.Error())
	if snippet := srcmap.Snippet(e.Span()); snippet != "" {
		fmt.Fprintln(os.Stderr, snippet)
	}
	if e.Trace != "" && enablePluginStacktrace {
		fmt.Fprintln(os.Stderr, e.Trace)
	}
}

// writeModel serializes the compiled module scope to YAML.
func writeModel(w *os.File, result *eval.Result) error {
	model := make(map[string]any)
	for _, name := range result.Module.Env.Names() {
		value, _ := result.Module.Env.LookupLocal(name)
		switch value.(type) {
		case *eval.ModuleVal, *eval.ResourceDefVal, *eval.TypeVal, *eval.BuiltinVal, *eval.PluginVal:
			continue
		}
		model[name] = eval.ToGo(value)
	}

	resources := make([]map[string]any, 0, result.Table.Len())
	for _, resource := range result.Table.All() {
		resources = append(resources, map[string]any{
			"type":       resource.Definition().QualifiedName(),
			"index":      resource.Index(),
			"properties": eval.ToGo(resource),
		})
	}

	out := map[string]any{
		"bindings":  model,
		"resources": resources,
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(out)
}
