package eval

import (
	"path/filepath"

	"github.com/eikobot/eikobot/pkg/ast"
	"github.com/eikobot/eikobot/pkg/parser"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/source"
	"github.com/rs/zerolog/log"
)

// Result is the output of a compilation: the entry module's environment
// and the table of every resource built.
type Result struct {
	Module    *ModuleVal
	Table     *ResourceTable
	Evaluator *Evaluator
}

// Compile runs the full front half of the pipeline on an entry file:
// lex, parse, resolve imports, evaluate.
//
// packageRoots extends the module search path behind the entry file's
// own directory.
func Compile(srcmap *source.Map, entryPath string, registry *plugin.Registry, packageRoots []string) (*Result, error) {
	file, err := srcmap.Load(entryPath)
	if err != nil {
		return nil, err
	}

	e := New(srcmap, registry)
	searchPath := append([]string{filepath.Dir(file.Path)}, packageRoots...)
	e.resolver.SetSearchPath(searchPath)

	log.Debug().Str("entry", file.Path).Msg("compiling model")

	mod, err := e.resolver.EvalEntry(file)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("resources", e.table.Len()).
		Msg("compilation finished")

	return &Result{Module: mod, Table: e.table, Evaluator: e}, nil
}

func parseModule(file *source.File) (*ast.Module, []error) {
	return parser.ParseFile(file)
}
