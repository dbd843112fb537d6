package eval

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/source"
)

// PackageMarker is the file that makes a directory an importable package.
const PackageMarker = "__init__.eiko"

// FileExtension is the Eiko source file extension.
const FileExtension = ".eiko"

// moduleState tracks one module through loading. Encountering a module
// that is still loading while resolving is a cyclic-import error.
type moduleState struct {
	loading bool
	mod     *ModuleVal
}

// Resolver maps import paths to module environments. Each canonical file
// path is parsed and evaluated at most once per compilation; re-imports
// reuse the cached environment.
type Resolver struct {
	e *Evaluator

	// searchPath holds the entry file's directory first, then the
	// package roots installed by the package manager.
	searchPath []string

	// states is keyed by canonical module file path.
	states map[string]*moduleState

	// dirStack tracks the directory of the module currently being
	// evaluated, for relative imports.
	dirStack []string
}

func newResolver(e *Evaluator) *Resolver {
	return &Resolver{
		e:      e,
		states: make(map[string]*moduleState),
	}
}

// SetSearchPath installs the module search path.
func (r *Resolver) SetSearchPath(roots []string) {
	r.searchPath = roots
}

func (r *Resolver) pushDir(dir string) { r.dirStack = append(r.dirStack, dir) }
func (r *Resolver) popDir()            { r.dirStack = r.dirStack[:len(r.dirStack)-1] }

func (r *Resolver) currentDir() string {
	if len(r.dirStack) == 0 {
		return "."
	}
	return r.dirStack[len(r.dirStack)-1]
}

// Import resolves a module path to a loaded module. dots > 0 makes the
// import relative to the importing module's directory.
func (r *Resolver) Import(parts []string, dots int, span source.Span) (*ModuleVal, error) {
	file, err := r.locate(parts, dots, span)
	if err != nil {
		return nil, err
	}
	return r.load(file, strings.Join(parts, "."), span)
}

// locate finds the module file for an import path: <path>.eiko first,
// then <path>/__init__.eiko for package directories.
func (r *Resolver) locate(parts []string, dots int, span source.Span) (string, error) {
	rel := filepath.Join(parts...)

	var roots []string
	if dots > 0 {
		dir := r.currentDir()
		for i := 1; i < dots; i++ {
			dir = filepath.Dir(dir)
		}
		roots = []string{dir}
	} else {
		roots = r.searchPath
	}

	for _, root := range roots {
		base := filepath.Join(root, rel)
		if isFile(base + FileExtension) {
			return base + FileExtension, nil
		}
		if isFile(filepath.Join(base, PackageMarker)) {
			return filepath.Join(base, PackageMarker), nil
		}
	}

	return "", errs.Newf(errs.KindImport,
		"module '%s' not found", strings.Join(parts, ".")).
		WithCode(errs.CodeNotFound).WithSpan(span)
}

// load parses and evaluates a module file once, returning its cached
// environment on every further import.
func (r *Resolver) load(path, dottedName string, span source.Span) (*ModuleVal, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindImport, "failed to resolve module path", err).
			WithCode(errs.CodeNotFound).WithSpan(span)
	}
	abs = filepath.Clean(abs)

	if state, ok := r.states[abs]; ok {
		if state.loading {
			return nil, errs.Newf(errs.KindImport,
				"cyclic import of module '%s'", dottedName).
				WithCode(errs.CodeCyclic).WithSpan(span)
		}
		return state.mod, nil
	}

	state := &moduleState{loading: true}
	r.states[abs] = state

	file, err := r.e.srcmap.Load(abs)
	if err != nil {
		delete(r.states, abs)
		return nil, errs.Wrap(errs.KindImport, "failed to read module", err).
			WithCode(errs.CodeNotFound).WithSpan(span)
	}

	mod, err := r.evalModuleFile(file, dottedName)
	if err != nil {
		delete(r.states, abs)
		return nil, err
	}

	state.loading = false
	state.mod = mod
	return mod, nil
}

// EvalEntry evaluates the entry file of a compilation as the root module.
func (r *Resolver) EvalEntry(file *source.File) (*ModuleVal, error) {
	abs := filepath.Clean(file.Path)
	state := &moduleState{loading: true}
	r.states[abs] = state

	mod, err := r.evalModuleFile(file, "__main__")
	if err != nil {
		delete(r.states, abs)
		return nil, err
	}
	state.loading = false
	state.mod = mod
	return mod, nil
}

func (r *Resolver) evalModuleFile(file *source.File, dottedName string) (*ModuleVal, error) {
	parsed, parseErrs := parseModule(file)
	if len(parseErrs) > 0 {
		return nil, joinErrors(parseErrs)
	}

	scope := r.e.newModuleScope(dottedName)

	// Host plugins registered for this module are visible to its source.
	for _, p := range r.e.plugins.PluginsFor(dottedName) {
		scope.SetBuiltin(p.Name, &PluginVal{P: p})
	}

	r.pushDir(filepath.Dir(file.Path))
	err := r.e.EvalModule(parsed, scope)
	r.popDir()
	if err != nil {
		return nil, err
	}

	// Closing the module links handlers and models to the resource
	// definitions it declared, by name.
	r.linkHandlers(scope)

	return &ModuleVal{Name: dottedName, Env: scope}, nil
}

// linkHandlers binds registered host handlers and models onto the
// resource definitions of a freshly evaluated module.
func (r *Resolver) linkHandlers(scope *Scope) {
	for _, name := range scope.Names() {
		v, _ := scope.LookupLocal(name)
		defVal, ok := v.(*ResourceDefVal)
		if !ok {
			continue
		}
		def := defVal.Def
		if def.Handler == nil {
			if binding, ok := r.e.plugins.BindingFor(def.Name); ok {
				def.Handler = binding
			} else if binding, ok := r.e.plugins.BindingFor(def.QualifiedName()); ok {
				def.Handler = binding
			}
		}
		if def.Model == "" {
			if _, ok := r.e.plugins.ModelFor(def.Name); ok {
				def.Model = def.Name
			} else if _, ok := r.e.plugins.ModelFor(def.QualifiedName()); ok {
				def.Model = def.QualifiedName()
			}
		}
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func joinErrors(list []error) error {
	if len(list) == 1 {
		return list[0]
	}
	return errors.Join(list...)
}
