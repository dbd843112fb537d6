// Package plugin is the host-extension loader: a name-keyed registry of
// plugins callable from Eiko source, handlers bound to resource types,
// and model types resources convert into when crossing into host code.
//
// Host packages register themselves at init time; the evaluator links
// registrations by name when it closes a module.
package plugin

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/eikobot/eikobot/pkg/handlers"
	"github.com/eikobot/eikobot/pkg/types"
)

// UserError is the distinguished plugin failure that surfaces as a
// user-visible compile error with the plugin's own message.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// NewUserError creates a plugin error meant for the user's eyes.
func NewUserError(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// Func is the host implementation of a plugin. Arguments arrive already
// converted per the declared parameter types.
type Func func(args []any) (any, error)

// Param declares one plugin parameter.
type Param struct {
	Name string
	// Type is the expected Eiko type; nil accepts anything.
	Type *types.Type
	// Model names a resource definition whose linked model instance is
	// passed instead of a plain value. Empty for basic parameters.
	Model string
}

// Plugin is a callable host function exposed to Eiko source.
type Plugin struct {
	// Name is the identifier the plugin is bound to in its module.
	Name string

	// Module is the dotted Eiko module path the plugin belongs to.
	Module string

	Params []Param

	// Return is the declared Eiko return type; nil for None.
	Return *types.Type

	Fn Func
}

// HandlerFactory builds a fresh handler instance per task.
type HandlerFactory func() handlers.Handler

// CRUDHandlerFactory builds a fresh CRUD handler instance per task.
type CRUDHandlerFactory func() handlers.CRUDHandler

// Registry is the process-wide table of host extensions, keyed by module
// path (plugins) and resource definition name (handlers, models).
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string][]*Plugin
	handlers map[string]HandlerFactory
	crud     map[string]CRUDHandlerFactory
	models   map[string]reflect.Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins:  make(map[string][]*Plugin),
		handlers: make(map[string]HandlerFactory),
		crud:     make(map[string]CRUDHandlerFactory),
		models:   make(map[string]reflect.Type),
	}
}

// Default is the registry host extension packages register into from
// their init functions.
var Default = NewRegistry()

// RegisterPlugin exposes a host function to Eiko source in the given
// module.
func (r *Registry) RegisterPlugin(p *Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Module] = append(r.plugins[p.Module], p)
}

// PluginsFor returns the plugins registered for a module path.
func (r *Registry) PluginsFor(module string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[module]
}

// RegisterHandler binds a plain handler factory to the resource name the
// built handler reports through its EikoResource tag.
func (r *Registry) RegisterHandler(factory HandlerFactory) {
	h := factory()
	tagged, ok := h.(handlers.Tagged)
	if !ok {
		panic("plugin: handler does not declare a resource tag")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tagged.EikoResource()] = factory
}

// RegisterCRUDHandler binds a CRUD handler factory.
func (r *Registry) RegisterCRUDHandler(factory CRUDHandlerFactory) {
	h := factory()
	tagged, ok := h.(handlers.Tagged)
	if !ok {
		panic("plugin: handler does not declare a resource tag")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crud[tagged.EikoResource()] = factory
}

// HandlerFor looks up the plain handler factory for a qualified resource
// name.
func (r *Registry) HandlerFor(resource string) (HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.handlers[resource]
	return f, ok
}

// CRUDHandlerFor looks up the CRUD handler factory for a qualified
// resource name.
func (r *Registry) CRUDHandlerFor(resource string) (CRUDHandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.crud[resource]
	return f, ok
}

// HandlerBinding is the linkage between a resource definition and its
// host handler; exactly one of Plain and CRUD is set.
type HandlerBinding struct {
	Plain HandlerFactory
	CRUD  CRUDHandlerFactory
}

// BindingFor returns the handler binding for a qualified resource name.
// A resource registers at most one handler flavour.
func (r *Registry) BindingFor(resource string) (*HandlerBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.handlers[resource]; ok {
		return &HandlerBinding{Plain: f}, true
	}
	if f, ok := r.crud[resource]; ok {
		return &HandlerBinding{CRUD: f}, true
	}
	return nil, false
}

// RegisterModel binds a model prototype (a struct or pointer to struct
// implementing Tagged) to its resource name. Resources of that name are
// converted into fresh instances of the prototype's type when passed to
// host code.
func (r *Registry) RegisterModel(proto handlers.Tagged) {
	t := reflect.TypeOf(proto)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic("plugin: model prototype must be a struct")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[proto.EikoResource()] = t
}

// ModelFor returns the registered model type for a qualified resource
// name.
func (r *Registry) ModelFor(resource string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.models[resource]
	return t, ok
}
