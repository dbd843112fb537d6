package eval

import (
	"strings"
	"sync"

	"github.com/eikobot/eikobot/pkg/ast"
	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/source"
	"github.com/eikobot/eikobot/pkg/types"
)

// PropertySchema describes one property of a resource definition.
type PropertySchema struct {
	Name    string
	Type    *types.Type
	Default ast.Expr
	// DefaultScope is the scope the default expression was written in.
	DefaultScope *Scope
	Promise      bool
	Span         source.Span
}

// Constructor is one overload of a resource definition.
type Constructor struct {
	Name       string
	Params     []ParamSchema
	Body       []ast.Stmt
	Constraint ast.Expr
	// Scope is the lexical scope the constructor was declared in.
	Scope *Scope
	Span  source.Span
}

// ParamSchema is one declared constructor parameter (excluding self).
type ParamSchema struct {
	Name    string
	Type    *types.Type
	Default ast.Expr
	Span    source.Span
}

// ResourceDefinition is the schema for resources of one type: ordered
// property schemas, constructor overloads, inheritance parent and index
// key paths.
type ResourceDefinition struct {
	Name   string
	Module string

	// PropNames preserves declaration order of Properties.
	PropNames  []string
	Properties map[string]*PropertySchema

	Constructors []*Constructor

	Parent *ResourceDefinition

	// IndexKeys holds the @index decorator paths; empty means the first
	// property is the index.
	IndexKeys []string

	// Handler is the host handler binding linked by name when the
	// defining module closes; nil when the resource has no handler.
	Handler *plugin.HandlerBinding

	// Model is the linked host model type name registered for this
	// resource, empty when absent.
	Model string

	typ  *types.Type
	Span source.Span
}

// NewResourceDefinition creates an empty definition. A derived definition
// starts from a copy of the parent's property schema.
func NewResourceDefinition(module, name string, parent *ResourceDefinition, span source.Span) *ResourceDefinition {
	def := &ResourceDefinition{
		Name:       name,
		Module:     module,
		Properties: make(map[string]*PropertySchema),
		Parent:     parent,
		Span:       span,
	}
	if parent != nil {
		def.PropNames = append(def.PropNames, parent.PropNames...)
		for name, prop := range parent.Properties {
			copied := *prop
			def.Properties[name] = &copied
		}
		def.IndexKeys = append(def.IndexKeys, parent.IndexKeys...)
	}
	def.typ = types.NewResource(module, name)
	return def
}

// Type returns the instance type of this definition.
func (d *ResourceDefinition) Type() *types.Type { return d.typ }

// QualifiedName returns module.Name.
func (d *ResourceDefinition) QualifiedName() string {
	if d.Module == "" {
		return d.Name
	}
	return d.Module + "." + d.Name
}

// AddProperty declares a property; redeclaring is only legal when
// tightening the type to a subtype in a derived definition.
func (d *ResourceDefinition) AddProperty(prop *PropertySchema) error {
	if existing, ok := d.Properties[prop.Name]; ok {
		if !types.IsSubtype(prop.Type, existing.Type) {
			return errs.Newf(errs.KindType,
				"property '%s' of '%s' can only be redeclared with a subtype of %s",
				prop.Name, d.Name, existing.Type).
				WithCode(errs.CodeMismatch).WithSpan(prop.Span)
		}
		d.Properties[prop.Name] = prop
		return nil
	}
	d.PropNames = append(d.PropNames, prop.Name)
	d.Properties[prop.Name] = prop
	return nil
}

// IsSubDefinitionOf reports whether d inherits from ancestor.
func (d *ResourceDefinition) IsSubDefinitionOf(ancestor *ResourceDefinition) bool {
	for def := d; def != nil; def = def.Parent {
		if def.Module == ancestor.Module && def.Name == ancestor.Name {
			return true
		}
	}
	return false
}

// ResourceDefVal makes a definition storable in a scope.
type ResourceDefVal struct {
	Def *ResourceDefinition
}

func (v *ResourceDefVal) Type() *types.Type { return v.Def.typ }
func (v *ResourceDefVal) String() string    { return "<resource " + v.Def.QualifiedName() + ">" }

// ResourceVal is an instance of a resource definition: an immutable
// record of typed properties plus its computed index.
type ResourceVal struct {
	def       *ResourceDefinition
	propNames []string
	props     map[string]Value
	promises  map[string]*PromiseVal
	index     string
	closed    bool
	span      source.Span

	// model caches the linked host model instance so repeated plugin
	// calls observe the same identity.
	model   any
	modelMu sync.Mutex
}

func newResource(def *ResourceDefinition, span source.Span) *ResourceVal {
	return &ResourceVal{
		def:      def,
		props:    make(map[string]Value),
		promises: make(map[string]*PromiseVal),
		span:     span,
	}
}

// Type returns the resource's instance type.
func (r *ResourceVal) Type() *types.Type { return r.def.typ }

// Definition returns the defining schema.
func (r *ResourceVal) Definition() *ResourceDefinition { return r.def }

// Index returns the computed index string.
func (r *ResourceVal) Index() string { return r.index }

// ID returns the globally unique (definition, index) identity.
func (r *ResourceVal) ID() string { return r.index }

// Span returns where the resource was constructed.
func (r *ResourceVal) Span() source.Span { return r.span }

// String renders the resource as its id.
func (r *ResourceVal) String() string { return "<" + r.def.Name + " " + r.index + ">" }

// PropNames returns property names in declaration order.
func (r *ResourceVal) PropNames() []string { return r.propNames }

// Get returns a property value.
func (r *ResourceVal) Get(name string) (Value, bool) {
	v, ok := r.props[name]
	return v, ok
}

// Promises returns the resource's promise slots keyed by property.
func (r *ResourceVal) Promises() map[string]*PromiseVal { return r.promises }

// set writes a property during construction. Writes after the resource
// closed construction, and rewrites of an assigned property, fail.
func (r *ResourceVal) set(name string, value Value, span source.Span) error {
	if r.closed {
		return errs.Newf(errs.KindReassign,
			"resource '%s' is closed, its properties cannot be changed", r.def.Name).
			WithSpan(span)
	}
	if _, ok := r.props[name]; ok {
		return errs.Newf(errs.KindReassign,
			"property '%s' of '%s' is already assigned", name, r.def.Name).
			WithSpan(span)
	}
	if _, ok := r.def.Properties[name]; !ok {
		return errs.Newf(errs.KindName,
			"resource '%s' has no property '%s'", r.def.Name, name).
			WithSpan(span)
	}
	r.props[name] = value
	r.propNames = append(r.propNames, name)
	return nil
}

// close freezes the resource and everything it holds.
func (r *ResourceVal) close() {
	r.closed = true
	for _, v := range r.props {
		freezeValue(v)
	}
}

// Model returns the cached linked model instance, if one was built.
func (r *ResourceVal) Model() any {
	r.modelMu.Lock()
	defer r.modelMu.Unlock()
	return r.model
}

// SetModel caches the linked model instance.
func (r *ResourceVal) SetModel(m any) {
	r.modelMu.Lock()
	defer r.modelMu.Unlock()
	r.model = m
}

// ResolvePromise fills the named promise slot with a host value. Only
// the task deploying this resource may call it, exactly once per slot.
func (r *ResourceVal) ResolvePromise(name string, hostValue any) error {
	promise, ok := r.promises[name]
	if !ok {
		return errs.Newf(errs.KindDeploy,
			"resource '%s' has no promise property '%s'", r.def.Name, name).
			WithCode(errs.CodePromiseUnresolved)
	}
	value := fromGo(hostValue)
	if !types.IsSubtype(value.Type(), promise.Type()) &&
		promise.Type().Kind != types.KindTypedef {
		return errs.Newf(errs.KindDeploy,
			"promise '%s.%s' expects %s, got %s",
			r.def.Name, name, promise.Type(), value.Type()).
			WithCode(errs.CodeMismatch)
	}
	return promise.Resolve(value)
}

// ExternalPromises lists promise values held in properties that belong to
// a different resource; these induce task dependencies.
func (r *ResourceVal) ExternalPromises() []*PromiseVal {
	var out []*PromiseVal
	var walk func(v Value)
	walk = func(v Value) {
		switch val := v.(type) {
		case *PromiseVal:
			if val.owner != r {
				out = append(out, val)
			}
		case *ListVal:
			for _, e := range val.Elems {
				walk(e)
			}
		case *DictVal:
			for _, k := range val.keys {
				walk(val.entries[dictKey(k)])
			}
		}
	}
	for _, name := range r.propNames {
		walk(r.props[name])
	}
	return out
}

// resourceKey is the global identity of a resource instance.
type resourceKey struct {
	def   string
	index string
}

// ResourceTable is the process-local registry of every resource built
// during a compilation, keyed by (definition name, index).
type ResourceTable struct {
	mu      sync.Mutex
	byKey   map[resourceKey]*ResourceVal
	ordered []*ResourceVal
}

// NewResourceTable creates an empty table.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{byKey: make(map[resourceKey]*ResourceVal)}
}

// Register adds a resource; a duplicate (definition, index) is an error.
func (t *ResourceTable) Register(r *ResourceVal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := resourceKey{def: r.def.QualifiedName(), index: r.index}
	if existing, ok := t.byKey[key]; ok {
		return errs.Newf(errs.KindIndex,
			"a resource '%s' with index '%s' already exists", r.def.Name, r.index).
			WithCode(errs.CodeDuplicate).
			WithSpan(r.span).WithSpan(existing.span)
	}
	t.byKey[key] = r
	t.ordered = append(t.ordered, r)
	return nil
}

// Get finds a registered resource.
func (t *ResourceTable) Get(def, index string) (*ResourceVal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byKey[resourceKey{def: def, index: index}]
	return r, ok
}

// All returns every registered resource in registration order.
func (t *ResourceTable) All() []*ResourceVal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ResourceVal, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Len returns the number of registered resources.
func (t *ResourceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ordered)
}

// indexString renders a property value for use in an index.
func indexString(v Value) (string, bool) {
	switch val := v.(type) {
	case *StrVal:
		return val.V, true
	case *IntVal:
		return val.String(), true
	case *PathVal:
		return val.V, true
	case *EnumVal:
		return val.Member, true
	default:
		return "", false
	}
}

// computeIndex derives the resource's stable index string. With
// @index([p1, p2]) key paths are concatenated with '-' behind the
// definition name; without a decorator the first property serves iff its
// type is indexable.
func (r *ResourceVal) computeIndex() error {
	if len(r.def.IndexKeys) > 0 {
		parts := []string{r.def.Name}
		for _, path := range r.def.IndexKeys {
			v, err := r.resolveIndexPath(path)
			if err != nil {
				return err
			}
			s, ok := indexString(v)
			if !ok {
				return errs.Newf(errs.KindIndex,
					"index key '%s' of '%s' has non-indexable type %s",
					path, r.def.Name, v.Type()).
					WithCode(errs.CodeUnindexable).WithSpan(r.span)
			}
			parts = append(parts, s)
		}
		r.index = strings.Join(parts, "-")
		return nil
	}

	if len(r.def.PropNames) == 0 {
		return errs.Newf(errs.KindIndex,
			"resource '%s' has no properties to derive an index from", r.def.Name).
			WithCode(errs.CodeUnindexable).WithSpan(r.span)
	}
	first := r.def.PropNames[0]
	v := r.props[first]
	s, ok := indexString(v)
	if !ok {
		return errs.Newf(errs.KindIndex,
			"first property '%s' of '%s' has type %s, which cannot index a resource; "+
				"use @index to pick index properties",
			first, r.def.Name, v.Type()).
			WithCode(errs.CodeUnindexable).WithSpan(r.span)
	}
	r.index = r.def.Name + "-" + s
	return nil
}

// resolveIndexPath follows a dotted property path through nested
// resources.
func (r *ResourceVal) resolveIndexPath(path string) (Value, error) {
	parts := strings.Split(path, ".")
	var current Value = r
	for _, part := range parts {
		res, ok := current.(*ResourceVal)
		if !ok {
			return nil, errs.Newf(errs.KindIndex,
				"index path '%s' of '%s' traverses a non-resource value", path, r.def.Name).
				WithCode(errs.CodeUnindexable).WithSpan(r.span)
		}
		v, ok := res.props[part]
		if !ok {
			return nil, errs.Newf(errs.KindIndex,
				"index path '%s' of '%s' names unknown property '%s'", path, r.def.Name, part).
				WithCode(errs.CodeUnindexable).WithSpan(r.span)
		}
		current = v
	}
	return current, nil
}
