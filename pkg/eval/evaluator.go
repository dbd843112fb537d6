package eval

import (
	"fmt"
	"math"
	"strings"

	"github.com/eikobot/eikobot/pkg/ast"
	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/source"
	"github.com/eikobot/eikobot/pkg/types"
)

// Evaluator interprets modules statement by statement, eagerly and
// single-threaded, producing the immutable object graph the exporter
// walks.
type Evaluator struct {
	srcmap   *source.Map
	plugins  *plugin.Registry
	table    *ResourceTable
	resolver *Resolver

	// curSelf is the resource currently under construction; writes
	// through `self` are only legal while it is set.
	curSelf *ResourceVal
}

// New creates an evaluator with its own resource table.
func New(srcmap *source.Map, registry *plugin.Registry) *Evaluator {
	if registry == nil {
		registry = plugin.Default
	}
	e := &Evaluator{
		srcmap:  srcmap,
		plugins: registry,
		table:   NewResourceTable(),
	}
	e.resolver = newResolver(e)
	return e
}

// Table returns the resource table filled by evaluation.
func (e *Evaluator) Table() *ResourceTable { return e.table }

// BuiltinVal is a host builtin like isinstance.
type BuiltinVal struct {
	Name string
	Fn   func(e *Evaluator, args []Value, span source.Span) (Value, error)
}

func (v *BuiltinVal) Type() *types.Type { return types.Any }
func (v *BuiltinVal) String() string    { return "<builtin " + v.Name + ">" }

// PluginVal wraps a registered host plugin as a callable value.
type PluginVal struct {
	P *plugin.Plugin
}

func (v *PluginVal) Type() *types.Type { return types.Any }
func (v *PluginVal) String() string    { return "<plugin " + v.P.Name + ">" }

// newModuleScope creates a fresh scope with the builtin names bound.
func (e *Evaluator) newModuleScope(name string) *Scope {
	scope := NewScope(name, nil)
	scope.SetBuiltin("isinstance", &BuiltinVal{Name: "isinstance", Fn: builtinIsInstance})
	for name, typ := range builtinTypes {
		scope.SetBuiltin(name, &TypeVal{T: typ})
	}
	return scope
}

// EvalModule evaluates every statement of a parsed module in scope.
func (e *Evaluator) EvalModule(mod *ast.Module, scope *Scope) error {
	for _, stmt := range mod.Stmts {
		if err := e.evalStmt(stmt, scope); err != nil {
			return err
		}
	}
	return nil
}

// ---- statements ----

func (e *Evaluator) evalStmt(stmt ast.Stmt, scope *Scope) error {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		_, err := e.evalExpr(s.X, scope)
		return err

	case *ast.DeclStmt:
		typ, err := e.resolveTypeExpr(s.Type, scope)
		if err != nil {
			return err
		}
		return scope.Declare(s.Name, typ, s.StmtSpan)

	case *ast.AssignStmt:
		return e.evalAssign(s, scope)

	case *ast.IfStmt:
		for _, branch := range s.Branches {
			if branch.Cond != nil {
				cond, err := e.evalExpr(branch.Cond, scope)
				if err != nil {
					return err
				}
				if !Truthy(cond) {
					continue
				}
			}
			for _, inner := range branch.Body {
				if err := e.evalStmt(inner, scope); err != nil {
					return err
				}
			}
			return nil
		}
		return nil

	case *ast.ForStmt:
		return e.evalFor(s, scope)

	case *ast.ResourceStmt:
		return e.evalResourceDef(s, scope)

	case *ast.TypedefStmt:
		return e.evalTypedef(s, scope)

	case *ast.EnumStmt:
		typ := types.NewEnum(scope.Name(), s.Name, s.Members)
		return scope.Set(s.Name, &TypeVal{T: typ}, s.StmtSpan)

	case *ast.ImportStmt:
		return e.evalImport(s, scope)

	case *ast.FromImportStmt:
		return e.evalFromImport(s, scope)

	default:
		return errs.Newf(errs.KindInternal, "unhandled statement %T", stmt)
	}
}

func (e *Evaluator) evalAssign(s *ast.AssignStmt, scope *Scope) error {
	value, err := e.evalExpr(s.Value, scope)
	if err != nil {
		return err
	}

	switch target := s.Target.(type) {
	case *ast.IdentExpr:
		if s.Type != nil {
			typ, terr := e.resolveTypeExpr(s.Type, scope)
			if terr != nil {
				return terr
			}
			value, err = e.Coerce(value, typ, s.StmtSpan)
			if err != nil {
				return err
			}
		} else if declared, ok := scope.DeclaredType(target.Name); ok {
			value, err = e.Coerce(value, declared, s.StmtSpan)
			if err != nil {
				return err
			}
		}
		return scope.Set(target.Name, value, target.ExprSpan)

	case *ast.DotExpr:
		base, ok := target.Target.(*ast.IdentExpr)
		if !ok || base.Name != "self" || e.curSelf == nil {
			return errs.New(errs.KindReassign,
				"resource properties can only be assigned through 'self' inside a constructor").
				WithSpan(s.StmtSpan)
		}
		res, rerr := e.evalExpr(target.Target, scope)
		if rerr != nil {
			return rerr
		}
		resource, ok := res.(*ResourceVal)
		if !ok || resource != e.curSelf {
			return errs.New(errs.KindReassign,
				"resource properties can only be assigned through 'self' inside a constructor").
				WithSpan(s.StmtSpan)
		}
		if prop, ok := resource.def.Properties[target.Attr]; ok && prop.Promise {
			return errs.Newf(errs.KindConstructor,
				"property '%s' is a promise and is filled during deployment", target.Attr).
				WithSpan(s.StmtSpan)
		}
		return resource.set(target.Attr, value, s.StmtSpan)

	default:
		return errs.New(errs.KindSyntax, "cannot assign to this expression").
			WithSpan(s.StmtSpan)
	}
}

func (e *Evaluator) evalFor(s *ast.ForStmt, scope *Scope) error {
	iter, err := e.evalExpr(s.Iter, scope)
	if err != nil {
		return err
	}

	var items []Value
	switch container := iter.(type) {
	case *ListVal:
		items = container.Elems
	case *DictVal:
		items = container.Keys()
	default:
		return errs.Newf(errs.KindType,
			"cannot iterate a value of type %s", iter.Type()).
			WithCode(errs.CodeMismatch).WithSpan(s.Iter.Span())
	}

	for _, item := range items {
		inner := NewScope("for-"+s.Name, scope)
		inner.SetBuiltin(s.Name, item)
		for _, stmt := range s.Body {
			if err := e.evalStmt(stmt, inner); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Evaluator) evalTypedef(s *ast.TypedefStmt, scope *Scope) error {
	base, err := e.resolveTypeExpr(s.Base, scope)
	if err != nil {
		return err
	}
	typ := types.NewTypedef(scope.Name(), s.Name, base, s.Refinement)
	typ.RefinementEnv = scope
	return scope.Set(s.Name, &TypeVal{T: typ}, s.StmtSpan)
}

func (e *Evaluator) evalResourceDef(s *ast.ResourceStmt, scope *Scope) error {
	var parent *ResourceDefinition
	if s.Parent != nil {
		v, err := e.lookupTypeName(s.Parent, scope)
		if err != nil {
			return err
		}
		defVal, ok := v.(*ResourceDefVal)
		if !ok {
			return errs.Newf(errs.KindType,
				"'%s' is not a resource definition and cannot be inherited from",
				s.Parent.Name()).WithSpan(s.Parent.ExprSpan)
		}
		parent = defVal.Def
	}

	def := NewResourceDefinition(scope.Name(), s.Name, parent, s.StmtSpan)

	if s.InheritOnly && parent == nil {
		return errs.New(errs.KindSyntax,
			"a '...' body requires a parent definition").WithSpan(s.StmtSpan)
	}

	for _, p := range s.Properties {
		typ, err := e.resolveTypeExpr(p.Type, scope)
		if err != nil {
			return err
		}
		prop := &PropertySchema{
			Name:         p.Name,
			Type:         typ,
			Default:      p.Default,
			DefaultScope: scope,
			Promise:      p.Promise,
			Span:         p.Span,
		}
		if err := def.AddProperty(prop); err != nil {
			return err
		}
	}

	// Constructors are never inherited; a derived definition redeclares
	// its own.
	for _, c := range s.Constructors {
		ctor := &Constructor{
			Name:       c.Name,
			Body:       c.Body,
			Constraint: c.Constraint,
			Scope:      scope,
			Span:       c.Span,
		}
		for _, p := range c.Params {
			param := ParamSchema{Name: p.Name, Default: p.Default, Span: p.Span}
			if p.Type != nil {
				typ, err := e.resolveTypeExpr(p.Type, scope)
				if err != nil {
					return err
				}
				param.Type = typ
			}
			ctor.Params = append(ctor.Params, param)
		}
		def.Constructors = append(def.Constructors, ctor)
	}

	for _, dec := range s.Decorators {
		if err := e.applyDecorator(def, dec, scope); err != nil {
			return err
		}
	}

	return scope.Set(s.Name, &ResourceDefVal{Def: def}, s.StmtSpan)
}

func (e *Evaluator) applyDecorator(def *ResourceDefinition, dec ast.Decorator, scope *Scope) error {
	switch dec.Name {
	case "index":
		if len(dec.Args) != 1 {
			return errs.New(errs.KindSyntax, "@index takes a single list of property paths").
				WithSpan(dec.StmtSpan)
		}
		list, ok := dec.Args[0].(*ast.ListLit)
		if !ok {
			return errs.New(errs.KindSyntax, "@index takes a list of string literals").
				WithSpan(dec.StmtSpan)
		}
		keys := make([]string, 0, len(list.Elems))
		for _, elem := range list.Elems {
			lit, ok := elem.(*ast.StringLit)
			if !ok {
				return errs.New(errs.KindSyntax, "@index takes a list of string literals").
					WithSpan(elem.Span())
			}
			keys = append(keys, lit.Value)
		}
		def.IndexKeys = keys
		return nil

	default:
		// Host-supplied decorators receive the definition value.
		v, ok := scope.Lookup(dec.Name)
		if !ok {
			return errs.Newf(errs.KindName, "unknown decorator '@%s'", dec.Name).
				WithSpan(dec.StmtSpan)
		}
		pluginVal, ok := v.(*PluginVal)
		if !ok {
			return errs.Newf(errs.KindType, "'@%s' is not a decorator", dec.Name).
				WithSpan(dec.StmtSpan)
		}
		_, err := e.callPlugin(pluginVal.P, []Value{&ResourceDefVal{Def: def}}, dec.StmtSpan)
		return err
	}
}

func (e *Evaluator) evalImport(s *ast.ImportStmt, scope *Scope) error {
	leaf, err := e.resolver.Import(s.Path, 0, s.StmtSpan)
	if err != nil {
		return err
	}
	if s.Alias != "" {
		return scope.Set(s.Alias, leaf, s.StmtSpan)
	}
	bindModuleChain(scope, s.Path, leaf)
	return nil
}

// bindModuleChain binds `import a.b.c` as nested module values so dotted
// access works, merging with previously imported siblings.
func bindModuleChain(scope *Scope, path []string, leaf *ModuleVal) {
	var top *ModuleVal
	if existing, ok := scope.LookupLocal(path[0]); ok {
		if m, ok := existing.(*ModuleVal); ok {
			top = m
		}
	}
	if top == nil {
		top = &ModuleVal{Name: path[0]}
		scope.SetBuiltin(path[0], top)
	}

	current := top
	for i, part := range path[1:] {
		last := i == len(path)-2
		if last {
			current.addChild(part, leaf)
			return
		}
		next, ok := current.Child(part)
		if !ok {
			next = &ModuleVal{Name: strings.Join(path[:i+2], ".")}
			current.addChild(part, next)
		}
		current = next
	}
	if len(path) == 1 {
		// Single-segment import: the top binding is the module itself.
		top.Env = leaf.Env
		top.Name = leaf.Name
		for _, name := range leaf.SortedChildren() {
			child, _ := leaf.Child(name)
			top.addChild(name, child)
		}
	}
}

func (e *Evaluator) evalFromImport(s *ast.FromImportStmt, scope *Scope) error {
	mod, err := e.resolver.Import(s.Path, s.Dots, s.StmtSpan)
	if err != nil {
		return err
	}
	for _, name := range s.Names {
		bind := name.Alias
		if bind == "" {
			bind = name.Name
		}
		if mod.Env != nil {
			if v, ok := mod.Env.LookupLocal(name.Name); ok {
				if err := scope.Set(bind, v, name.Span); err != nil {
					return err
				}
				continue
			}
		}
		// The imported name may itself be a submodule.
		sub, serr := e.resolver.Import(append(append([]string{}, s.Path...), name.Name), s.Dots, name.Span)
		if serr != nil {
			return errs.Newf(errs.KindImport,
				"module '%s' has no attribute '%s'", strings.Join(s.Path, "."), name.Name).
				WithCode(errs.CodeNotFound).WithSpan(name.Span)
		}
		if err := scope.Set(bind, sub, name.Span); err != nil {
			return err
		}
	}
	return nil
}

// ---- type expressions ----

var builtinTypes = map[string]*types.Type{
	"bool":         types.Bool,
	"int":          types.Int,
	"float":        types.Float,
	"str":          types.Str,
	"Path":         types.Path,
	"ProtectedStr": types.ProtectedStr,
}

func (e *Evaluator) resolveTypeExpr(t ast.TypeExpr, scope *Scope) (*types.Type, error) {
	switch typ := t.(type) {
	case *ast.TypeName:
		if len(typ.Parts) == 1 {
			if builtin, ok := builtinTypes[typ.Parts[0]]; ok {
				return builtin, nil
			}
		}
		v, err := e.lookupTypeName(typ, scope)
		if err != nil {
			return nil, err
		}
		switch val := v.(type) {
		case *TypeVal:
			return val.T, nil
		case *ResourceDefVal:
			return val.Def.Type(), nil
		default:
			return nil, errs.Newf(errs.KindType, "'%s' is not a type", typ.Name()).
				WithCode(errs.CodeMismatch).WithSpan(typ.ExprSpan)
		}

	case *ast.TypeSubscript:
		return e.resolveTypeSubscript(typ, scope)

	default:
		return nil, errs.Newf(errs.KindInternal, "unhandled type expression %T", t)
	}
}

func (e *Evaluator) resolveTypeSubscript(t *ast.TypeSubscript, scope *Scope) (*types.Type, error) {
	params := make([]*types.Type, 0, len(t.Params))
	for _, p := range t.Params {
		resolved, err := e.resolveTypeExpr(p, scope)
		if err != nil {
			return nil, err
		}
		params = append(params, resolved)
	}

	switch t.Base.Name() {
	case "list":
		if len(params) != 1 {
			return nil, errs.New(errs.KindType, "list takes exactly one type parameter").
				WithCode(errs.CodeMismatch).WithSpan(t.ExprSpan)
		}
		return types.NewList(params[0]), nil

	case "dict":
		if len(params) != 2 {
			return nil, errs.New(errs.KindType, "dict takes exactly two type parameters").
				WithCode(errs.CodeMismatch).WithSpan(t.ExprSpan)
		}
		if !types.ValidDictKey(params[0]) {
			return nil, errs.Newf(errs.KindType,
				"type %s cannot be a dict key; keys must be bool, int, str or enum", params[0]).
				WithCode(errs.CodeMismatch).WithSpan(t.ExprSpan)
		}
		return types.NewDict(params[0], params[1]), nil

	case "Optional":
		if len(params) != 1 {
			return nil, errs.New(errs.KindType, "Optional takes exactly one type parameter").
				WithCode(errs.CodeMismatch).WithSpan(t.ExprSpan)
		}
		return types.NewOptional(params[0]), nil

	case "Union":
		if len(params) == 0 {
			return nil, errs.New(errs.KindType, "Union takes at least one type parameter").
				WithCode(errs.CodeMismatch).WithSpan(t.ExprSpan)
		}
		return types.NewUnion(params...), nil

	default:
		return nil, errs.Newf(errs.KindType,
			"'%s' is not a generic type; only list, dict, Optional and Union take parameters",
			t.Base.Name()).WithCode(errs.CodeMismatch).WithSpan(t.ExprSpan)
	}
}

// lookupTypeName resolves a possibly dotted name through module values.
func (e *Evaluator) lookupTypeName(t *ast.TypeName, scope *Scope) (Value, error) {
	v, ok := scope.Lookup(t.Parts[0])
	if !ok {
		return nil, errs.Newf(errs.KindName, "unknown name '%s'", t.Parts[0]).
			WithSpan(t.ExprSpan)
	}
	for _, part := range t.Parts[1:] {
		mod, ok := v.(*ModuleVal)
		if !ok {
			return nil, errs.Newf(errs.KindName,
				"'%s' has no attribute '%s'", v.String(), part).WithSpan(t.ExprSpan)
		}
		v, ok = moduleAttr(mod, part)
		if !ok {
			return nil, errs.Newf(errs.KindName,
				"module '%s' has no attribute '%s'", mod.Name, part).WithSpan(t.ExprSpan)
		}
	}
	return v, nil
}

func moduleAttr(mod *ModuleVal, name string) (Value, bool) {
	if mod.Env != nil {
		if v, ok := mod.Env.LookupLocal(name); ok {
			return v, true
		}
	}
	if child, ok := mod.Child(name); ok {
		return child, true
	}
	return nil, false
}

// ---- expressions ----

func (e *Evaluator) evalExpr(expr ast.Expr, scope *Scope) (Value, error) {
	switch x := expr.(type) {
	case *ast.BoolLit:
		return NewBool(x.Value), nil
	case *ast.IntLit:
		return NewInt(x.Value), nil
	case *ast.FloatLit:
		return NewFloat(x.Value), nil
	case *ast.StringLit:
		return NewStr(x.Value), nil
	case *ast.NoneLit:
		return None, nil

	case *ast.IdentExpr:
		v, ok := scope.Lookup(x.Name)
		if !ok {
			return nil, errs.Newf(errs.KindName,
				"'%s' was accessed before being assigned a value", x.Name).
				WithSpan(x.ExprSpan)
		}
		return v, nil

	case *ast.UnaryExpr:
		return e.evalUnary(x, scope)

	case *ast.BinaryExpr:
		return e.evalBinary(x, scope)

	case *ast.CompareExpr:
		return e.evalCompare(x, scope)

	case *ast.IndexExpr:
		return e.evalIndex(x, scope)

	case *ast.DotExpr:
		return e.evalDot(x, scope)

	case *ast.CallExpr:
		return e.evalCall(x, scope)

	case *ast.ListLit:
		elems := make([]Value, 0, len(x.Elems))
		for _, elem := range x.Elems {
			v, err := e.evalExpr(elem, scope)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return NewList(elems), nil

	case *ast.DictLit:
		dict := NewDict()
		for _, entry := range x.Entries {
			key, err := e.evalExpr(entry.Key, scope)
			if err != nil {
				return nil, err
			}
			value, err := e.evalExpr(entry.Value, scope)
			if err != nil {
				return nil, err
			}
			if err := dict.Set(key, value); err != nil {
				return nil, errs.Wrap(errs.KindType, "invalid dict entry", err).
					WithCode(errs.CodeMismatch).WithSpan(entry.Key.Span())
			}
		}
		return dict, nil

	case *ast.FStringExpr:
		var b strings.Builder
		for _, part := range x.Parts {
			if part.Expr == nil {
				b.WriteString(part.Lit)
				continue
			}
			v, err := e.evalExpr(part.Expr, scope)
			if err != nil {
				return nil, err
			}
			b.WriteString(v.String())
		}
		return NewStr(b.String()), nil

	default:
		return nil, errs.Newf(errs.KindInternal, "unhandled expression %T", expr)
	}
}

func (e *Evaluator) evalUnary(x *ast.UnaryExpr, scope *Scope) (Value, error) {
	operand, err := e.evalExpr(x.Operand, scope)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "-":
		switch v := operand.(type) {
		case *IntVal:
			return NewInt(-v.V), nil
		case *FloatVal:
			return NewFloat(-v.V), nil
		}
		return nil, errs.Newf(errs.KindType,
			"unary '-' is not defined for type %s", operand.Type()).
			WithCode(errs.CodeMismatch).WithSpan(x.ExprSpan)
	case "not":
		return NewBool(!Truthy(operand)), nil
	}
	return nil, errs.Newf(errs.KindInternal, "unhandled unary operator %q", x.Op)
}

func (e *Evaluator) evalBinary(x *ast.BinaryExpr, scope *Scope) (Value, error) {
	// Boolean operators short-circuit and yield the deciding operand.
	if x.Op == "and" || x.Op == "or" {
		lhs, err := e.evalExpr(x.Left, scope)
		if err != nil {
			return nil, err
		}
		if x.Op == "and" && !Truthy(lhs) {
			return lhs, nil
		}
		if x.Op == "or" && Truthy(lhs) {
			return lhs, nil
		}
		return e.evalExpr(x.Right, scope)
	}

	lhs, err := e.evalExpr(x.Left, scope)
	if err != nil {
		return nil, err
	}
	rhs, err := e.evalExpr(x.Right, scope)
	if err != nil {
		return nil, err
	}
	return e.applyBinary(x.Op, lhs, rhs, x.ExprSpan)
}

func (e *Evaluator) applyBinary(op string, lhs, rhs Value, span source.Span) (Value, error) {
	// String operations.
	if ls, ok := lhs.(*StrVal); ok {
		switch op {
		case "+":
			if rs, ok := rhs.(*StrVal); ok {
				return NewStr(ls.V + rs.V), nil
			}
		case "*":
			if ri, ok := rhs.(*IntVal); ok && ri.V >= 0 {
				return NewStr(strings.Repeat(ls.V, int(ri.V))), nil
			}
		}
		return nil, binOpError(op, lhs, rhs, span)
	}

	// Path concatenation with str appends a path component.
	if lp, ok := lhs.(*PathVal); ok && op == "/" {
		if rs, ok := rhs.(*StrVal); ok {
			return NewPath(strings.TrimSuffix(lp.V, "/") + "/" + rs.V), nil
		}
	}

	// List concatenation.
	if ll, ok := lhs.(*ListVal); ok && op == "+" {
		if rl, ok := rhs.(*ListVal); ok {
			elems := make([]Value, 0, len(ll.Elems)+len(rl.Elems))
			elems = append(elems, ll.Elems...)
			elems = append(elems, rl.Elems...)
			return NewList(elems), nil
		}
	}

	// Numeric operations, widening int to float when either side is float.
	li, lInt := lhs.(*IntVal)
	lf, lFloat := lhs.(*FloatVal)
	ri, rInt := rhs.(*IntVal)
	rf, rFloat := rhs.(*FloatVal)

	if lInt && rInt {
		switch op {
		case "+":
			return NewInt(li.V + ri.V), nil
		case "-":
			return NewInt(li.V - ri.V), nil
		case "*":
			return NewInt(li.V * ri.V), nil
		case "/":
			if ri.V == 0 {
				return nil, errs.New(errs.KindType, "division by zero").WithSpan(span)
			}
			// Integer division promotes to float when inexact.
			if li.V%ri.V == 0 {
				return NewInt(li.V / ri.V), nil
			}
			return NewFloat(float64(li.V) / float64(ri.V)), nil
		case "//":
			if ri.V == 0 {
				return nil, errs.New(errs.KindType, "division by zero").WithSpan(span)
			}
			return NewInt(int64(math.Floor(float64(li.V) / float64(ri.V)))), nil
		case "%":
			if ri.V == 0 {
				return nil, errs.New(errs.KindType, "division by zero").WithSpan(span)
			}
			return NewInt(li.V % ri.V), nil
		case "**":
			return NewInt(int64(math.Pow(float64(li.V), float64(ri.V)))), nil
		}
		return nil, binOpError(op, lhs, rhs, span)
	}

	if (lInt || lFloat) && (rInt || rFloat) {
		a, b := 0.0, 0.0
		if lFloat {
			a = lf.V
		} else {
			a = float64(li.V)
		}
		if rFloat {
			b = rf.V
		} else {
			b = float64(ri.V)
		}
		switch op {
		case "+":
			return NewFloat(a + b), nil
		case "-":
			return NewFloat(a - b), nil
		case "*":
			return NewFloat(a * b), nil
		case "/":
			if b == 0 {
				return nil, errs.New(errs.KindType, "division by zero").WithSpan(span)
			}
			return NewFloat(a / b), nil
		case "//":
			if b == 0 {
				return nil, errs.New(errs.KindType, "division by zero").WithSpan(span)
			}
			return NewFloat(math.Floor(a / b)), nil
		case "%":
			if b == 0 {
				return nil, errs.New(errs.KindType, "division by zero").WithSpan(span)
			}
			return NewFloat(math.Mod(a, b)), nil
		case "**":
			return NewFloat(math.Pow(a, b)), nil
		}
	}

	return nil, binOpError(op, lhs, rhs, span)
}

func binOpError(op string, lhs, rhs Value, span source.Span) error {
	return errs.Newf(errs.KindType,
		"no overload of operator '%s' for types %s and %s", op, lhs.Type(), rhs.Type()).
		WithCode(errs.CodeMismatch).WithSpan(span)
}

func (e *Evaluator) evalCompare(x *ast.CompareExpr, scope *Scope) (Value, error) {
	lhs, err := e.evalExpr(x.Left, scope)
	if err != nil {
		return nil, err
	}
	rhs, err := e.evalExpr(x.Right, scope)
	if err != nil {
		return nil, err
	}

	switch x.Op {
	case "==":
		return NewBool(Equals(lhs, rhs)), nil
	case "!=":
		return NewBool(!Equals(lhs, rhs)), nil
	case "in":
		return e.evalMembership(lhs, rhs, x.ExprSpan)
	}

	// Ordering comparisons over numbers and strings.
	if cmp, ok := compareOrder(lhs, rhs); ok {
		switch x.Op {
		case "<":
			return NewBool(cmp < 0), nil
		case ">":
			return NewBool(cmp > 0), nil
		case "<=":
			return NewBool(cmp <= 0), nil
		case ">=":
			return NewBool(cmp >= 0), nil
		}
	}
	return nil, errs.Newf(errs.KindType,
		"cannot compare values of types %s and %s", lhs.Type(), rhs.Type()).
		WithCode(errs.CodeMismatch).WithSpan(x.ExprSpan)
}

func compareOrder(a, b Value) (int, bool) {
	num := func(v Value) (float64, bool) {
		switch val := v.(type) {
		case *IntVal:
			return float64(val.V), true
		case *FloatVal:
			return val.V, true
		}
		return 0, false
	}
	if an, ok := num(a); ok {
		if bn, ok := num(b); ok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	as, aok := a.(*StrVal)
	bs, bok := b.(*StrVal)
	if aok && bok {
		return strings.Compare(as.V, bs.V), true
	}
	return 0, false
}

// evalMembership implements `x in container` as an equality scan.
func (e *Evaluator) evalMembership(item, container Value, span source.Span) (Value, error) {
	switch c := container.(type) {
	case *ListVal:
		for _, elem := range c.Elems {
			if Equals(item, elem) {
				return NewBool(true), nil
			}
		}
		return NewBool(false), nil
	case *DictVal:
		for _, k := range c.Keys() {
			if Equals(item, k) {
				return NewBool(true), nil
			}
		}
		return NewBool(false), nil
	case *StrVal:
		if s, ok := item.(*StrVal); ok {
			return NewBool(strings.Contains(c.V, s.V)), nil
		}
	}
	return nil, errs.Newf(errs.KindType,
		"'in' is not defined for container type %s", container.Type()).
		WithCode(errs.CodeMismatch).WithSpan(span)
}

func (e *Evaluator) evalIndex(x *ast.IndexExpr, scope *Scope) (Value, error) {
	target, err := e.evalExpr(x.Target, scope)
	if err != nil {
		return nil, err
	}
	index, err := e.evalExpr(x.Index, scope)
	if err != nil {
		return nil, err
	}

	switch c := target.(type) {
	case *ListVal:
		i, ok := index.(*IntVal)
		if !ok {
			return nil, errs.Newf(errs.KindType,
				"list indices must be int, not %s", index.Type()).
				WithCode(errs.CodeMismatch).WithSpan(x.Index.Span())
		}
		pos := i.V
		if pos < 0 {
			pos += int64(len(c.Elems))
		}
		if pos < 0 || pos >= int64(len(c.Elems)) {
			return nil, errs.Newf(errs.KindType,
				"list index %d out of range", i.V).WithSpan(x.ExprSpan)
		}
		return c.Elems[pos], nil

	case *DictVal:
		v, ok := c.Get(index)
		if !ok {
			return nil, errs.Newf(errs.KindName,
				"dict has no key %s", index).WithSpan(x.ExprSpan)
		}
		return v, nil
	}
	return nil, errs.Newf(errs.KindType,
		"a value of type %s cannot be subscripted", target.Type()).
		WithCode(errs.CodeMismatch).WithSpan(x.ExprSpan)
}

func (e *Evaluator) evalDot(x *ast.DotExpr, scope *Scope) (Value, error) {
	target, err := e.evalExpr(x.Target, scope)
	if err != nil {
		return nil, err
	}

	switch t := target.(type) {
	case *ModuleVal:
		if v, ok := moduleAttr(t, x.Attr); ok {
			return v, nil
		}
		return nil, errs.Newf(errs.KindName,
			"module '%s' has no attribute '%s'", t.Name, x.Attr).
			WithSpan(x.AttrSpan)

	case *ResourceVal:
		if promise, ok := t.promises[x.Attr]; ok {
			return promise, nil
		}
		if v, ok := t.Get(x.Attr); ok {
			return v, nil
		}
		return nil, errs.Newf(errs.KindName,
			"resource '%s' has no property '%s'", t.def.Name, x.Attr).
			WithSpan(x.AttrSpan)

	case *TypeVal:
		if t.T.Kind == types.KindEnum {
			for _, member := range t.T.EnumMembers {
				if member == x.Attr {
					return &EnumVal{Member: member, typ: t.T}, nil
				}
			}
			return nil, errs.Newf(errs.KindName,
				"enum '%s' has no member '%s'", t.T.Name, x.Attr).
				WithSpan(x.AttrSpan)
		}
	}
	return nil, errs.Newf(errs.KindType,
		"a value of type %s has no attributes", target.Type()).
		WithCode(errs.CodeMismatch).WithSpan(x.AttrSpan)
}

func (e *Evaluator) evalCall(x *ast.CallExpr, scope *Scope) (Value, error) {
	// Container methods are resolved before general dot lookup.
	if dot, ok := x.Fn.(*ast.DotExpr); ok && dot.Attr == "append" {
		target, err := e.evalExpr(dot.Target, scope)
		if err != nil {
			return nil, err
		}
		if list, ok := target.(*ListVal); ok {
			if len(x.Args) != 1 || x.Args[0].Name != "" {
				return nil, errs.New(errs.KindType, "append takes a single positional argument").
					WithCode(errs.CodeMismatch).WithSpan(x.ExprSpan)
			}
			elem, err := e.evalExpr(x.Args[0].Value, scope)
			if err != nil {
				return nil, err
			}
			if err := list.Append(elem); err != nil {
				return nil, errs.Wrap(errs.KindReassign, "cannot modify list", err).
					WithSpan(x.ExprSpan)
			}
			return None, nil
		}
	}

	callee, err := e.evalExpr(x.Fn, scope)
	if err != nil {
		return nil, err
	}

	switch fn := callee.(type) {
	case *ResourceDefVal:
		return e.constructResource(fn.Def, x.Args, scope, x.ExprSpan)

	case *PluginVal:
		args, err := e.evalArgs(x.Args, scope)
		if err != nil {
			return nil, err
		}
		return e.callPlugin(fn.P, args, x.ExprSpan)

	case *BuiltinVal:
		args, err := e.evalArgs(x.Args, scope)
		if err != nil {
			return nil, err
		}
		return fn.Fn(e, args, x.ExprSpan)

	case *TypeVal:
		// Calling a type coerces the argument: Port(8080).
		if len(x.Args) != 1 || x.Args[0].Name != "" {
			return nil, errs.Newf(errs.KindType,
				"'%s' takes a single positional argument", fn.T).
				WithCode(errs.CodeMismatch).WithSpan(x.ExprSpan)
		}
		arg, err := e.evalExpr(x.Args[0].Value, scope)
		if err != nil {
			return nil, err
		}
		return e.Coerce(arg, fn.T, x.ExprSpan)
	}

	return nil, errs.Newf(errs.KindType, "a value of type %s is not callable", callee.Type()).
		WithCode(errs.CodeMismatch).WithSpan(x.ExprSpan)
}

func (e *Evaluator) evalArgs(args []ast.Arg, scope *Scope) ([]Value, error) {
	out := make([]Value, 0, len(args))
	for _, arg := range args {
		if arg.Name != "" {
			return nil, errs.New(errs.KindType, "this callable takes no keyword arguments").
				WithCode(errs.CodeMismatch).WithSpan(arg.Span)
		}
		v, err := e.evalExpr(arg.Value, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// builtinIsInstance implements isinstance(value, T). A typedef counts as
// a subtype of its base; a base value answers true for a typedef iff the
// refinement holds.
func builtinIsInstance(e *Evaluator, args []Value, span source.Span) (Value, error) {
	if len(args) != 2 {
		return nil, errs.New(errs.KindType, "isinstance takes exactly two arguments").
			WithCode(errs.CodeMismatch).WithSpan(span)
	}

	var target *types.Type
	switch t := args[1].(type) {
	case *TypeVal:
		target = t.T
	case *ResourceDefVal:
		target = t.Def.Type()
	default:
		return nil, errs.New(errs.KindType, "the second argument of isinstance must be a type").
			WithCode(errs.CodeMismatch).WithSpan(span)
	}

	v := args[0]
	if res, ok := v.(*ResourceVal); ok && target.Kind == types.KindResource {
		for def := res.def; def != nil; def = def.Parent {
			if types.Equal(def.Type(), target) {
				return NewBool(true), nil
			}
		}
		return NewBool(false), nil
	}

	if types.IsSubtype(v.Type(), target) {
		return NewBool(true), nil
	}
	if target.Kind == types.KindTypedef {
		if _, err := e.Coerce(v, target, span); err == nil {
			return NewBool(true), nil
		}
	}
	return NewBool(false), nil
}

// fmtArgCount renders an argument count for dispatch errors.
func fmtArgCount(n int) string {
	if n == 1 {
		return "1 argument"
	}
	return fmt.Sprintf("%d arguments", n)
}
