package eval

import (
	"github.com/eikobot/eikobot/pkg/ast"
	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/source"
)

// evaluatedArg is a call argument with its value already computed.
type evaluatedArg struct {
	name  string
	value Value
	span  source.Span
}

// constructResource builds a resource instance: overload selection,
// constructor execution, defaulting, coercion, index computation and
// registration.
func (e *Evaluator) constructResource(
	def *ResourceDefinition,
	rawArgs []ast.Arg,
	scope *Scope,
	span source.Span,
) (Value, error) {
	args := make([]evaluatedArg, 0, len(rawArgs))
	for _, raw := range rawArgs {
		v, err := e.evalExpr(raw.Value, scope)
		if err != nil {
			return nil, err
		}
		args = append(args, evaluatedArg{name: raw.Name, value: v, span: raw.Span})
	}

	if len(def.Constructors) == 0 {
		return e.constructDefault(def, args, span)
	}

	ctor, bound, err := e.dispatch(def, args, scope, span)
	if err != nil {
		return nil, err
	}
	return e.runConstructor(def, ctor, bound, span)
}

// constructDefault builds a resource through the implicit constructor,
// whose parameters are the properties in declaration order.
func (e *Evaluator) constructDefault(
	def *ResourceDefinition,
	args []evaluatedArg,
	span source.Span,
) (Value, error) {
	resource := newResource(def, span)
	e.makePromises(resource)

	assigned := make(map[string]Value)
	positional := 0
	for _, arg := range args {
		if arg.name == "" {
			for positional < len(def.PropNames) && def.Properties[def.PropNames[positional]].Promise {
				positional++
			}
			if positional >= len(def.PropNames) {
				return nil, errs.Newf(errs.KindConstructor,
					"'%s' takes at most %s", def.Name, fmtArgCount(len(def.PropNames))).
					WithSpan(arg.span)
			}
			assigned[def.PropNames[positional]] = arg.value
			positional++
			continue
		}
		prop, ok := def.Properties[arg.name]
		if !ok {
			return nil, errs.Newf(errs.KindConstructor,
				"'%s' has no property '%s'", def.Name, arg.name).WithSpan(arg.span)
		}
		if prop.Promise {
			return nil, errs.Newf(errs.KindConstructor,
				"property '%s' is a promise and is filled during deployment", arg.name).
				WithSpan(arg.span)
		}
		if _, dup := assigned[arg.name]; dup {
			return nil, errs.Newf(errs.KindConstructor,
				"property '%s' passed more than once", arg.name).WithSpan(arg.span)
		}
		assigned[arg.name] = arg.value
	}

	for name, value := range assigned {
		if err := resource.set(name, value, span); err != nil {
			return nil, err
		}
	}
	return e.finalizeResource(resource, span)
}

// dispatch selects exactly one constructor overload: filter by arity and
// argument names, then by parameter type compatibility, then by
// @constraint truth.
func (e *Evaluator) dispatch(
	def *ResourceDefinition,
	args []evaluatedArg,
	scope *Scope,
	span source.Span,
) (*Constructor, map[string]Value, error) {
	type candidate struct {
		ctor  *Constructor
		bound map[string]Value
	}
	var candidates []candidate

	for _, ctor := range def.Constructors {
		bound, ok := e.tryBind(ctor, args, span)
		if ok {
			candidates = append(candidates, candidate{ctor: ctor, bound: bound})
		}
	}

	switch len(candidates) {
	case 0:
		return nil, nil, errs.Newf(errs.KindConstructor,
			"no constructor of '%s' accepts %s", def.Name, fmtArgCount(len(args))).
			WithSpan(span)
	case 1:
		return candidates[0].ctor, candidates[0].bound, nil
	}

	// Several overloads remain: @constraint must narrow to exactly one.
	var matched []candidate
	constrained := false
	for _, cand := range candidates {
		if cand.ctor.Constraint == nil {
			continue
		}
		constrained = true
		inner := NewScope("constraint", scope)
		for name, value := range cand.bound {
			inner.SetBuiltin(name, value)
		}
		result, err := e.evalExpr(cand.ctor.Constraint, inner)
		if err != nil {
			return nil, nil, err
		}
		if Truthy(result) {
			matched = append(matched, cand)
		}
	}

	if constrained && len(matched) == 1 {
		return matched[0].ctor, matched[0].bound, nil
	}
	return nil, nil, errs.Newf(errs.KindType,
		"call of '%s' is ambiguous: %d overloads match", def.Name, len(candidates)).
		WithCode(errs.CodeAmbiguous).WithSpan(span)
}

// tryBind attempts to bind args to a constructor's parameters, including
// type coercion. A failed bind disqualifies the overload silently.
func (e *Evaluator) tryBind(ctor *Constructor, args []evaluatedArg, span source.Span) (map[string]Value, bool) {
	bound := make(map[string]Value)
	positional := 0

	for _, arg := range args {
		if arg.name == "" {
			if positional >= len(ctor.Params) {
				return nil, false
			}
			param := ctor.Params[positional]
			positional++
			coerced, err := e.Coerce(arg.value, param.Type, arg.span)
			if err != nil {
				return nil, false
			}
			bound[param.Name] = coerced
			continue
		}

		var found *ParamSchema
		for i := range ctor.Params {
			if ctor.Params[i].Name == arg.name {
				found = &ctor.Params[i]
				break
			}
		}
		if found == nil {
			return nil, false
		}
		if _, dup := bound[found.Name]; dup {
			return nil, false
		}
		coerced, err := e.Coerce(arg.value, found.Type, arg.span)
		if err != nil {
			return nil, false
		}
		bound[found.Name] = coerced
	}

	// Unbound parameters must have defaults.
	for _, param := range ctor.Params {
		if _, ok := bound[param.Name]; ok {
			continue
		}
		if param.Default == nil {
			return nil, false
		}
		value, err := e.evalExpr(param.Default, ctor.Scope)
		if err != nil {
			return nil, false
		}
		coerced, err := e.Coerce(value, param.Type, span)
		if err != nil {
			return nil, false
		}
		bound[param.Name] = coerced
	}
	return bound, true
}

// runConstructor executes a chosen overload's body against a fresh open
// resource.
func (e *Evaluator) runConstructor(
	def *ResourceDefinition,
	ctor *Constructor,
	bound map[string]Value,
	span source.Span,
) (Value, error) {
	resource := newResource(def, span)
	e.makePromises(resource)

	ctorScope := NewScope("ctor-"+def.Name, ctor.Scope)
	ctorScope.SetBuiltin("self", resource)
	for name, value := range bound {
		ctorScope.SetBuiltin(name, value)
	}

	prevSelf := e.curSelf
	e.curSelf = resource
	defer func() { e.curSelf = prevSelf }()

	for _, stmt := range ctor.Body {
		if err := e.evalStmt(stmt, ctorScope); err != nil {
			return nil, err
		}
	}
	return e.finalizeResource(resource, span)
}

// makePromises creates a one-shot slot for every promise property so
// reads during construction already yield the promise value.
func (e *Evaluator) makePromises(r *ResourceVal) {
	for _, name := range r.def.PropNames {
		prop := r.def.Properties[name]
		if prop.Promise {
			r.promises[name] = newPromise(r, name, prop.Type)
		}
	}
}

// finalizeResource fills defaults, enforces assignment of every required
// property, coerces to declared types, computes the index and registers
// the resource.
func (e *Evaluator) finalizeResource(r *ResourceVal, span source.Span) (Value, error) {
	for _, name := range r.def.PropNames {
		prop := r.def.Properties[name]

		if prop.Promise {
			r.props[name] = r.promises[name]
			continue
		}

		value, assigned := r.props[name]
		if !assigned {
			if prop.Default == nil {
				return nil, errs.Newf(errs.KindConstructor,
					"property '%s' of '%s' was never assigned", name, r.def.Name).
					WithSpan(span).WithSpan(prop.Span)
			}
			var err error
			value, err = e.evalExpr(prop.Default, prop.DefaultScope)
			if err != nil {
				return nil, err
			}
			r.propNames = append(r.propNames, name)
		}

		coerced, err := e.Coerce(value, prop.Type, span)
		if err != nil {
			return nil, err
		}
		r.props[name] = coerced
	}

	// Property order follows the definition from here on.
	r.propNames = append([]string(nil), r.def.PropNames...)

	if err := r.computeIndex(); err != nil {
		return nil, err
	}
	if err := e.table.Register(r); err != nil {
		return nil, err
	}
	r.close()
	return r, nil
}
