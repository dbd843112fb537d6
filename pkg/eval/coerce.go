package eval

import (
	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/source"
	"github.com/eikobot/eikobot/pkg/types"
)

// Coerce converts v to the target type, or fails with a TypeError or
// RefinementError. Containers are rebuilt element-wise; scalars widen
// Int -> Float; typedef targets accept a base value iff the refinement
// evaluates true with self bound to the candidate.
func (e *Evaluator) Coerce(v Value, target *types.Type, span source.Span) (Value, error) {
	if target == nil || target.Kind == types.KindAny {
		return v, nil
	}

	// A promise stands in for its declared type during evaluation.
	if p, ok := v.(*PromiseVal); ok {
		if types.IsSubtype(p.Type(), target) {
			return v, nil
		}
		return nil, errs.Newf(errs.KindType,
			"promise of type %s cannot be used where %s is expected", p.Type(), target).
			WithCode(errs.CodeMismatch).WithSpan(span)
	}

	if types.Equal(v.Type(), target) {
		return v, nil
	}

	switch target.Kind {
	case types.KindTypedef:
		return e.coerceTypedef(v, target, span)

	case types.KindOptional:
		if _, ok := v.(*NoneVal); ok {
			return v, nil
		}
		return e.Coerce(v, target.Elem, span)

	case types.KindUnion:
		if types.IsSubtype(v.Type(), target) {
			return v, nil
		}
		for _, m := range target.Members {
			if coerced, err := e.Coerce(v, m, span); err == nil {
				return coerced, nil
			}
		}

	case types.KindFloat:
		switch val := v.(type) {
		case *FloatVal:
			return val, nil
		case *IntVal:
			return NewFloat(float64(val.V)), nil
		}

	case types.KindPath:
		switch val := v.(type) {
		case *PathVal:
			return val, nil
		case *StrVal:
			if val.typ.Kind == types.KindStr ||
				(val.typ.Kind == types.KindTypedef && val.typ.Base.Kind == types.KindStr) {
				return NewPath(val.V), nil
			}
		}

	case types.KindProtectedStr:
		if val, ok := v.(*StrVal); ok {
			return NewProtectedStr(val.V), nil
		}

	case types.KindList:
		if val, ok := v.(*ListVal); ok {
			elems := make([]Value, len(val.Elems))
			for i, elem := range val.Elems {
				coerced, err := e.Coerce(elem, target.Elem, span)
				if err != nil {
					return nil, err
				}
				elems[i] = coerced
			}
			out := &ListVal{Elems: elems, typ: target}
			return out, nil
		}

	case types.KindDict:
		if val, ok := v.(*DictVal); ok {
			if !types.ValidDictKey(target.Key) {
				return nil, errs.Newf(errs.KindType,
					"type %s is not a valid dict key type", target.Key).
					WithCode(errs.CodeMismatch).WithSpan(span)
			}
			out := &DictVal{entries: make(map[string]Value), typ: target}
			for _, k := range val.keys {
				key, err := e.Coerce(k, target.Key, span)
				if err != nil {
					return nil, err
				}
				value, err := e.Coerce(val.entries[dictKey(k)], target.Value, span)
				if err != nil {
					return nil, err
				}
				out.keys = append(out.keys, key)
				out.entries[dictKey(key)] = value
			}
			return out, nil
		}

	case types.KindResource:
		if val, ok := v.(*ResourceVal); ok {
			for def := val.def; def != nil; def = def.Parent {
				if types.Equal(def.typ, target) {
					return v, nil
				}
			}
		}

	default:
		if types.IsSubtype(v.Type(), target) {
			return v, nil
		}
	}

	// The base of a typedef value still coerces wherever the base does.
	if v.Type().Kind == types.KindTypedef {
		return e.Coerce(retyped(v, v.Type().Base), target, span)
	}

	return nil, errs.Newf(errs.KindType,
		"a value of type %s cannot be coerced to %s", v.Type(), target).
		WithCode(errs.CodeNotCoercible).WithSpan(span)
}

// coerceTypedef coerces v into a refined subtype: first to the base type,
// then through the refinement predicate.
func (e *Evaluator) coerceTypedef(v Value, target *types.Type, span source.Span) (Value, error) {
	base, err := e.Coerce(v, target.Base, span)
	if err != nil {
		return nil, err
	}

	if target.Refinement != nil {
		parent, _ := target.RefinementEnv.(*Scope)
		scope := NewScope("typedef-"+target.Name, parent)
		scope.SetBuiltin("self", retyped(base, target.Base))
		result, rerr := e.evalExpr(target.Refinement, scope)
		if rerr != nil {
			return nil, errs.Newf(errs.KindRefinement,
				"refinement of typedef '%s' failed to evaluate", target.Name).
				WithSpan(span)
		}
		if !Truthy(result) {
			return nil, errs.Newf(errs.KindRefinement,
				"value %s does not satisfy the refinement of typedef '%s'",
				redactedDisplay(base), target.Name).
				WithSpan(span)
		}
	}
	return retyped(base, target), nil
}

// redactedDisplay renders a value for an error message, honouring
// protected string redaction.
func redactedDisplay(v Value) string {
	return v.String()
}
