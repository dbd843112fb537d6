package eval

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/source"
)

// callPlugin marshals Eiko values into host values per the plugin's
// declared signature, invokes it, and converts the result back.
//
// A panic or non-user error inside the plugin surfaces as an internal
// plugin error carrying the host stack trace; a *plugin.UserError keeps
// its own message and is shown to the user as-is.
func (e *Evaluator) callPlugin(p *plugin.Plugin, args []Value, span source.Span) (_ Value, err error) {
	if len(args) != len(p.Params) {
		return nil, errs.Newf(errs.KindType,
			"plugin '%s' takes %s, got %s",
			p.Name, fmtArgCount(len(p.Params)), fmtArgCount(len(args))).
			WithCode(errs.CodeMismatch).WithSpan(span)
	}

	hostArgs := make([]any, len(args))
	for i, arg := range args {
		param := p.Params[i]

		if param.Model != "" {
			resource, ok := arg.(*ResourceVal)
			if !ok || !resourceMatches(resource, param.Model) {
				return nil, errs.Newf(errs.KindType,
					"parameter '%s' of plugin '%s' expects a %s resource",
					param.Name, p.Name, param.Model).
					WithCode(errs.CodeMismatch).WithSpan(span)
			}
			model, merr := e.toModel(resource)
			if merr != nil {
				return nil, merr
			}
			hostArgs[i] = model
			continue
		}

		coerced, cerr := e.Coerce(arg, param.Type, span)
		if cerr != nil {
			return nil, cerr
		}
		// Container arguments are re-converted on every call; only model
		// instances are cached.
		hostArgs[i] = ToGo(coerced)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf(errs.KindPlugin,
				"plugin '%s' panicked: %v", p.Name, r).
				WithCode(errs.CodeInternal).
				WithTrace(string(debug.Stack())).
				WithSpan(span)
		}
	}()

	result, callErr := p.Fn(hostArgs)
	if callErr != nil {
		var userErr *plugin.UserError
		if errors.As(callErr, &userErr) {
			return nil, errs.New(errs.KindPlugin, userErr.Message).
				WithCode(errs.CodeUser).WithSpan(span)
		}
		return nil, errs.Wrap(errs.KindPlugin,
			fmt.Sprintf("plugin '%s' failed", p.Name), callErr).
			WithCode(errs.CodeInternal).
			WithTrace(string(debug.Stack())).
			WithSpan(span)
	}

	value := fromGo(result)
	if p.Return != nil {
		return e.Coerce(value, p.Return, span)
	}
	return value, nil
}

func resourceMatches(r *ResourceVal, name string) bool {
	for def := r.def; def != nil; def = def.Parent {
		if def.Name == name || def.QualifiedName() == name {
			return true
		}
	}
	return false
}

// fromGo converts a host value into an Eiko value.
func fromGo(v any) Value {
	switch val := v.(type) {
	case nil:
		return None
	case Value:
		return val
	case bool:
		return NewBool(val)
	case int:
		return NewInt(int64(val))
	case int64:
		return NewInt(val)
	case float64:
		return NewFloat(val)
	case string:
		return NewStr(val)
	case []any:
		elems := make([]Value, len(val))
		for i, item := range val {
			elems[i] = fromGo(item)
		}
		return NewList(elems)
	case map[string]any:
		dict := NewDict()
		for _, key := range sortedKeys(val) {
			// Insertion errors cannot occur: keys are strings.
			_ = dict.Set(NewStr(key), fromGo(val[key]))
		}
		return dict
	default:
		return NewStr(fmt.Sprint(val))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LinkedModel returns the host model instance linked to a resource,
// building and caching it on first use.
func (e *Evaluator) LinkedModel(r *ResourceVal) (any, error) {
	return e.toModel(r)
}

// toModel converts a resource into its registered host model instance.
// The instance is cached on the resource so repeated conversions preserve
// identity.
func (e *Evaluator) toModel(r *ResourceVal) (any, error) {
	if cached := r.Model(); cached != nil {
		return cached, nil
	}

	modelType, ok := e.plugins.ModelFor(r.def.Name)
	if !ok {
		modelType, ok = e.plugins.ModelFor(r.def.QualifiedName())
	}
	if !ok {
		return nil, errs.Newf(errs.KindPlugin,
			"resource '%s' has no registered model", r.def.Name).
			WithCode(errs.CodeInternal)
	}

	instance := reflect.New(modelType)
	if err := e.fillModel(instance.Elem(), r); err != nil {
		return nil, err
	}
	model := instance.Interface()
	r.SetModel(model)
	return model, nil
}

// fillModel populates a model struct from resource properties. Fields
// match by `eiko` tag, falling back to the snake_cased field name.
func (e *Evaluator) fillModel(target reflect.Value, r *ResourceVal) error {
	t := target.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		propName := field.Tag.Get("eiko")
		if propName == "" {
			propName = snakeCase(field.Name)
		}
		if propName == "-" {
			continue
		}
		value, ok := r.Get(propName)
		if !ok {
			continue
		}
		if err := e.assignModelField(target.Field(i), value, r.def.Name, propName); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) assignModelField(field reflect.Value, value Value, resName, propName string) error {
	// Nested resources become nested models when one is registered.
	if nested, ok := value.(*ResourceVal); ok {
		if _, hasModel := e.plugins.ModelFor(nested.def.Name); hasModel {
			model, err := e.toModel(nested)
			if err != nil {
				return err
			}
			mv := reflect.ValueOf(model)
			switch {
			case mv.Type().AssignableTo(field.Type()):
				field.Set(mv)
				return nil
			case mv.Elem().Type().AssignableTo(field.Type()):
				field.Set(mv.Elem())
				return nil
			}
		}
	}

	if promise, ok := value.(*PromiseVal); ok {
		resolved, ok := promise.Get()
		if !ok {
			// Unresolved promises leave the zero value in place.
			return nil
		}
		value = resolved
	}

	host := reflect.ValueOf(ToGo(value))
	if !host.IsValid() {
		return nil
	}
	switch {
	case host.Type().AssignableTo(field.Type()):
		field.Set(host)
	case host.Type().ConvertibleTo(field.Type()):
		field.Set(host.Convert(field.Type()))
	case field.Kind() == reflect.Slice && host.Kind() == reflect.Slice:
		out := reflect.MakeSlice(field.Type(), host.Len(), host.Len())
		for i := 0; i < host.Len(); i++ {
			item := reflect.ValueOf(host.Index(i).Interface())
			if !item.Type().ConvertibleTo(field.Type().Elem()) {
				return errs.Newf(errs.KindPlugin,
					"cannot convert property '%s' of '%s' into model field", propName, resName).
					WithCode(errs.CodeInternal)
			}
			out.Index(i).Set(item.Convert(field.Type().Elem()))
		}
		field.Set(out)
	default:
		return errs.Newf(errs.KindPlugin,
			"cannot convert property '%s' of '%s' into model field", propName, resName).
			WithCode(errs.CodeInternal)
	}
	return nil
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
