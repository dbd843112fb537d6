// Package eval implements the single-pass, eagerly evaluated interpreter
// that turns a parsed module into an immutable object graph, together with
// the module resolver and the resource model.
package eval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/eikobot/eikobot/pkg/types"
)

// Value is an Eiko runtime value. Values are immutable once they are
// exposed to user code; lists and dicts freeze when the resource holding
// them closes construction.
type Value interface {
	Type() *types.Type
	String() string
}

// BoolVal is a bool value.
type BoolVal struct {
	V   bool
	typ *types.Type
}

// IntVal is an int value.
type IntVal struct {
	V   int64
	typ *types.Type
}

// FloatVal is a float value.
type FloatVal struct {
	V   float64
	typ *types.Type
}

// StrVal is a str or ProtectedStr value. Protected strings render
// redacted everywhere a user can see them.
type StrVal struct {
	V   string
	typ *types.Type
}

// PathVal is a filesystem path value.
type PathVal struct {
	V   string
	typ *types.Type
}

// NoneVal is the None value. None compares equal only to itself.
type NoneVal struct{}

// ListVal is an ordered list. Append is legal only until the list is
// frozen by resource construction.
type ListVal struct {
	Elems  []Value
	typ    *types.Type
	frozen bool
}

// DictVal is an insertion-ordered dictionary with bool/int/str/enum keys.
type DictVal struct {
	keys    []Value
	entries map[string]Value
	typ     *types.Type
	frozen  bool
}

// EnumVal is a member of an enum type.
type EnumVal struct {
	Member string
	typ    *types.Type
}

// TypeVal carries a type as a first-class value, as bound by typedef and
// enum declarations and the builtin type names.
type TypeVal struct {
	T *types.Type
}

// ModuleVal is a loaded module's environment, bound by import statements.
type ModuleVal struct {
	Name     string
	Env      *Scope
	children map[string]*ModuleVal
}

func NewBool(v bool) *BoolVal      { return &BoolVal{V: v, typ: types.Bool} }
func NewInt(v int64) *IntVal      { return &IntVal{V: v, typ: types.Int} }
func NewFloat(v float64) *FloatVal { return &FloatVal{V: v, typ: types.Float} }
func NewStr(v string) *StrVal     { return &StrVal{V: v, typ: types.Str} }
func NewPath(v string) *PathVal   { return &PathVal{V: v, typ: types.Path} }

// NewProtectedStr wraps a secret so it is redacted in user-visible output.
func NewProtectedStr(v string) *StrVal {
	return &StrVal{V: v, typ: types.ProtectedStr}
}

// None is the single None value.
var None = &NoneVal{}

func NewList(elems []Value) *ListVal {
	elemType := types.Any
	for i, e := range elems {
		if i == 0 {
			elemType = e.Type()
			continue
		}
		elemType = types.Unify(elemType, e.Type())
	}
	return &ListVal{Elems: elems, typ: types.NewList(elemType)}
}

func NewDict() *DictVal {
	return &DictVal{
		entries: make(map[string]Value),
		typ:     types.NewDict(types.Any, types.Any),
	}
}

func (v *BoolVal) Type() *types.Type   { return v.typ }
func (v *IntVal) Type() *types.Type    { return v.typ }
func (v *FloatVal) Type() *types.Type  { return v.typ }
func (v *StrVal) Type() *types.Type    { return v.typ }
func (v *PathVal) Type() *types.Type   { return v.typ }
func (v *NoneVal) Type() *types.Type   { return types.None }
func (v *ListVal) Type() *types.Type   { return v.typ }
func (v *DictVal) Type() *types.Type   { return v.typ }
func (v *EnumVal) Type() *types.Type   { return v.typ }
func (v *TypeVal) Type() *types.Type   { return v.T }
func (v *ModuleVal) Type() *types.Type { return types.Any }

func (v *BoolVal) String() string {
	if v.V {
		return "True"
	}
	return "False"
}

func (v *IntVal) String() string   { return strconv.FormatInt(v.V, 10) }
func (v *FloatVal) String() string { return strconv.FormatFloat(v.V, 'g', -1, 64) }

func (v *StrVal) String() string {
	if v.typ.Kind == types.KindProtectedStr ||
		(v.typ.Kind == types.KindTypedef && v.typ.Base.Kind == types.KindProtectedStr) {
		return "********"
	}
	return v.V
}

func (v *PathVal) String() string { return v.V }
func (v *NoneVal) String() string { return "None" }

func (v *ListVal) String() string {
	parts := make([]string, len(v.Elems))
	for i, e := range v.Elems {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v *DictVal) String() string {
	parts := make([]string, 0, len(v.keys))
	for _, k := range v.keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v.entries[dictKey(k)]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (v *EnumVal) String() string   { return v.typ.Name + "." + v.Member }
func (v *TypeVal) String() string   { return v.T.String() }
func (v *ModuleVal) String() string { return "<module " + v.Name + ">" }

// retyped returns a shallow copy of v carrying typ, used by coercion into
// typedef subtypes.
func retyped(v Value, typ *types.Type) Value {
	switch val := v.(type) {
	case *BoolVal:
		return &BoolVal{V: val.V, typ: typ}
	case *IntVal:
		return &IntVal{V: val.V, typ: typ}
	case *FloatVal:
		return &FloatVal{V: val.V, typ: typ}
	case *StrVal:
		return &StrVal{V: val.V, typ: typ}
	case *PathVal:
		return &PathVal{V: val.V, typ: typ}
	default:
		return v
	}
}

// Append adds an element. It fails once the list is frozen.
func (v *ListVal) Append(elem Value) error {
	if v.frozen {
		return fmt.Errorf("cannot append to a frozen list")
	}
	v.Elems = append(v.Elems, elem)
	v.typ = types.NewList(types.Unify(v.typ.Elem, elem.Type()))
	return nil
}

// Freeze recursively marks the list immutable.
func (v *ListVal) Freeze() {
	if v.frozen {
		return
	}
	v.frozen = true
	for _, e := range v.Elems {
		freezeValue(e)
	}
}

// Keys returns the dict keys in insertion order.
func (v *DictVal) Keys() []Value {
	return v.keys
}

// Get looks a key up.
func (v *DictVal) Get(key Value) (Value, bool) {
	val, ok := v.entries[dictKey(key)]
	return val, ok
}

// Set inserts a key/value pair. Overwriting an existing key or writing to
// a frozen dict fails.
func (v *DictVal) Set(key, value Value) error {
	if v.frozen {
		return fmt.Errorf("cannot insert into a frozen dict")
	}
	if !types.ValidDictKey(key.Type()) {
		return fmt.Errorf("type %s is not a valid dict key", key.Type())
	}
	ks := dictKey(key)
	if _, exists := v.entries[ks]; exists {
		return fmt.Errorf("duplicate dict key %s", key)
	}
	v.keys = append(v.keys, key)
	v.entries[ks] = value
	v.typ = types.NewDict(
		types.Unify(v.typ.Key, key.Type()),
		types.Unify(v.typ.Value, value.Type()),
	)
	return nil
}

// Len returns the number of entries.
func (v *DictVal) Len() int { return len(v.keys) }

// Freeze recursively marks the dict immutable.
func (v *DictVal) Freeze() {
	if v.frozen {
		return
	}
	v.frozen = true
	for _, val := range v.entries {
		freezeValue(val)
	}
}

func freezeValue(v Value) {
	switch val := v.(type) {
	case *ListVal:
		val.Freeze()
	case *DictVal:
		val.Freeze()
	}
}

// dictKey renders a hashable key form; valid key kinds only.
func dictKey(v Value) string {
	switch val := v.(type) {
	case *BoolVal:
		return "b:" + val.String()
	case *IntVal:
		return "i:" + val.String()
	case *StrVal:
		return "s:" + val.V
	case *EnumVal:
		return "e:" + val.typ.QualifiedName() + "." + val.Member
	default:
		return "x:" + val.String()
	}
}

// Equals implements structural equality for values. Resources compare by
// identity (their index); None equals only itself.
func Equals(a, b Value) bool {
	switch av := a.(type) {
	case *NoneVal:
		_, ok := b.(*NoneVal)
		return ok
	case *BoolVal:
		bv, ok := b.(*BoolVal)
		return ok && av.V == bv.V
	case *IntVal:
		switch bv := b.(type) {
		case *IntVal:
			return av.V == bv.V
		case *FloatVal:
			return float64(av.V) == bv.V
		}
		return false
	case *FloatVal:
		switch bv := b.(type) {
		case *FloatVal:
			return av.V == bv.V
		case *IntVal:
			return av.V == float64(bv.V)
		}
		return false
	case *StrVal:
		bv, ok := b.(*StrVal)
		return ok && av.V == bv.V
	case *PathVal:
		bv, ok := b.(*PathVal)
		return ok && av.V == bv.V
	case *EnumVal:
		bv, ok := b.(*EnumVal)
		return ok && types.Equal(av.typ, bv.typ) && av.Member == bv.Member
	case *ListVal:
		bv, ok := b.(*ListVal)
		if !ok || len(av.Elems) != len(bv.Elems) {
			return false
		}
		for i := range av.Elems {
			if !Equals(av.Elems[i], bv.Elems[i]) {
				return false
			}
		}
		return true
	case *DictVal:
		bv, ok := b.(*DictVal)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for ks, val := range av.entries {
			other, exists := bv.entries[ks]
			if !exists || !Equals(val, other) {
				return false
			}
		}
		return true
	case *ResourceVal:
		bv, ok := b.(*ResourceVal)
		return ok && av.ID() == bv.ID()
	default:
		return a == b
	}
}

// Truthy reports the boolean interpretation of a value in conditions.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case *BoolVal:
		return val.V
	case *NoneVal:
		return false
	case *IntVal:
		return val.V != 0
	case *FloatVal:
		return val.V != 0
	case *StrVal:
		return val.V != ""
	case *ListVal:
		return len(val.Elems) > 0
	case *DictVal:
		return val.Len() > 0
	default:
		return true
	}
}

// ToGo converts a value to its plain Go representation for handler
// contexts and plugin calls. Protected strings keep their real content:
// redaction applies to display, not to deployment.
func ToGo(v Value) any {
	switch val := v.(type) {
	case *BoolVal:
		return val.V
	case *IntVal:
		return val.V
	case *FloatVal:
		return val.V
	case *StrVal:
		return val.V
	case *PathVal:
		return val.V
	case *NoneVal:
		return nil
	case *EnumVal:
		return val.Member
	case *ListVal:
		out := make([]any, len(val.Elems))
		for i, e := range val.Elems {
			out[i] = ToGo(e)
		}
		return out
	case *DictVal:
		out := make(map[string]any, val.Len())
		for _, k := range val.keys {
			out[fmt.Sprint(ToGo(k))] = ToGo(val.entries[dictKey(k)])
		}
		return out
	case *ResourceVal:
		out := make(map[string]any, len(val.propNames))
		for _, name := range val.propNames {
			out[name] = ToGo(val.props[name])
		}
		return out
	case *PromiseVal:
		resolved, ok := val.Get()
		if !ok {
			return nil
		}
		return ToGo(resolved)
	default:
		return val.String()
	}
}

// Child returns the submodule bound under name, if any.
func (v *ModuleVal) Child(name string) (*ModuleVal, bool) {
	m, ok := v.children[name]
	return m, ok
}

func (v *ModuleVal) addChild(name string, child *ModuleVal) {
	if v.children == nil {
		v.children = make(map[string]*ModuleVal)
	}
	v.children[name] = child
}

// SortedChildren lists submodule names for deterministic output.
func (v *ModuleVal) SortedChildren() []string {
	names := make([]string, 0, len(v.children))
	for name := range v.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
