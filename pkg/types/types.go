// Package types holds the type values of the Eiko language and the
// structural rules between them: subtyping and unification. Value coercion
// lives in the evaluator, which can run typedef refinements.
package types

import (
	"fmt"
	"strings"

	"github.com/eikobot/eikobot/pkg/ast"
)

// Kind discriminates the type variants.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindStr
	KindPath
	KindNone
	KindProtectedStr
	KindList
	KindDict
	KindUnion
	KindOptional
	KindResource
	KindTypedef
	KindEnum
	KindAny // internal: plugin parameters that accept anything
)

// Type is an Eiko type value.
type Type struct {
	Kind Kind

	// Elem is the element type for List and Optional.
	Elem *Type

	// Key and Value are set for Dict.
	Key   *Type
	Value *Type

	// Members is the member set for Union.
	Members []*Type

	// Name is set for Resource, Typedef and Enum types; qualified by
	// Module for diagnostics and identity.
	Name   string
	Module string

	// Base and Refinement are set for Typedef. RefinementEnv carries the
	// defining scope the refinement evaluates in; its concrete type
	// belongs to the evaluator.
	Base          *Type
	Refinement    ast.Expr
	RefinementEnv any

	// EnumMembers holds the declared members for Enum, in order.
	EnumMembers []string
}

// Predeclared scalar types.
var (
	Bool         = &Type{Kind: KindBool}
	Int          = &Type{Kind: KindInt}
	Float        = &Type{Kind: KindFloat}
	Str          = &Type{Kind: KindStr}
	Path         = &Type{Kind: KindPath}
	None         = &Type{Kind: KindNone}
	ProtectedStr = &Type{Kind: KindProtectedStr}
	Any          = &Type{Kind: KindAny}
)

// NewList returns a list type with the given element type.
func NewList(elem *Type) *Type {
	return &Type{Kind: KindList, Elem: elem}
}

// NewDict returns a dict type. Key kinds are validated by ValidDictKey.
func NewDict(key, value *Type) *Type {
	return &Type{Kind: KindDict, Key: key, Value: value}
}

// NewOptional returns Optional[elem].
func NewOptional(elem *Type) *Type {
	return &Type{Kind: KindOptional, Elem: elem}
}

// NewUnion returns a union of members, flattening nested unions and
// deduplicating.
func NewUnion(members ...*Type) *Type {
	var flat []*Type
	for _, m := range members {
		if m.Kind == KindUnion {
			flat = append(flat, m.Members...)
			continue
		}
		flat = append(flat, m)
	}
	var unique []*Type
	for _, m := range flat {
		dup := false
		for _, u := range unique {
			if Equal(m, u) {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, m)
		}
	}
	if len(unique) == 1 {
		return unique[0]
	}
	return &Type{Kind: KindUnion, Members: unique}
}

// NewResource returns the type of instances of a resource definition.
func NewResource(module, name string) *Type {
	return &Type{Kind: KindResource, Module: module, Name: name}
}

// NewTypedef returns a refined subtype of base.
func NewTypedef(module, name string, base *Type, refinement ast.Expr) *Type {
	return &Type{Kind: KindTypedef, Module: module, Name: name, Base: base, Refinement: refinement}
}

// NewEnum returns an enum type with the given ordered members.
func NewEnum(module, name string, members []string) *Type {
	return &Type{Kind: KindEnum, Module: module, Name: name, EnumMembers: members}
}

// String renders the type the way users write it.
func (t *Type) String() string {
	switch t.Kind {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindPath:
		return "Path"
	case KindNone:
		return "None"
	case KindProtectedStr:
		return "ProtectedStr"
	case KindAny:
		return "Any"
	case KindList:
		return fmt.Sprintf("list[%s]", t.Elem)
	case KindDict:
		return fmt.Sprintf("dict[%s, %s]", t.Key, t.Value)
	case KindOptional:
		return fmt.Sprintf("Optional[%s]", t.Elem)
	case KindUnion:
		parts := make([]string, len(t.Members))
		for i, m := range t.Members {
			parts[i] = m.String()
		}
		return fmt.Sprintf("Union[%s]", strings.Join(parts, ", "))
	case KindResource, KindTypedef, KindEnum:
		return t.Name
	default:
		return "unknown"
	}
}

// QualifiedName returns module.name for named types, or String otherwise.
func (t *Type) QualifiedName() string {
	if t.Name != "" && t.Module != "" {
		return t.Module + "." + t.Name
	}
	return t.String()
}

// Equal reports structural equality; named types compare by identity
// (module + name).
func Equal(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindList, KindOptional:
		return Equal(a.Elem, b.Elem)
	case KindDict:
		return Equal(a.Key, b.Key) && Equal(a.Value, b.Value)
	case KindUnion:
		if len(a.Members) != len(b.Members) {
			return false
		}
		for _, m := range a.Members {
			found := false
			for _, n := range b.Members {
				if Equal(m, n) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case KindResource, KindTypedef, KindEnum:
		return a.Module == b.Module && a.Name == b.Name
	default:
		return true
	}
}

// IsSubtype reports whether a value of type a can stand where b is
// expected without coercion. A Typedef is a subtype of its base;
// every type is a subtype of Optional over a supertype and of a union
// containing a supertype.
func IsSubtype(a, b *Type) bool {
	if b == nil || b.Kind == KindAny {
		return true
	}
	if Equal(a, b) {
		return true
	}
	if a.Kind == KindTypedef {
		return IsSubtype(a.Base, b)
	}
	switch b.Kind {
	case KindOptional:
		return a.Kind == KindNone || IsSubtype(a, b.Elem)
	case KindUnion:
		for _, m := range b.Members {
			if IsSubtype(a, m) {
				return true
			}
		}
		return false
	case KindList:
		return a.Kind == KindList && IsSubtype(a.Elem, b.Elem)
	case KindDict:
		return a.Kind == KindDict && IsSubtype(a.Key, b.Key) && IsSubtype(a.Value, b.Value)
	}
	return false
}

// Unify returns the narrowest type covering both a and b, widening to a
// union when the two are unrelated.
func Unify(a, b *Type) *Type {
	if Equal(a, b) {
		return a
	}
	if IsSubtype(a, b) {
		return b
	}
	if IsSubtype(b, a) {
		return a
	}
	// Int widens to float.
	if (a.Kind == KindInt && b.Kind == KindFloat) || (a.Kind == KindFloat && b.Kind == KindInt) {
		return Float
	}
	if a.Kind == KindNone {
		return NewOptional(b)
	}
	if b.Kind == KindNone {
		return NewOptional(a)
	}
	return NewUnion(a, b)
}

// ValidDictKey reports whether t may be used as a dict key.
// Keys are restricted to bool, int, str and enum members.
func ValidDictKey(t *Type) bool {
	switch t.Kind {
	case KindBool, KindInt, KindStr, KindEnum:
		return true
	case KindTypedef:
		return ValidDictKey(t.Base)
	}
	return false
}

// Indexable reports whether a property of type t may serve as a default
// resource index.
func Indexable(t *Type) bool {
	switch t.Kind {
	case KindStr, KindInt, KindPath, KindEnum:
		return true
	case KindTypedef:
		return Indexable(t.Base)
	}
	return false
}
