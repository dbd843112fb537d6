package eval

import (
	"sort"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/source"
	"github.com/eikobot/eikobot/pkg/types"
)

// binding is one name in a scope. A binding transitions at most once from
// declared to assigned; it never changes value afterwards.
type binding struct {
	value        Value
	declaredType *types.Type
	assigned     bool
	span         source.Span
}

// Scope is a lexical scope. Module scopes are reused across imports;
// constructor bodies and for-loop iterations get fresh nested scopes.
type Scope struct {
	name   string
	parent *Scope
	names  map[string]*binding
}

// NewScope creates a scope nested in parent (nil for the root).
func NewScope(name string, parent *Scope) *Scope {
	return &Scope{name: name, parent: parent, names: make(map[string]*binding)}
}

// Name returns the scope's diagnostic name.
func (s *Scope) Name() string { return s.name }

// Lookup finds a name in this scope or any ancestor.
func (s *Scope) Lookup(name string) (Value, bool) {
	for scope := s; scope != nil; scope = scope.parent {
		if b, ok := scope.names[name]; ok && b.assigned {
			return b.value, true
		}
	}
	return nil, false
}

// LookupLocal finds a name in this scope only.
func (s *Scope) LookupLocal(name string) (Value, bool) {
	b, ok := s.names[name]
	if !ok || !b.assigned {
		return nil, false
	}
	return b.value, true
}

// DeclaredType returns the forward-declared type of name, if any.
func (s *Scope) DeclaredType(name string) (*types.Type, bool) {
	for scope := s; scope != nil; scope = scope.parent {
		if b, ok := scope.names[name]; ok {
			if b.declaredType == nil {
				return nil, false
			}
			return b.declaredType, true
		}
	}
	return nil, false
}

// Declare records a forward type declaration without a value. The name
// may be written exactly once afterwards.
func (s *Scope) Declare(name string, typ *types.Type, span source.Span) error {
	if b, ok := s.names[name]; ok {
		if b.assigned {
			return errs.Newf(errs.KindReassign,
				"'%s' cannot be declared, it already holds a value", name).
				WithSpan(span).WithSpan(b.span)
		}
		return errs.Newf(errs.KindReassign, "'%s' is already declared", name).
			WithSpan(span).WithSpan(b.span)
	}
	s.names[name] = &binding{declaredType: typ, span: span}
	return nil
}

// Set assigns a value to name. Assigning a name that already holds a
// value is a ReassignError; the second occurrence is reported.
func (s *Scope) Set(name string, value Value, span source.Span) error {
	if b, ok := s.names[name]; ok {
		if b.assigned {
			return errs.Newf(errs.KindReassign,
				"'%s' is already assigned and cannot be reassigned", name).
				WithSpan(span).WithSpan(b.span)
		}
		b.value = value
		b.assigned = true
		b.span = span
		return nil
	}
	s.names[name] = &binding{value: value, assigned: true, span: span}
	return nil
}

// SetBuiltin binds a value without reassignment bookkeeping; used for
// the builtin root scope and module linkage.
func (s *Scope) SetBuiltin(name string, value Value) {
	s.names[name] = &binding{value: value, assigned: true}
}

// Names returns the assigned names in this scope, sorted.
func (s *Scope) Names() []string {
	out := make([]string, 0, len(s.names))
	for name, b := range s.names {
		if b.assigned {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
