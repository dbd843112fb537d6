package eval

import (
	"context"
	"sync"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/types"
)

// PromiseVal is a deploy-time hole in a resource property. During
// evaluation reads return the promise itself; during deployment readers
// block until the owning task resolves the slot.
//
// A slot transitions Unresolved -> Resolved(value) or Unresolved ->
// Failed(err) exactly once, from the owning task only.
type PromiseVal struct {
	owner    *ResourceVal
	property string
	typ      *types.Type

	mu       sync.Mutex
	done     chan struct{}
	resolved Value
	err      error
}

func newPromise(owner *ResourceVal, property string, typ *types.Type) *PromiseVal {
	return &PromiseVal{
		owner:    owner,
		property: property,
		typ:      typ,
		done:     make(chan struct{}),
	}
}

// Type returns the declared type of the promised value.
func (p *PromiseVal) Type() *types.Type { return p.typ }

// String renders the promise reference, never a value.
func (p *PromiseVal) String() string {
	return "<promise " + p.owner.ID() + "." + p.property + ">"
}

// Owner returns the resource whose task must resolve this promise.
func (p *PromiseVal) Owner() *ResourceVal { return p.owner }

// Property returns the property name the promise fills.
func (p *PromiseVal) Property() string { return p.property }

// Resolve fills the slot. Resolving twice is an internal error.
func (p *PromiseVal) Resolve(v Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return errs.Newf(errs.KindInternal,
			"promise '%s.%s' resolved twice", p.owner.ID(), p.property)
	default:
	}
	p.resolved = v
	close(p.done)
	return nil
}

// Fail marks the slot unresolvable; waiters receive err.
func (p *PromiseVal) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return
	default:
	}
	p.err = err
	close(p.done)
}

// Get returns the resolved value without blocking.
func (p *PromiseVal) Get() (Value, bool) {
	select {
	case <-p.done:
		return p.resolved, p.err == nil
	default:
		return nil, false
	}
}

// Resolved reports whether the slot holds a value.
func (p *PromiseVal) Resolved() bool {
	v, ok := p.Get()
	return ok && v != nil
}

// Await blocks until the slot resolves, fails, or ctx is cancelled.
func (p *PromiseVal) Await(ctx context.Context) (Value, error) {
	select {
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		return p.resolved, nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindDeploy,
			"cancelled while waiting on promise "+p.owner.ID()+"."+p.property,
			ctx.Err()).WithCode(errs.CodeCancelled)
	}
}
