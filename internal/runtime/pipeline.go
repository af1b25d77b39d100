package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
)

// NextFunc continues the middleware chain with the given context.
type NextFunc func(ctx context.Context)

// Middleware intercepts an envelope before delivery. Calling next forwards it;
// returning without calling next vetoes it. A panicking middleware vetoes too.
// next must be called before the middleware returns; later calls are ignored.
type Middleware func(ctx context.Context, env *Envelope, next NextFunc)

type namedMiddleware struct {
	name string
	fn   Middleware
}

// pipeline is an append-only chain. Appends copy the slice so running
// dispatches keep the snapshot they started with.
type pipeline struct {
	mu    sync.RWMutex
	chain []namedMiddleware
}

func (p *pipeline) append(name string, fn Middleware) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make([]namedMiddleware, len(p.chain), len(p.chain)+1)
	copy(next, p.chain)
	p.chain = append(next, namedMiddleware{name: name, fn: fn})
	return len(p.chain)
}

func (p *pipeline) snapshot() []namedMiddleware {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chain
}

func (p *pipeline) names() []string {
	chain := p.snapshot()
	out := make([]string, len(chain))
	for i, mw := range chain {
		out[i] = mw.name
	}
	return out
}

// verdict is the outcome of one pipeline run.
type verdict struct {
	// passed is set once the terminal ran.
	passed bool
	// vetoedBy names the innermost middleware that did not call next.
	vetoedBy string
	// err carries a recovered middleware panic.
	err error
}

// Per-middleware progress. Whichever of next or the middleware's return
// happens first decides the step.
const (
	stepPending int32 = iota
	stepForwarded
	stepReturned
)

// run walks the chain with a cursor and invokes terminal when every middleware
// called next. Calling next more than once is ignored.
func (p *pipeline) run(ctx context.Context, env *Envelope, terminal func(context.Context)) (v verdict) {
	chain := p.snapshot()
	current := ""

	defer func() {
		if r := recover(); r != nil {
			v.err = &errspkg.HandlerPanicError{Stage: "middleware " + current, Value: r}
			if !v.passed && v.vetoedBy == "" {
				v.vetoedBy = current
			}
		}
	}()

	var step func(i int, ctx context.Context)
	step = func(i int, ctx context.Context) {
		if i == len(chain) {
			v.passed = true
			terminal(ctx)
			return
		}

		mw := chain[i]
		var state atomic.Int32
		previous := current
		current = mw.name
		mw.fn(ctx, env, func(nextCtx context.Context) {
			if !state.CompareAndSwap(stepPending, stepForwarded) {
				return
			}
			if nextCtx == nil {
				nextCtx = ctx
			}
			step(i+1, nextCtx)
		})
		current = previous

		if state.CompareAndSwap(stepPending, stepReturned) && v.vetoedBy == "" {
			v.vetoedBy = mw.name
		}
	}

	step(0, ctx)
	return v
}
