package executor

import (
	"context"
	"sync"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// unitBehavior scripts how the fake browser reacts to one unit ID. Results
// are consumed in order so a retry can observe a different outcome than the
// first attempt.
type unitBehavior struct {
	results []schemas.RunResult
	runErrs []error
	calls   int
	block   bool                 // Run hangs until the context expires
	state   schemas.BrowserState // what ReadState exposes after this unit ran
	readErr error
}

func (b *unitBehavior) next() (schemas.RunResult, error) {
	i := b.calls
	b.calls++
	var res schemas.RunResult
	if i < len(b.results) {
		res = b.results[i]
	} else if len(b.results) > 0 {
		res = b.results[len(b.results)-1]
	}
	var err error
	if i < len(b.runErrs) {
		err = b.runErrs[i]
	}
	return res, err
}

// fakeRunner hands out one fakeExecCtx per unit execution and keeps them all
// for post-hoc assertions.
type fakeRunner struct {
	mu        sync.Mutex
	behaviors map[string]*unitBehavior
	contexts  []*fakeExecCtx
	newErr    error
	injectErr error // returned from every WriteState when set
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{behaviors: make(map[string]*unitBehavior)}
}

func (r *fakeRunner) on(unitID string) *unitBehavior {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.behaviors[unitID]
	if !ok {
		b = &unitBehavior{results: []schemas.RunResult{{Status: schemas.StatusPassed}}}
		r.behaviors[unitID] = b
	}
	return b
}

func (r *fakeRunner) NewExecutionContext(ctx context.Context, target string) (schemas.ExecutionContext, error) {
	if r.newErr != nil {
		return nil, r.newErr
	}
	ec := &fakeExecCtx{runner: r, target: target}
	r.mu.Lock()
	r.contexts = append(r.contexts, ec)
	r.mu.Unlock()
	return ec, nil
}

// contextsFor returns the execution contexts that ran the given unit, in
// creation order.
func (r *fakeRunner) contextsFor(unitID string) []*fakeExecCtx {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*fakeExecCtx
	for _, ec := range r.contexts {
		if ec.ranUnit == unitID {
			out = append(out, ec)
		}
	}
	return out
}

// fakeExecCtx is one isolated fake browser context.
type fakeExecCtx struct {
	runner   *fakeRunner
	target   string
	ranUnit  string
	injected *schemas.BrowserState
	closed   bool
	behavior *unitBehavior
}

func (ec *fakeExecCtx) Run(ctx context.Context, unit schemas.TestUnit) (schemas.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return schemas.RunResult{}, err
	}
	ec.ranUnit = unit.ID
	ec.behavior = ec.runner.on(unit.ID)
	if ec.behavior.block {
		<-ctx.Done()
		return schemas.RunResult{}, ctx.Err()
	}
	return ec.behavior.next()
}

func (ec *fakeExecCtx) ReadState(ctx context.Context) (schemas.BrowserState, error) {
	if ec.behavior != nil {
		return ec.behavior.state, ec.behavior.readErr
	}
	return schemas.BrowserState{}, nil
}

func (ec *fakeExecCtx) WriteState(ctx context.Context, state schemas.BrowserState) error {
	if ec.runner.injectErr != nil {
		return ec.runner.injectErr
	}
	ec.injected = &state
	return nil
}

func (ec *fakeExecCtx) CurrentURL() string { return ec.target }

func (ec *fakeExecCtx) Close(ctx context.Context) error {
	ec.closed = true
	return nil
}
