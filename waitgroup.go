package graphicscore

import "context"

// CompletionGroup is the cooperative completion signal named throughout spec.md
// ("WaitGroup" in the glossary): the completion of one background job that callers
// observe before touching the result. Unlike sync.WaitGroup it carries a failure flag and
// supports context-bounded waits, both required by spec.md §7: "failure sets a flag on
// the pipeline/shader object; its wait-group still signals so callers don't deadlock."
type CompletionGroup struct {
	done   chan struct{}
	failed bool
}

// NewCompletionGroup returns a group covering exactly one unit of background work. Chain
// additional producers are modeled by composing groups (see WaitAll), not by incrementing
// a shared counter; each group is signaled exactly once, by the job that owns it.
func NewCompletionGroup() *CompletionGroup {
	return &CompletionGroup{done: make(chan struct{})}
}

// Signal marks the group complete. Calling it more than once panics: a CompletionGroup
// is produced by exactly one job.
func (g *CompletionGroup) Signal(failed bool) {
	g.failed = failed
	close(g.done)
}

// Wait blocks until Signal has been called.
func (g *CompletionGroup) Wait() {
	<-g.done
}

// WaitContext blocks until Signal has been called or ctx is done, reporting which
// happened.
func (g *CompletionGroup) WaitContext(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDone reports completion without blocking.
func (g *CompletionGroup) IsDone() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Failed reports whether the job that owns this group signaled failure. Valid only after
// Wait/WaitContext/IsDone has observed completion.
func (g *CompletionGroup) Failed() bool {
	return g.failed
}

// WaitAll blocks until every non-nil group in the slice has signaled, short-circuiting on
// ctx cancellation.
func WaitAll(ctx context.Context, groups ...*CompletionGroup) error {
	for _, g := range groups {
		if g == nil {
			continue
		}
		if err := g.WaitContext(ctx); err != nil {
			return err
		}
	}
	return nil
}
