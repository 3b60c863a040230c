package graphicscore

import "sync"

// disposer is one entry in the deferred-destroy queue: a resource counted down over
// kMaxInFlightFrames+1 calls to OnFrameEnd before its native handles are actually freed
// (spec.md §4.1).
type disposer struct {
	resource   *Resource
	framesLeft int
}

// deferredDestroyQueue implements spec.md §4.1's UnregisterResource/OnFrameEnd contract.
// spec.md §5 calls for a spin-lock guarding this queue because resources may be
// unregistered from any thread; this module uses sync.Mutex, the idiomatic Go
// equivalent of a spin lock under a cooperative scheduler (see SPEC_FULL.md §5).
type deferredDestroyQueue struct {
	mu       sync.Mutex
	pending  []disposer
	metrics  *deviceMetrics
}

func newDeferredDestroyQueue(metrics *deviceMetrics) *deferredDestroyQueue {
	return &deferredDestroyQueue{metrics: metrics}
}

// enqueue adds a resource with the standard N+1 frame deferral.
func (q *deferredDestroyQueue) enqueue(r *Resource) {
	q.mu.Lock()
	q.pending = append(q.pending, disposer{resource: r, framesLeft: kMaxInFlightFrames + 1})
	n := len(q.pending)
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.deferredDestroyPending.Set(float64(n))
	}
}

// tick decrements framesLeft on every entry and returns those that reached zero,
// removing them from the queue. Called once per OnFrameEnd on the main thread.
func (q *deferredDestroyQueue) tick() []*Resource {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ready []*Resource
	kept := q.pending[:0]
	for _, d := range q.pending {
		d.framesLeft--
		if d.framesLeft <= 0 {
			ready = append(ready, d.resource)
		} else {
			kept = append(kept, d)
		}
	}
	q.pending = kept
	if q.metrics != nil {
		q.metrics.deferredDestroyPending.Set(float64(len(q.pending)))
	}
	return ready
}

// drain returns every remaining entry regardless of framesLeft, for use during
// Device.Shutdown (spec.md §4.1: "Shutdown()... destroys everything in the queue
// ignoring counters").
func (q *deferredDestroyQueue) drain() []*Resource {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Resource, 0, len(q.pending))
	for _, d := range q.pending {
		out = append(out, d.resource)
	}
	q.pending = nil
	return out
}

func (q *deferredDestroyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
