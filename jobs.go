package graphicscore

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// JobSystem is the worker pool spec.md §5 calls for: "a job-system worker pool runs
// pipeline compilation, shader loading, geometry upload packaging — anything off the
// critical path. All work is expressed as jobs with optional WaitGroup completion
// handles." golang.org/x/sync/semaphore bounds concurrency (a plain goroutine-per-job
// pool would let an unbounded flood of shader compiles starve the copy thread's own
// goroutines of OS threads); golang.org/x/sync/errgroup is layered on top by callers that
// need "compile everything, then wait" semantics (PipelineFactory.WaitForGlobalPipelineSets).
type JobSystem struct {
	sem *semaphore.Weighted
	log *componentLogger
}

// NewJobSystem sizes the pool at GOMAXPROCS-1 workers by default (leaving one core for
// the main thread's present loop), with a floor of 1.
func NewJobSystem(workers int) *JobSystem {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) - 1
		if workers < 1 {
			workers = 1
		}
	}
	return &JobSystem{
		sem: semaphore.NewWeighted(int64(workers)),
		log: newComponentLogger("jobs"),
	}
}

// Go runs fn on a worker goroutine once a slot is free and signals group with whatever
// failure state fn reports. It never blocks the caller past acquiring the semaphore
// ticket; submission itself queues if the pool is saturated.
func (j *JobSystem) Go(group *CompletionGroup, fn func() bool) {
	if err := j.sem.Acquire(context.Background(), 1); err != nil {
		group.Signal(true)
		return
	}
	go func() {
		defer j.sem.Release(1)
		ok := func() (ok bool) {
			defer func() {
				if r := recover(); r != nil {
					j.log.Error().Interface("panic", r).Msg("job panicked")
					ok = false
				}
			}()
			return fn()
		}()
		group.Signal(!ok)
	}()
}

// TryGo is identical to Go, panic recovery included, but returns false immediately,
// without submitting fn, if the pool has no free slot right now.
func (j *JobSystem) TryGo(group *CompletionGroup, fn func() bool) bool {
	if !j.sem.TryAcquire(1) {
		return false
	}
	go func() {
		defer j.sem.Release(1)
		ok := func() (ok bool) {
			defer func() {
				if r := recover(); r != nil {
					j.log.Error().Interface("panic", r).Msg("job panicked")
					ok = false
				}
			}()
			return fn()
		}()
		group.Signal(!ok)
	}()
	return true
}
