package graphicscore

import (
	"sync/atomic"

	vk "github.com/vulkan-go/vulkan"
)

// TimelineFence wraps a VK_KHR_timeline_semaphore, the canonical cross-queue and
// CPU<->GPU rendezvous token described in spec.md §4.3. Signal/Wait delegate directly to
// the driver; GetCompletedValue polls. next tracks the highest value ever handed
// out by Next so callers that submit out of order (the async-copy queue bumping its own
// counter from a different goroutine than the graphics queue) never reuse a value.
type TimelineFence struct {
	device    vk.Device
	semaphore vk.Semaphore
	next      uint64 // atomic
}

// SyncPoint names a single point on a timeline (glossary): a (Fence, value) pair, cheap
// to copy and safe to store in queues.
type SyncPoint struct {
	Fence *TimelineFence
	Value uint64
}

// Elapsed reports whether the GPU has reached this sync point.
func (s SyncPoint) Elapsed() bool {
	if s.Fence == nil {
		return true
	}
	return s.Fence.GetCompletedValue() >= s.Value
}

// NewTimelineFence creates a timeline semaphore starting at value 0.
func NewTimelineFence(device vk.Device, log *componentLogger) *TimelineFence {
	typeCreateInfo := vk.SemaphoreTypeCreateInfo{
		SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
		SemaphoreType: vk.SemaphoreTypeTimeline,
		InitialValue:  0,
	}
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: unsafePointer(&typeCreateInfo),
	}, nil, &sem)
	must(ret, log, "failed to create timeline semaphore")
	return &TimelineFence{device: device, semaphore: sem}
}

// Next reserves and returns the next monotonic value a producer should signal. Reserving
// before submission (rather than letting the driver pick) is what lets a CommandBuffer
// record "signal fence at value V" before the submit that will actually signal it.
func (f *TimelineFence) Next() uint64 {
	return atomic.AddUint64(&f.next, 1)
}

// Signal advances the timeline from the host, used by CPU-side producers (e.g. marking a
// synchronous resource destroy complete) that never go through vkQueueSubmit.
func (f *TimelineFence) Signal(value uint64, log *componentLogger) {
	ret := vk.SignalSemaphore(f.device, &vk.SemaphoreSignalInfo{
		SType:     vk.StructureTypeSemaphoreSignalInfo,
		Semaphore: f.semaphore,
		Value:     value,
	})
	must(ret, log, "failed to signal timeline semaphore from host")
}

// Wait blocks the calling goroutine until the timeline reaches at least value.
func (f *TimelineFence) Wait(value uint64, log *componentLogger) {
	if f.GetCompletedValue() >= value {
		return
	}
	waitInfo := vk.SemaphoreWaitInfo{
		SType:          vk.StructureTypeSemaphoreWaitInfo,
		SemaphoreCount: 1,
		PSemaphores:    []vk.Semaphore{f.semaphore},
		PValues:        []uint64{value},
	}
	ret := vk.WaitSemaphores(f.device, &waitInfo, vk.MaxUint64)
	must(ret, log, "failed to wait on timeline semaphore")
}

// GetCompletedValue polls the current counter value. Per spec.md §8 invariant 8, this is
// non-decreasing across calls — true by construction since it is a direct driver query
// of a monotonic counter.
func (f *TimelineFence) GetCompletedValue() uint64 {
	var value uint64
	vk.GetSemaphoreCounterValue(f.device, f.semaphore, &value)
	return value
}

func (f *TimelineFence) Handle() vk.Semaphore { return f.semaphore }

func (f *TimelineFence) Destroy() {
	vk.DestroySemaphore(f.device, f.semaphore, nil)
}
