package graphicscore

import vk "github.com/vulkan-go/vulkan"

// cbState is the two-state lifecycle spec.md §3 assigns a CommandBuffer: "either
// recording or submitted-in-flight."
type cbState int

const (
	cbRecording cbState = iota
	cbInFlight
)

// CommandBuffer owns a native primary buffer, its queue, a per-buffer LinearAllocator,
// and the four segmented wait/signal lists spec.md §3 and §4.4 describe. Re-recording
// requires Begin, which resets the allocator and — since submissions are tracked by
// timeline value rather than a binary vk.Fence — waits on the queue's TimelineFence for
// the value this buffer's previous submission signaled.
type CommandBuffer struct {
	device  vk.Device
	queue   *CommandQueue
	handle  vk.CommandBuffer
	state   cbState
	scratch *LinearAllocator
	barrier *ResourceBarrierBatcher

	waitPoints   []SyncPoint
	signalPoints []SyncPoint
	waitBinary   []vk.Semaphore
	waitStages   []vk.PipelineStageFlags
	signalBinary []vk.Semaphore

	lastSubmit uint64
	log        *componentLogger
}

// NewCommandBuffer allocates a primary-level buffer from the queue's per-worker pool.
func NewCommandBuffer(device vk.Device, queue *CommandQueue, worker uint32, log *componentLogger) *CommandBuffer {
	pool := queue.PoolFor(worker)
	handle := pool.allocate(device, vk.CommandBufferLevelPrimary, log)
	return &CommandBuffer{
		device:  device,
		queue:   queue,
		handle:  handle,
		scratch: NewLinearAllocator(4096),
		barrier: NewResourceBarrierBatcher(log),
		log:     log,
	}
}

// Begin resets the buffer for a fresh recording. The caller must ensure the buffer's
// prior submission has retired; Begin enforces that itself by waiting on the queue's
// timeline fence for lastSubmit, which is a no-op once that value has already elapsed.
func (cb *CommandBuffer) Begin() {
	if cb.lastSubmit > 0 {
		cb.queue.fence.Wait(cb.lastSubmit, cb.log)
	}
	cb.scratch.Reset()
	cb.barrier.Reset()
	cb.waitPoints = cb.waitPoints[:0]
	cb.signalPoints = cb.signalPoints[:0]
	cb.waitBinary = cb.waitBinary[:0]
	cb.waitStages = cb.waitStages[:0]
	cb.signalBinary = cb.signalBinary[:0]

	ret := vk.ResetCommandBuffer(cb.handle, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))
	must(ret, cb.log, "failed to reset command buffer")
	ret = vk.BeginCommandBuffer(cb.handle, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	must(ret, cb.log, "failed to begin command buffer")
	cb.state = cbRecording
}

func (cb *CommandBuffer) Handle() vk.CommandBuffer { return cb.handle }

func (cb *CommandBuffer) Barrier() *ResourceBarrierBatcher { return cb.barrier }

func (cb *CommandBuffer) Scratch() *LinearAllocator { return cb.scratch }

// EnqueueFenceToWait records a cross-queue or CPU dependency this submission must wait
// for before executing (spec.md §4.7's "EnqueueFenceToWait").
func (cb *CommandBuffer) EnqueueFenceToWait(sp SyncPoint, stage vk.PipelineStageFlagBits) {
	cb.waitPoints = append(cb.waitPoints, sp)
	cb.waitBinary = append(cb.waitBinary, vk.NullSemaphore)
	cb.waitStages = append(cb.waitStages, vk.PipelineStageFlags(stage))
}

// EnqueueFenceToSignal records a value this submission must signal once the GPU retires
// it, handed back to the caller as the SyncPoint consumers should wait on.
func (cb *CommandBuffer) EnqueueFenceToSignal() SyncPoint {
	sp := SyncPoint{Fence: cb.queue.fence, Value: cb.queue.fence.Next()}
	cb.signalPoints = append(cb.signalPoints, sp)
	return sp
}

// WaitBinarySemaphore and SignalBinarySemaphore are used only for swapchain
// acquire/present per spec.md §4.3 ("Binary semaphores are used only for swapchain
// acquire/present because vkAcquireNextImageKHR and vkQueuePresentKHR demand them").
func (cb *CommandBuffer) WaitBinarySemaphore(sem vk.Semaphore, stage vk.PipelineStageFlagBits) {
	cb.waitBinary = append(cb.waitBinary, sem)
	cb.waitStages = append(cb.waitStages, vk.PipelineStageFlags(stage))
}

func (cb *CommandBuffer) SignalBinarySemaphore(sem vk.Semaphore) {
	cb.signalBinary = append(cb.signalBinary, sem)
}

// End flushes any pending barriers and closes recording.
func (cb *CommandBuffer) End() {
	cb.barrier.Flush(cb.handle)
	ret := vk.EndCommandBuffer(cb.handle)
	must(ret, cb.log, "failed to end command buffer")
}

// Submit issues one vkQueueSubmit combining the timeline wait/signal points with any
// binary present/acquire semaphores, per spec.md §4.4's three-step submit contract.
// Vulkan requires the wait/signal *values* arrays to be the same length as the
// corresponding semaphore arrays even when some entries are binary semaphores, so those
// slots carry 0 and are ignored by the driver.
func (cb *CommandBuffer) Submit() {
	waitSemaphores := make([]vk.Semaphore, 0, len(cb.waitPoints)+len(cb.waitBinary))
	waitValues := make([]uint64, 0, cap(waitSemaphores))
	for _, sp := range cb.waitPoints {
		waitSemaphores = append(waitSemaphores, sp.Fence.Handle())
		waitValues = append(waitValues, sp.Value)
	}
	waitStages := append([]vk.PipelineStageFlags{}, cb.waitStages...)
	for _, sem := range cb.waitBinary {
		if sem == vk.NullSemaphore {
			continue
		}
		waitSemaphores = append(waitSemaphores, sem)
		waitValues = append(waitValues, 0)
	}

	signalSemaphores := make([]vk.Semaphore, 0, len(cb.signalPoints)+len(cb.signalBinary))
	signalValues := make([]uint64, 0, cap(signalSemaphores))
	for _, sp := range cb.signalPoints {
		signalSemaphores = append(signalSemaphores, sp.Fence.Handle())
		signalValues = append(signalValues, sp.Value)
	}
	for _, sem := range cb.signalBinary {
		signalSemaphores = append(signalSemaphores, sem)
		signalValues = append(signalValues, 0)
	}

	timelineInfo := vk.TimelineSemaphoreSubmitInfo{
		SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
		WaitSemaphoreValueCount:   uint32(len(waitValues)),
		PWaitSemaphoreValues:      waitValues,
		SignalSemaphoreValueCount: uint32(len(signalValues)),
		PSignalSemaphoreValues:    signalValues,
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		PNext:                unsafePointer(&timelineInfo),
		WaitSemaphoreCount:   uint32(len(waitSemaphores)),
		PWaitSemaphores:      waitSemaphores,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.handle},
		SignalSemaphoreCount: uint32(len(signalSemaphores)),
		PSignalSemaphores:    signalSemaphores,
	}

	ret := vk.QueueSubmit(cb.queue.handle, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence)
	must(ret, cb.log, "failed to submit command buffer")

	if len(cb.signalPoints) > 0 {
		cb.lastSubmit = cb.signalPoints[len(cb.signalPoints)-1].Value
	}
	cb.state = cbInFlight
}
