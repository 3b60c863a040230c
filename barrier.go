package graphicscore

import vk "github.com/vulkan-go/vulkan"

// QueueKindFlags marks which queue kinds a barrier crosses, mirroring the original
// engine's Core::HardwareQueueKindFlags bitfield
// (ResourceBarrierBatcher.h: BufferBarrierDesc/ImageBarrierDesc).
type QueueKindFlags uint32

const (
	QueueKindNone     QueueKindFlags = 0
	QueueKindGraphics QueueKindFlags = 1 << (iota - 1)
	QueueKindCompute
	QueueKindTransfer
)

// BufferBarrierDesc describes one pending buffer barrier. Two descriptors that hash
// equal are coalesced by AddBuffer so a pass that touches the same buffer from several
// draw calls in a row emits one vkCmdPipelineBarrier entry instead of one per call.
type BufferBarrierDesc struct {
	Buffer        vk.Buffer
	SrcAccess     vk.AccessFlagBits
	DstAccess     vk.AccessFlagBits
	SrcStage      vk.PipelineStageFlagBits
	DstStage      vk.PipelineStageFlagBits
	SrcQueueKind  QueueKindFlags
	DstQueueKind  QueueKindFlags
	Offset        vk.DeviceSize
	Size          vk.DeviceSize
}

func (d BufferBarrierDesc) hash() uint64 {
	h := fnv1a(uint64(d.Buffer))
	h = fnv1aMix(h, uint64(d.SrcAccess)|uint64(d.DstAccess)<<32)
	h = fnv1aMix(h, uint64(d.SrcStage)|uint64(d.DstStage)<<32)
	h = fnv1aMix(h, uint64(d.SrcQueueKind)|uint64(d.DstQueueKind)<<32)
	h = fnv1aMix(h, uint64(d.Offset))
	h = fnv1aMix(h, uint64(d.Size))
	return h
}

// ImageBarrierDesc describes one pending image layout transition.
type ImageBarrierDesc struct {
	Image        vk.Image
	SrcAccess    vk.AccessFlagBits
	DstAccess    vk.AccessFlagBits
	SrcStage     vk.PipelineStageFlagBits
	DstStage     vk.PipelineStageFlagBits
	OldLayout    vk.ImageLayout
	NewLayout    vk.ImageLayout
	AspectMask   vk.ImageAspectFlagBits
	SrcQueueKind QueueKindFlags
	DstQueueKind QueueKindFlags
}

func (d ImageBarrierDesc) hash() uint64 {
	h := fnv1a(uint64(d.Image))
	h = fnv1aMix(h, uint64(d.SrcAccess)|uint64(d.DstAccess)<<32)
	h = fnv1aMix(h, uint64(d.SrcStage)|uint64(d.DstStage)<<32)
	h = fnv1aMix(h, uint64(d.OldLayout)|uint64(d.NewLayout)<<32)
	h = fnv1aMix(h, uint64(d.AspectMask))
	h = fnv1aMix(h, uint64(d.SrcQueueKind)|uint64(d.DstQueueKind)<<32)
	return h
}

func fnv1a(v uint64) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for i := 0; i < 8; i++ {
		h ^= (v >> (8 * i)) & 0xff
		h *= prime
	}
	return h
}

func fnv1aMix(h, v uint64) uint64 {
	const prime = 1099511628211
	for i := 0; i < 8; i++ {
		h ^= (v >> (8 * i)) & 0xff
		h *= prime
	}
	return h
}

// ResourceBarrierBatcher accumulates AddBuffer/AddImage calls for the lifetime of one command
// buffer recording and coalesces duplicate descriptors, grounded on the original engine's
// ResourceBarrierBatcher (Graphics/Core/Vulkan/ResourceBarrierBatcher.h): AddBarrier hashes
// the descriptor and keeps one entry per distinct hash, Flush emits them as one batched
// vkCmdPipelineBarrier. Reset is this package's addition, since CommandBuffer.Begin reuses
// the batcher across recordings rather than constructing a fresh one per frame.
type ResourceBarrierBatcher struct {
	bufferBarriers map[uint64]BufferBarrierDesc
	imageBarriers  map[uint64]ImageBarrierDesc
	log            *componentLogger
}

func NewResourceBarrierBatcher(log *componentLogger) *ResourceBarrierBatcher {
	return &ResourceBarrierBatcher{
		bufferBarriers: map[uint64]BufferBarrierDesc{},
		imageBarriers:  map[uint64]ImageBarrierDesc{},
		log:            log,
	}
}

func (b *ResourceBarrierBatcher) AddBuffer(desc BufferBarrierDesc) {
	b.bufferBarriers[desc.hash()] = desc
}

func (b *ResourceBarrierBatcher) AddImage(desc ImageBarrierDesc) {
	b.imageBarriers[desc.hash()] = desc
}

func (b *ResourceBarrierBatcher) Pending() int {
	return len(b.bufferBarriers) + len(b.imageBarriers)
}

func (b *ResourceBarrierBatcher) Reset() {
	for k := range b.bufferBarriers {
		delete(b.bufferBarriers, k)
	}
	for k := range b.imageBarriers {
		delete(b.imageBarriers, k)
	}
}

// Flush records every pending barrier as a single vkCmdPipelineBarrier call and clears
// the batcher. Called once by CommandBuffer.End and by FrameGraph.Execute at the start of
// every pass, after the pass's transitions are added and before its record callback runs.
func (b *ResourceBarrierBatcher) Flush(cmd vk.CommandBuffer) {
	if b.Pending() == 0 {
		return
	}

	var srcStage, dstStage vk.PipelineStageFlags
	bufferMemoryBarriers := make([]vk.BufferMemoryBarrier, 0, len(b.bufferBarriers))
	for _, d := range b.bufferBarriers {
		srcStage |= vk.PipelineStageFlags(d.SrcStage)
		dstStage |= vk.PipelineStageFlags(d.DstStage)
		size := d.Size
		if size == 0 {
			size = vk.DeviceSize(vk.WholeSize)
		}
		bufferMemoryBarriers = append(bufferMemoryBarriers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(d.SrcAccess),
			DstAccessMask:       vk.AccessFlags(d.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              d.Buffer,
			Offset:              d.Offset,
			Size:                size,
		})
	}

	imageMemoryBarriers := make([]vk.ImageMemoryBarrier, 0, len(b.imageBarriers))
	for _, d := range b.imageBarriers {
		srcStage |= vk.PipelineStageFlags(d.SrcStage)
		dstStage |= vk.PipelineStageFlags(d.DstStage)
		aspect := d.AspectMask
		if aspect == 0 {
			aspect = vk.ImageAspectColorBit
		}
		imageMemoryBarriers = append(imageMemoryBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(d.SrcAccess),
			DstAccessMask:       vk.AccessFlags(d.DstAccess),
			OldLayout:           d.OldLayout,
			NewLayout:           d.NewLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               d.Image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(aspect),
				BaseMipLevel:   0,
				LevelCount:     vk.RemainingMipLevels,
				BaseArrayLayer: 0,
				LayerCount:     vk.RemainingArrayLayers,
			},
		})
	}

	if srcStage == 0 {
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	if dstStage == 0 {
		dstStage = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}

	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0,
		0, nil,
		uint32(len(bufferMemoryBarriers)), bufferMemoryBarriers,
		uint32(len(imageMemoryBarriers)), imageMemoryBarriers,
	)

	b.log.Debug().Int("buffers", len(bufferMemoryBarriers)).Int("images", len(imageMemoryBarriers)).Msg("flushed barrier batch")
	b.Reset()
}
