package graphicscore

import vk "github.com/vulkan-go/vulkan"

// ImageHandle and BufferHandle are (index, version) pairs naming a virtual frame-graph
// resource (glossary: "Handle"). Every pass write bumps version for the next reader,
// per spec.md §4.7.
type ImageHandle struct {
	index   uint32
	version uint32
}

type BufferHandle struct {
	index   uint32
	version uint32
}

// AccessType is the small tagged enum spec.md §4.7's resource-access table names.
type AccessType int

const (
	AccessUndefined AccessType = iota
	AccessTransferSrc
	AccessTransferDst
	AccessShaderResource
	AccessUAV
	AccessColorTarget
	AccessDepthRead
	AccessDepthWrite
	AccessIndirectArgument
	AccessPresent
)

// accessInfo maps an AccessType to the stage/access/layout triple the barrier batcher
// needs, the static table spec.md §4.4 describes ("the mapping is deterministic and
// covers every transition observable at the frame-graph layer").
type accessInfo struct {
	stage  vk.PipelineStageFlagBits
	access vk.AccessFlagBits
	layout vk.ImageLayout
}

var accessTable = map[AccessType]accessInfo{
	AccessUndefined:        {vk.PipelineStageTopOfPipeBit, 0, vk.ImageLayoutUndefined},
	AccessTransferSrc:      {vk.PipelineStageTransferBit, vk.AccessTransferReadBit, vk.ImageLayoutTransferSrcOptimal},
	AccessTransferDst:      {vk.PipelineStageTransferBit, vk.AccessTransferWriteBit, vk.ImageLayoutTransferDstOptimal},
	AccessShaderResource:   {vk.PipelineStageFragmentShaderBit, vk.AccessShaderReadBit, vk.ImageLayoutShaderReadOnlyOptimal},
	AccessUAV:              {vk.PipelineStageComputeShaderBit, vk.AccessShaderReadBit | vk.AccessShaderWriteBit, vk.ImageLayoutGeneral},
	AccessColorTarget:      {vk.PipelineStageColorAttachmentOutputBit, vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit, vk.ImageLayoutColorAttachmentOptimal},
	AccessDepthRead:        {vk.PipelineStageEarlyFragmentTestsBit, vk.AccessDepthStencilAttachmentReadBit, vk.ImageLayoutDepthStencilReadOnlyOptimal},
	AccessDepthWrite:       {vk.PipelineStageLateFragmentTestsBit, vk.AccessDepthStencilAttachmentWriteBit, vk.ImageLayoutDepthStencilAttachmentOptimal},
	AccessIndirectArgument: {vk.PipelineStageDrawIndirectBit, vk.AccessIndirectCommandReadBit, vk.ImageLayoutUndefined},
	AccessPresent:          {vk.PipelineStageBottomOfPipeBit, 0, vk.ImageLayoutPresentSrc},
}

type imageAccessRecord struct {
	pass   int
	access AccessType
}

// virtualImage tracks one frame-graph image resource across its transient lifetime:
// description, whether it is imported (externally owned, not allocated by the graph),
// and the physical backing assigned during Compile.
type virtualImage struct {
	name      string
	desc      TextureDesc
	rtDesc    RenderTargetDesc
	isRT      bool
	imported  bool
	external  *Resource
	physical  *Resource
	accesses  []imageAccessRecord
}

type bufferAccessRecord struct {
	pass   int
	access AccessType
}

type virtualBuffer struct {
	name     string
	desc     BufferDesc
	imported bool
	external *Resource
	physical *Resource
	accesses []bufferAccessRecord
}

// Pass is one node in the frame-graph DAG: a name, a record-callback, and (after
// building) the resource accesses it declared.
type Pass struct {
	name    string
	build   func(b *PassBuilder)
	record  func(ctx *FrameGraphContext)
}

// FrameGraph is the per-frame DAG of passes described in spec.md §4.7, the central
// component of the runtime. It is new relative to the teacher — grounded on
// original_source's Common/FrameGraph/FrameGraphResourcePool.cpp and
// Vulkan/FrameGraph/FrameGraphContext.h — shaped the way the teacher shapes its
// render-pass-per-frame recording in instance.go (one record callback per pass, driven
// from a small explicit per-frame struct).
type FrameGraph struct {
	device *Device
	pool   *FrameGraphResourcePool
	black  *Blackboard

	setupAlloc   *LinearAllocator
	executeAlloc *LinearAllocator

	passes  []*Pass
	images  []*virtualImage
	buffers []*virtualBuffer

	log *componentLogger
}

func NewFrameGraph(device *Device, pool *FrameGraphResourcePool, log *componentLogger) *FrameGraph {
	return &FrameGraph{
		device:       device,
		pool:         pool,
		black:        newBlackboard(),
		setupAlloc:   NewLinearAllocator(16 * 1024),
		executeAlloc: NewLinearAllocator(16 * 1024),
		log:          log,
	}
}

func (g *FrameGraph) Blackboard() *Blackboard { return g.black }

// AddPass registers a pass with its builder callback (run during Build) and its record
// callback (run during Execute).
func (g *FrameGraph) AddPass(name string, build func(b *PassBuilder), record func(ctx *FrameGraphContext)) {
	g.passes = append(g.passes, &Pass{name: name, build: build, record: record})
}

// PrepareSetup starts a new frame's setup (spec.md §4.7): it resets the setup allocator,
// the resource pool and the blackboard, and clears the registered passes and virtual
// images/buffers. It runs no builders; Build does that.
func (g *FrameGraph) PrepareSetup() {
	g.setupAlloc.Reset()
	g.pool.Reset()
	g.black.reset()
	g.passes = g.passes[:0]
	g.images = g.images[:0]
	g.buffers = g.buffers[:0]
}

// Build runs the pass list's build callbacks. Passes must already be registered via
// AddPass; Build is a distinct step from PrepareSetup so callers can register every pass
// before any builder runs (a pass may read a handle a later-registered pass writes to
// only via ImportExternal, never forward-reference another pass's transient output).
func (g *FrameGraph) Build() {
	for i, p := range g.passes {
		b := &PassBuilder{graph: g, passIndex: i}
		p.build(b)
	}
}

// Compile requests physical resources for every virtual image/buffer from the
// FrameGraphResourcePool (spec.md §4.7: "physical resources are requested from
// FrameGraphResourcePool, which maps descHash -> Resource* and recycles across frames").
func (g *FrameGraph) Compile() {
	for _, img := range g.images {
		if img.imported {
			img.physical = img.external
			continue
		}
		if img.isRT {
			img.physical = g.pool.RequestRenderTarget(img.rtDesc)
		} else {
			img.physical = g.pool.RequestTexture(img.desc)
		}
	}
	for _, buf := range g.buffers {
		if buf.imported {
			buf.physical = buf.external
			continue
		}
		buf.physical = g.pool.RequestBuffer(buf.desc)
	}
}

// Execute runs every pass's record callback with a FrameGraphContext, inserting the
// exact barrier transitions computed from each resource's access history between
// producer and consumer (spec.md §4.7). cmd is the graphics command buffer the whole
// batch of passes records into.
func (g *FrameGraph) Execute(cmd *CommandBuffer, bindless *BindlessTable) {
	g.executeAlloc.Reset()
	for passIndex, p := range g.passes {
		g.insertBarriersForPass(cmd, passIndex)
		cmd.Barrier().Flush(cmd.Handle())
		ctx := &FrameGraphContext{
			graph:    g,
			cmd:      cmd,
			bindless: bindless,
			alloc:    g.executeAlloc,
		}
		p.record(ctx)
		ctx.endRenderingIfActive()
	}
}

// insertBarriersForPass computes, for every resource this pass accesses, the transition
// from its previous access in program order to this pass's access, and submits it to the
// command buffer's barrier batcher (spec.md §4.7's "Barrier insertion").
func (g *FrameGraph) insertBarriersForPass(cmd *CommandBuffer, passIndex int) {
	for _, img := range g.images {
		prev := AccessUndefined
		for _, rec := range img.accesses {
			if rec.pass == passIndex {
				transitionImage(cmd.Barrier(), img.physical, prev, rec.access)
			}
			if rec.pass <= passIndex {
				prev = rec.access
			}
		}
	}
	for _, buf := range g.buffers {
		prev := AccessUndefined
		for _, rec := range buf.accesses {
			if rec.pass == passIndex {
				transitionBuffer(cmd.Barrier(), buf.physical, prev, rec.access)
			}
			if rec.pass <= passIndex {
				prev = rec.access
			}
		}
	}
}

func transitionImage(batcher *ResourceBarrierBatcher, r *Resource, from, to AccessType) {
	if r == nil || from == to {
		return
	}
	src := accessTable[from]
	dst := accessTable[to]
	batcher.AddImage(ImageBarrierDesc{
		Image:     r.Image,
		SrcAccess: src.access,
		DstAccess: dst.access,
		SrcStage:  src.stage,
		DstStage:  dst.stage,
		OldLayout: src.layout,
		NewLayout: dst.layout,
	})
}

func transitionBuffer(batcher *ResourceBarrierBatcher, r *Resource, from, to AccessType) {
	if r == nil || from == to {
		return
	}
	src := accessTable[from]
	dst := accessTable[to]
	batcher.AddBuffer(BufferBarrierDesc{
		Buffer:    r.Buffer,
		SrcAccess: src.access,
		DstAccess: dst.access,
		SrcStage:  src.stage,
		DstStage:  dst.stage,
	})
}

// PassBuilder is handed to each pass's build callback during FrameGraph.Build, exposing
// CreateTransientImage/Buffer, Read, Write, and ImportExternal per spec.md §4.7.
type PassBuilder struct {
	graph     *FrameGraph
	passIndex int
}

func (b *PassBuilder) CreateTransientImage(desc TextureDesc) ImageHandle {
	idx := uint32(len(b.graph.images))
	b.graph.images = append(b.graph.images, &virtualImage{name: desc.Name, desc: desc})
	return ImageHandle{index: idx, version: 0}
}

func (b *PassBuilder) CreateTransientRenderTarget(desc RenderTargetDesc) ImageHandle {
	idx := uint32(len(b.graph.images))
	b.graph.images = append(b.graph.images, &virtualImage{name: desc.Name, rtDesc: desc, isRT: true})
	return ImageHandle{index: idx, version: 0}
}

func (b *PassBuilder) CreateTransientBuffer(desc BufferDesc) BufferHandle {
	idx := uint32(len(b.graph.buffers))
	b.graph.buffers = append(b.graph.buffers, &virtualBuffer{name: desc.Name, desc: desc})
	return BufferHandle{index: idx, version: 0}
}

// ImportExternalImage lets a persistent resource (the swapchain render target) enter the
// graph; it is not allocated by the graph (spec.md §4.7).
func (b *PassBuilder) ImportExternalImage(r *Resource) ImageHandle {
	idx := uint32(len(b.graph.images))
	b.graph.images = append(b.graph.images, &virtualImage{name: r.Name, imported: true, external: r})
	return ImageHandle{index: idx, version: 0}
}

func (b *PassBuilder) ImportExternalBuffer(r *Resource) BufferHandle {
	idx := uint32(len(b.graph.buffers))
	b.graph.buffers = append(b.graph.buffers, &virtualBuffer{name: r.Name, imported: true, external: r})
	return BufferHandle{index: idx, version: 0}
}

// ReadImage records a read access against h and returns it unchanged: reads never bump
// version.
func (b *PassBuilder) ReadImage(h ImageHandle, access AccessType) ImageHandle {
	img := b.graph.images[h.index]
	img.accesses = append(img.accesses, imageAccessRecord{pass: b.passIndex, access: access})
	return h
}

// WriteImage records a write access and returns a new handle with version+1 for the next
// reader, per spec.md §4.7's versioning rule (property 5: a read of the returned handle
// is necessarily scheduled after this write since the record log is in pass order).
func (b *PassBuilder) WriteImage(h ImageHandle, access AccessType) ImageHandle {
	img := b.graph.images[h.index]
	img.accesses = append(img.accesses, imageAccessRecord{pass: b.passIndex, access: access})
	return ImageHandle{index: h.index, version: h.version + 1}
}

func (b *PassBuilder) ReadBuffer(h BufferHandle, access AccessType) BufferHandle {
	buf := b.graph.buffers[h.index]
	buf.accesses = append(buf.accesses, bufferAccessRecord{pass: b.passIndex, access: access})
	return h
}

func (b *PassBuilder) WriteBuffer(h BufferHandle, access AccessType) BufferHandle {
	buf := b.graph.buffers[h.index]
	buf.accesses = append(buf.accesses, bufferAccessRecord{pass: b.passIndex, access: access})
	return BufferHandle{index: h.index, version: h.version + 1}
}

func (g *FrameGraph) resolveImage(h ImageHandle) *Resource {
	return g.images[h.index].physical
}

func (g *FrameGraph) resolveBuffer(h BufferHandle) *Resource {
	return g.buffers[h.index].physical
}
