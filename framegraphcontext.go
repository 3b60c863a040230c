package graphicscore

import vk "github.com/vulkan-go/vulkan"

// LoadOp/StoreOp mirror VkAttachmentLoadOp/VkAttachmentStoreOp at the frame-graph layer,
// generalizing the original engine's RenderTargetLoadOperations/StoreOperations
// (Common/FrameGraph/FrameGraphContext.h).
type LoadOp int

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type StoreOp int

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

func (o LoadOp) vk() vk.AttachmentLoadOp {
	switch o {
	case LoadOpClear:
		return vk.AttachmentLoadOpClear
	case LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	default:
		return vk.AttachmentLoadOpLoad
	}
}

func (o StoreOp) vk() vk.AttachmentStoreOp {
	if o == StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

// ClearColor is a 4-component clear value; ClearDepth/ClearStencil are used when the
// bound handle is the depth-stencil attachment.
type ClearColor struct {
	R, G, B, A float32
}

// stateFlags mirrors the original's PipelineStateFlags dirty-tracking bitmask
// (Common/FrameGraph/FrameGraphContext.h): SetRenderTargets/SetViewportAndScissor mark
// state dirty, and the next Draw/DrawIndexed/DispatchMesh flushes it: dirty render
// targets (re)begin dynamic rendering and a dirty viewport/scissor is re-recorded before
// the draw. Dispatch flushes neither; it only ends an active rendering scope.
type stateFlags uint32

const (
	stateNone            stateFlags = 0
	stateRenderTargets   stateFlags = 1 << 0
	stateViewportScissor stateFlags = 1 << 1
)

// FrameGraphContext is the per-pass recording handle a Pass's record callback receives,
// generalizing the original engine's Vulkan::FrameGraphContext
// (Vulkan/FrameGraph/FrameGraphContext.h) and its Common base
// (Common/FrameGraph/FrameGraphContext.h): render targets and viewport/scissor are
// buffered and only flushed into vkCmdBeginRendering lazily, on the first draw that
// needs them, so a pass that sets state once and issues many draws pays for
// one begin/end pair.
type FrameGraphContext struct {
	graph    *FrameGraph
	cmd      *CommandBuffer
	bindless *BindlessTable
	alloc    *LinearAllocator

	colorTargets []ImageHandle
	depthTarget  ImageHandle
	hasDepth     bool

	loadOps  map[int]LoadOp
	storeOps map[int]StoreOp
	clears   map[int]ClearColor

	viewport vk.Viewport
	scissor  vk.Rect2D

	dirty          stateFlags
	renderingActive bool

	boundGraphicsLayout vk.PipelineLayout
	boundComputeLayout  vk.PipelineLayout
}

// SetRenderTargets declares the color attachments (and optional depth-stencil) the
// following draws target. Handles must have been produced by PassBuilder.WriteImage for
// this pass (spec.md §4.7).
func (c *FrameGraphContext) SetRenderTargets(colors []ImageHandle, depthStencil ImageHandle, hasDepthStencil bool) {
	c.endRenderingIfActive()
	c.colorTargets = append(c.colorTargets[:0], colors...)
	c.depthTarget = depthStencil
	c.hasDepth = hasDepthStencil
	c.dirty |= stateRenderTargets
}

func (c *FrameGraphContext) SetRenderTargetLoadOperations(index int, op LoadOp, clear ClearColor) {
	if c.loadOps == nil {
		c.loadOps = map[int]LoadOp{}
		c.clears = map[int]ClearColor{}
	}
	c.loadOps[index] = op
	c.clears[index] = clear
}

func (c *FrameGraphContext) SetRenderTargetStoreOperations(index int, op StoreOp) {
	if c.storeOps == nil {
		c.storeOps = map[int]StoreOp{}
	}
	c.storeOps[index] = op
}

// SetViewportAndScissor sets the dynamic viewport/scissor state every graphics pipeline
// in this runtime declares as dynamic (spec.md §4.6).
func (c *FrameGraphContext) SetViewportAndScissor(viewport vk.Viewport, scissor vk.Rect2D) {
	c.viewport = viewport
	c.scissor = scissor
	c.dirty |= stateViewportScissor
}

// SetRootConstants pushes data as the bound pipeline's push-constant block, the "small
// blob (<=128B)" the glossary's Root constants entry names.
func (c *FrameGraphContext) SetRootConstants(layout vk.PipelineLayout, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(c.cmd.Handle(), layout, vk.ShaderStageFlags(vk.ShaderStageAllBit), 0, uint32(len(data)), unsafeByteSlicePointer(data))
}

// Draw binds pipeline and the bindless descriptor set, flushes any dirty render-target or
// viewport/scissor state into vkCmdBeginRendering, and issues one vkCmdDraw.
func (c *FrameGraphContext) Draw(pipeline *GraphicsPipeline, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if pipeline.CompilationFailed {
		c.graph.log.Warn().Msg("skipping draw: pipeline compilation failed")
		return
	}
	c.flushGraphicsState(pipeline)
	vk.CmdDraw(c.cmd.Handle(), vertexCount, instanceCount, firstVertex, firstInstance)
}

// DrawIndexed mirrors Draw for indexed geometry, used by the geometry pool's regular
// (non-meshlet) draw path (spec.md §4.9).
func (c *FrameGraphContext) DrawIndexed(pipeline *GraphicsPipeline, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if pipeline.CompilationFailed {
		c.graph.log.Warn().Msg("skipping draw: pipeline compilation failed")
		return
	}
	c.flushGraphicsState(pipeline)
	vk.CmdDrawIndexed(c.cmd.Handle(), indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

// DispatchMesh records an indirect multi-draw over a meshlet's GPU-built argument buffer
// (spec.md §4.9's meshlet path). This runtime's device extension set (extensions.go)
// enables descriptor indexing and dynamic rendering but not mesh shading, so meshlet
// dispatch is realized the way engines without mesh-shader hardware do it: a compute pass
// earlier in the graph culls meshlets into an indirect-draw argument buffer, and this
// issues one vkCmdDrawIndexedIndirect over it rather than vkCmdDrawMeshTasks.
func (c *FrameGraphContext) DispatchMesh(pipeline *GraphicsPipeline, argBuffer BufferHandle, argOffset vk.DeviceSize, drawCount uint32, stride uint32) {
	if pipeline.CompilationFailed {
		c.graph.log.Warn().Msg("skipping dispatch-mesh: pipeline compilation failed")
		return
	}
	c.flushGraphicsState(pipeline)
	r := c.graph.resolveBuffer(argBuffer)
	vk.CmdDrawIndexedIndirect(c.cmd.Handle(), r.Buffer, argOffset, drawCount, stride)
}

// Dispatch binds a compute pipeline and issues vkCmdDispatch. Compute passes never touch
// render-target/viewport state, so there is nothing to flush beyond the barrier batch the
// frame graph already inserted before this pass ran.
func (c *FrameGraphContext) Dispatch(pipeline *ComputePipeline, groupCountX, groupCountY, groupCountZ uint32) {
	if pipeline.CompilationFailed {
		c.graph.log.Warn().Msg("skipping dispatch: pipeline compilation failed")
		return
	}
	c.endRenderingIfActive()
	vk.CmdBindPipeline(c.cmd.Handle(), vk.PipelineBindPointCompute, pipeline.Handle())
	set := c.bindless.DescriptorSet()
	vk.CmdBindDescriptorSets(c.cmd.Handle(), vk.PipelineBindPointCompute, c.boundComputeLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	vk.CmdDispatch(c.cmd.Handle(), groupCountX, groupCountY, groupCountZ)
}

// EnqueueFenceToWait/EnqueueFenceToSignal forward to the underlying command buffer,
// letting a pass declare a cross-queue dependency (e.g. waiting on the async-copy
// queue's upload fence) without reaching past the context (spec.md §4.7).
func (c *FrameGraphContext) EnqueueFenceToWait(sp SyncPoint, stage vk.PipelineStageFlagBits) {
	c.cmd.EnqueueFenceToWait(sp, stage)
}

func (c *FrameGraphContext) EnqueueFenceToSignal() SyncPoint {
	return c.cmd.EnqueueFenceToSignal()
}

func (c *FrameGraphContext) flushGraphicsState(pipeline *GraphicsPipeline) {
	if c.dirty&stateRenderTargets != 0 || !c.renderingActive {
		c.beginRendering()
	}
	vk.CmdBindPipeline(c.cmd.Handle(), vk.PipelineBindPointGraphics, pipeline.Handle())
	c.boundGraphicsLayout = pipeline.Layout()
	set := c.bindless.DescriptorSet()
	vk.CmdBindDescriptorSets(c.cmd.Handle(), vk.PipelineBindPointGraphics, pipeline.Layout(), 0, 1, []vk.DescriptorSet{set}, 0, nil)
	if c.dirty&stateViewportScissor != 0 {
		vk.CmdSetViewport(c.cmd.Handle(), 0, 1, []vk.Viewport{c.viewport})
		vk.CmdSetScissor(c.cmd.Handle(), 0, 1, []vk.Rect2D{c.scissor})
		c.dirty &^= stateViewportScissor
	}
}

// beginRendering issues vkCmdBeginRendering over the currently-set color/depth targets,
// resolving each target's VkImageView through its Resource and applying whatever load op
// SetRenderTargetLoadOperations configured for that slot (default: load).
func (c *FrameGraphContext) beginRendering() {
	c.endRenderingIfActive()

	colorAttachments := make([]vk.RenderingAttachmentInfo, len(c.colorTargets))
	for i, h := range c.colorTargets {
		r := c.graph.resolveImage(h)
		load := LoadOpLoad
		clear := ClearColor{}
		store := StoreOpStore
		if op, ok := c.loadOps[i]; ok {
			load = op
			clear = c.clears[i]
		}
		if op, ok := c.storeOps[i]; ok {
			store = op
		}
		colorAttachments[i] = vk.RenderingAttachmentInfo{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   r.WholeView(),
			ImageLayout: vk.ImageLayoutColorAttachmentOptimal,
			LoadOp:      load.vk(),
			StoreOp:     store.vk(),
			ClearValue: vk.NewClearValue([]float32{clear.R, clear.G, clear.B, clear.A}),
		}
	}

	renderingInfo := vk.RenderingInfo{
		SType:                vk.StructureTypeRenderingInfo,
		RenderArea:           c.scissor,
		LayerCount:           1,
		ColorAttachmentCount: uint32(len(colorAttachments)),
		PColorAttachments:    colorAttachments,
	}
	if c.hasDepth {
		r := c.graph.resolveImage(c.depthTarget)
		depthAttachment := vk.RenderingAttachmentInfo{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   r.WholeView(),
			ImageLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			LoadOp:      vk.AttachmentLoadOpLoad,
			StoreOp:     vk.AttachmentStoreOpStore,
		}
		renderingInfo.PDepthAttachment = &depthAttachment
	}

	vk.CmdBeginRendering(c.cmd.Handle(), &renderingInfo)
	c.renderingActive = true
	c.dirty &^= stateRenderTargets
}

// endRenderingIfActive closes out a vkCmdBeginRendering scope before a new one starts, or
// at the end of the pass's record callback (FrameGraph.Execute calls this after every
// pass).
func (c *FrameGraphContext) endRenderingIfActive() {
	if c.renderingActive {
		vk.CmdEndRendering(c.cmd.Handle())
		c.renderingActive = false
	}
}
