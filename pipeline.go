package graphicscore

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/sync/errgroup"
)

// GraphicsPipelineDesc carries the per-pipeline fixed-function state spec.md §4.6 feeds
// into vertex input / input-assembly / rasterization / depth-stencil / blend / viewport
// construction, generalizing the teacher's PipelineBuilder (pipeline.go) defaults.
type GraphicsPipelineDesc struct {
	VertexShader   *ShaderModule
	FragmentShader *ShaderModule
	ColorFormats   []vk.Format
	DepthFormat    vk.Format
	Topology       vk.PrimitiveTopology
	CullMode       vk.CullModeFlagBits
	FrontFace      vk.FrontFace
	DepthTestEnable  bool
	DepthWriteEnable bool
	BlendEnable      bool
}

// GraphicsPipelineRequest is hashed to a 64-bit key per spec.md §4.6: the pipeline desc
// plus spec-constants and defines. Two equal requests resolve to the same pipeline.
type GraphicsPipelineRequest struct {
	Desc             GraphicsPipelineDesc
	Defines          string
	SpecConstants    []uint32
}

func (r GraphicsPipelineRequest) hash() uint64 {
	h := fnv1a(uint64(r.Desc.Topology))
	h = fnv1aMix(h, uint64(r.Desc.CullMode)|uint64(r.Desc.FrontFace)<<8)
	h = fnv1aMix(h, boolToU64(r.Desc.DepthTestEnable)|boolToU64(r.Desc.DepthWriteEnable)<<1|boolToU64(r.Desc.BlendEnable)<<2)
	for _, f := range r.Desc.ColorFormats {
		h = fnv1aMix(h, uint64(f))
	}
	h = fnv1aMix(h, uint64(r.Desc.DepthFormat))
	for _, c := range []byte(r.Defines) {
		h = fnv1aMix(h, uint64(c))
	}
	for _, s := range r.SpecConstants {
		h = fnv1aMix(h, uint64(s))
	}
	if r.Desc.VertexShader != nil {
		h = fnv1aMix(h, hashString(r.Desc.VertexShader.Name))
	}
	if r.Desc.FragmentShader != nil {
		h = fnv1aMix(h, hashString(r.Desc.FragmentShader.Name))
	}
	return h
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func hashString(s string) uint64 {
	h := fnv1a(uint64(len(s)))
	for _, c := range []byte(s) {
		h = fnv1aMix(h, uint64(c))
	}
	return h
}

// GraphicsPipeline is allocated by CreateGraphicsPipeline and inserted into the factory's key map
// before its build job runs; Completion signals when the VkPipeline is ready or
// compilation has failed (spec.md §4.6, §7).
type GraphicsPipeline struct {
	Request    GraphicsPipelineRequest
	handle     vk.Pipeline
	layout     vk.PipelineLayout
	Completion *CompletionGroup
	CompilationFailed bool
}

func (p *GraphicsPipeline) Handle() vk.Pipeline       { return p.handle }
func (p *GraphicsPipeline) Layout() vk.PipelineLayout { return p.layout }

// ComputePipelineRequest/ComputePipeline mirror the graphics path but with a single
// shader stage, per spec.md §4.6 ("ComputePipeline is identical but simpler").
type ComputePipelineRequest struct {
	Shader        *ShaderModule
	Defines       string
	SpecConstants []uint32
}

func (r ComputePipelineRequest) hash() uint64 {
	h := uint64(0)
	if r.Shader != nil {
		h = hashString(r.Shader.Name)
	}
	h = fnv1aMix(h, hashString(r.Defines))
	for _, s := range r.SpecConstants {
		h = fnv1aMix(h, uint64(s))
	}
	return h
}

type ComputePipeline struct {
	Request           ComputePipelineRequest
	handle            vk.Pipeline
	Completion        *CompletionGroup
	CompilationFailed bool
}

func (p *ComputePipeline) Handle() vk.Pipeline { return p.handle }

// PipelineFactory implements spec.md §4.6: async graphics/compute pipeline compilation
// keyed by a permutation/specialization hash, sharing one VkPipelineCache, generalizing
// the teacher's CorePipeline/PipelineBuilder pair (pipeline.go) which built one hardcoded
// triangle pipeline against a static VkRenderPass. This factory targets dynamic
// rendering exclusively (no VkRenderPass), per spec.md §6.
type PipelineFactory struct {
	device        vk.Device
	bindlessLayout vk.DescriptorSetLayout
	cache         vk.PipelineCache
	jobs          *JobSystem
	log           *componentLogger
	metrics       *deviceMetrics

	graphicsByKey map[uint64]*GraphicsPipeline
	computeByKey  map[uint64]*ComputePipeline
}

func NewPipelineFactory(device vk.Device, bindlessLayout vk.DescriptorSetLayout, jobs *JobSystem, log *componentLogger, metrics *deviceMetrics) *PipelineFactory {
	var cache vk.PipelineCache
	ret := vk.CreatePipelineCache(device, &vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}, nil, &cache)
	must(ret, log, "failed to create pipeline cache")
	return &PipelineFactory{
		device:         device,
		bindlessLayout: bindlessLayout,
		cache:          cache,
		jobs:           jobs,
		log:            log,
		metrics:        metrics,
		graphicsByKey:  map[uint64]*GraphicsPipeline{},
		computeByKey:   map[uint64]*ComputePipeline{},
	}
}

// CreateGraphicsPipeline hashes the request and returns an existing pipeline if present;
// otherwise it allocates a new GraphicsPipeline, attaches a fresh CompletionGroup,
// inserts it into the key map, and schedules the async build job (spec.md §4.6 steps
// 1-3). Equal requests are pointer-equal per spec.md §8 invariant 6 because the same map
// entry is returned without re-entering the job scheduling path.
func (f *PipelineFactory) CreateGraphicsPipeline(req GraphicsPipelineRequest) *GraphicsPipeline {
	key := req.hash()
	if p, ok := f.graphicsByKey[key]; ok {
		return p
	}
	p := &GraphicsPipeline{Request: req, Completion: NewCompletionGroup()}
	f.graphicsByKey[key] = p

	f.jobs.Go(p.Completion, func() bool {
		if !req.Desc.VertexShader.Completion.IsDone() {
			req.Desc.VertexShader.Completion.Wait()
		}
		if !req.Desc.FragmentShader.Completion.IsDone() {
			req.Desc.FragmentShader.Completion.Wait()
		}
		if req.Desc.VertexShader.CompilationFailed || req.Desc.FragmentShader.CompilationFailed {
			p.CompilationFailed = true
			return false
		}

		layout := f.buildPipelineLayout(req.Desc.VertexShader, req.Desc.FragmentShader)
		p.layout = layout

		stages := []vk.PipelineShaderStageCreateInfo{
			{SType: vk.StructureTypePipelineShaderStageCreateInfo, Stage: vk.ShaderStageVertexBit, Module: req.Desc.VertexShader.Handle(), PName: safeString("main")},
			{SType: vk.StructureTypePipelineShaderStageCreateInfo, Stage: vk.ShaderStageFragmentBit, Module: req.Desc.FragmentShader.Handle(), PName: safeString("main")},
		}

		vertexInput := vk.PipelineVertexInputStateCreateInfo{SType: vk.StructureTypePipelineVertexInputStateCreateInfo}
		inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: req.Desc.Topology,
		}
		viewportState := vk.PipelineViewportStateCreateInfo{
			SType: vk.StructureTypePipelineViewportStateCreateInfo, ViewportCount: 1, ScissorCount: 1,
		}
		rasterization := vk.PipelineRasterizationStateCreateInfo{
			SType: vk.StructureTypePipelineRasterizationStateCreateInfo, PolygonMode: vk.PolygonModeFill,
			CullMode: vk.CullModeFlags(req.Desc.CullMode), FrontFace: req.Desc.FrontFace, LineWidth: 1.0,
		}
		multisample := vk.PipelineMultisampleStateCreateInfo{
			SType: vk.StructureTypePipelineMultisampleStateCreateInfo, RasterizationSamples: vk.SampleCount1Bit, MinSampleShading: 1.0,
		}
		depthStencil := vk.PipelineDepthStencilStateCreateInfo{
			SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  vkBool(req.Desc.DepthTestEnable),
			DepthWriteEnable: vkBool(req.Desc.DepthWriteEnable),
			DepthCompareOp:   vk.CompareOpLess,
		}
		blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(req.Desc.ColorFormats))
		for i := range blendAttachments {
			blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
				ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
				BlendEnable:    vkBool(req.Desc.BlendEnable),
			}
		}
		colorBlend := vk.PipelineColorBlendStateCreateInfo{
			SType: vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blendAttachments)), PAttachments: blendAttachments,
		}
		dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
		dynamicState := vk.PipelineDynamicStateCreateInfo{
			SType: vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamicStates)), PDynamicStates: dynamicStates,
		}
		renderingInfo := vk.PipelineRenderingCreateInfo{
			SType:                vk.StructureTypePipelineRenderingCreateInfo,
			ColorAttachmentCount: uint32(len(req.Desc.ColorFormats)),
			PColorAttachmentFormats: req.Desc.ColorFormats,
			DepthAttachmentFormat:   req.Desc.DepthFormat,
		}

		createInfo := vk.GraphicsPipelineCreateInfo{
			SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
			PNext:               unsafePointer(&renderingInfo),
			StageCount:          uint32(len(stages)),
			PStages:             stages,
			PVertexInputState:   &vertexInput,
			PInputAssemblyState: &inputAssembly,
			PViewportState:      &viewportState,
			PRasterizationState: &rasterization,
			PMultisampleState:   &multisample,
			PDepthStencilState:  &depthStencil,
			PColorBlendState:    &colorBlend,
			PDynamicState:       &dynamicState,
			Layout:              layout,
		}

		pipelines := make([]vk.Pipeline, 1)
		ret := vk.CreateGraphicsPipelines(f.device, f.cache, 1, []vk.GraphicsPipelineCreateInfo{createInfo}, nil, pipelines)
		if isError(ret) {
			f.log.Warn().Uint64("key", key).Msg("graphics pipeline compilation failed")
			p.CompilationFailed = true
			return false
		}
		p.handle = pipelines[0]
		if f.metrics != nil {
			f.metrics.pipelineCompileTotal.WithLabelValues("graphics").Inc()
		}
		return true
	})
	return p
}

// CreateComputePipeline mirrors CreateGraphicsPipeline with a single shader stage.
func (f *PipelineFactory) CreateComputePipeline(req ComputePipelineRequest) *ComputePipeline {
	key := req.hash()
	if p, ok := f.computeByKey[key]; ok {
		return p
	}
	p := &ComputePipeline{Request: req, Completion: NewCompletionGroup()}
	f.computeByKey[key] = p

	f.jobs.Go(p.Completion, func() bool {
		req.Shader.Completion.Wait()
		if req.Shader.CompilationFailed {
			p.CompilationFailed = true
			return false
		}
		layout := f.buildPipelineLayout(req.Shader, nil)
		stage := vk.PipelineShaderStageCreateInfo{
			SType: vk.StructureTypePipelineShaderStageCreateInfo, Stage: vk.ShaderStageComputeBit,
			Module: req.Shader.Handle(), PName: safeString("main"),
		}
		createInfo := vk.ComputePipelineCreateInfo{
			SType: vk.StructureTypeComputePipelineCreateInfo, Stage: stage, Layout: layout,
		}
		pipelines := make([]vk.Pipeline, 1)
		ret := vk.CreateComputePipelines(f.device, f.cache, 1, []vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines)
		if isError(ret) {
			f.log.Warn().Uint64("key", key).Msg("compute pipeline compilation failed")
			p.CompilationFailed = true
			return false
		}
		p.handle = pipelines[0]
		if f.metrics != nil {
			f.metrics.pipelineCompileTotal.WithLabelValues("compute").Inc()
		}
		return true
	})
	return p
}

// buildPipelineLayout assembles a single descriptor set (the bindless layout) plus a
// push-constant range derived from reflection, per spec.md §4.6 step 3.
func (f *PipelineFactory) buildPipelineLayout(stages ...*ShaderModule) vk.PipelineLayout {
	var pushConstantSize uint32
	for _, s := range stages {
		if s == nil || s.Reflection == nil {
			continue
		}
		for _, rc := range s.Reflection.RootConstants {
			if rc.Offset+rc.Size > pushConstantSize {
				pushConstantSize = rc.Offset + rc.Size
			}
		}
	}
	if pushConstantSize == 0 {
		pushConstantSize = 128 // glossary: "Root constants - a small blob (<=128B)"
	}

	ranges := []vk.PushConstantRange{
		{StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit), Offset: 0, Size: pushConstantSize},
	}
	layouts := []vk.DescriptorSetLayout{f.bindlessLayout}
	var layout vk.PipelineLayout
	ret := vk.CreatePipelineLayout(f.device, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}, nil, &layout)
	must(ret, f.log, "failed to create pipeline layout")
	return layout
}

// WaitForGlobalPipelineSets blocks until every pipeline already created through this
// factory has either compiled or failed, and returns the first hard error collected by
// golang.org/x/sync/errgroup if any compilation job failed. It starts no compilations
// itself; the factory keeps no registry of variant sets to warm.
func (f *PipelineFactory) WaitForGlobalPipelineSets() error {
	var eg errgroup.Group
	for key, p := range f.graphicsByKey {
		key, p := key, p
		eg.Go(func() error {
			p.Completion.Wait()
			if p.CompilationFailed {
				return fmt.Errorf("graphicscore: graphics pipeline %#x failed to compile", key)
			}
			return nil
		})
	}
	for key, p := range f.computeByKey {
		key, p := key, p
		eg.Go(func() error {
			p.Completion.Wait()
			if p.CompilationFailed {
				return fmt.Errorf("graphicscore: compute pipeline %#x failed to compile", key)
			}
			return nil
		})
	}
	return eg.Wait()
}

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func (f *PipelineFactory) Destroy() {
	for _, p := range f.graphicsByKey {
		if p.handle != vk.NullPipeline {
			vk.DestroyPipeline(f.device, p.handle, nil)
		}
		if p.layout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(f.device, p.layout, nil)
		}
	}
	for _, p := range f.computeByKey {
		if p.handle != vk.NullPipeline {
			vk.DestroyPipeline(f.device, p.handle, nil)
		}
	}
	vk.DestroyPipelineCache(f.device, f.cache, nil)
}
