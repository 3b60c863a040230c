package graphicscore

import vk "github.com/vulkan-go/vulkan"

const (
	maxDescriptorSets   = 8
	bindingSampler      = 0
	bindingSampledImage = 1
	bindingStorageImage = 2
)

// SamplerState describes a sampler; its key() packs the min/mag filters and the three
// address modes into one comparable value (MaxAniso is not part of the key), generalizing the original BindlessManager's SamplerState bit-field key
// (BindlessManager.h: "RegisterSampler(Core::SamplerState sampler)").
type SamplerState struct {
	MinFilter  vk.Filter
	MagFilter  vk.Filter
	AddressU   vk.SamplerAddressMode
	AddressV   vk.SamplerAddressMode
	AddressW   vk.SamplerAddressMode
	MaxAniso   float32
}

func (s SamplerState) key() uint64 {
	return uint64(s.MinFilter) | uint64(s.MagFilter)<<8 | uint64(s.AddressU)<<16 |
		uint64(s.AddressV)<<24 | uint64(s.AddressW)<<32
}

type imageKey struct {
	resource    ResourceID
	subresource subresourceKey
}

// retiredSet is one descriptor set retired to the small ring, tagged with the sync point
// that must elapse before the slot is reused (BindlessManager.h's RetiredSet).
type retiredSet struct {
	set  vk.DescriptorSet
	sync SyncPoint
}

// BindlessTable is the single-descriptor-pool, one-current-set bindless manager of
// spec.md §4.5, generalized from the original engine's BindlessManager
// (Vulkan/BindlessManager.h). Three bindings populate the current set: sampler,
// sampled-image, and storage-image, sized by the Config counts that NewDevice clamps to
// fixed 512/64K/64K ceilings via Config.clampBindlessLimits; the physical device's
// descriptor limits are not queried.
type BindlessTable struct {
	device vk.Device
	fence  *TimelineFence
	log    *componentLogger
	metrics *deviceMetrics

	pool        vk.DescriptorPool
	layout      vk.DescriptorSetLayout
	current     vk.DescriptorSet
	retired     []retiredSet

	samplerCount uint32
	srvCount     uint32
	uavCount     uint32

	imageSRVIndex map[imageKey]uint32
	imageUAVIndex map[imageKey]uint32
	samplerIndex  map[uint64]uint32

	nextSRV     uint32
	nextUAV     uint32
	nextSampler uint32
}

// nullDescriptorIndex is the reserved index spec.md §3 calls out: "index 0 of every
// binding is a 'null' descriptor." Registration never hands this index out; the three
// next* counters start at 1 to keep it permanently unassigned.
const nullDescriptorIndex = 0

func NewBindlessTable(device vk.Device, fence *TimelineFence, cfg Config, log *componentLogger, metrics *deviceMetrics) *BindlessTable {
	t := &BindlessTable{
		device:        device,
		fence:         fence,
		log:           log,
		metrics:       metrics,
		samplerCount:  cfg.BindlessSamplers,
		srvCount:      cfg.BindlessSRVs,
		uavCount:      cfg.BindlessUAVs,
		imageSRVIndex: map[imageKey]uint32{},
		imageUAVIndex: map[imageKey]uint32{},
		samplerIndex:  map[uint64]uint32{},
		nextSRV:       nullDescriptorIndex + 1,
		nextUAV:       nullDescriptorIndex + 1,
		nextSampler:   nullDescriptorIndex + 1,
	}
	t.createLayout()
	t.createPool()
	t.current = t.allocateSet()
	t.writeNullDescriptors()
	return t
}

// writeNullDescriptors binds index 0 of the sampler binding to a dummy sampler so a shader
// that reads an unset bindless slot (a programming error elsewhere, but one the
// partially-bound flag alone would turn into an out-of-bounds read rather than a
// well-defined null read) sees defined, harmless data instead. The sampled-image and
// storage-image bindings have no device-owned "null" image available at this layer
// (ResourcePool, not BindlessTable, owns image allocation), so those two slots are left
// unwritten; PartiallyBound makes that legal, and the reserved index still guarantees no
// real registration ever collides with 0.
func (t *BindlessTable) writeNullDescriptors() {
	var nullSampler vk.Sampler
	ret := vk.CreateSampler(t.device, &vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MinFilter:    vk.FilterNearest,
		MagFilter:    vk.FilterNearest,
		AddressModeU: vk.SamplerAddressModeClampToEdge,
		AddressModeV: vk.SamplerAddressModeClampToEdge,
		AddressModeW: vk.SamplerAddressModeClampToEdge,
	}, nil, &nullSampler)
	must(ret, t.log, "failed to create null descriptor sampler")
	t.writeSamplerDescriptor(nullDescriptorIndex, nullSampler)
}

func (t *BindlessTable) createLayout() {
	variableCount := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
		SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
		BindingCount:  3,
		PBindingFlags: []vk.DescriptorBindingFlags{
			vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingUpdateAfterBindBit),
			vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingUpdateAfterBindBit),
			vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingUpdateAfterBindBit | vk.DescriptorBindingVariableDescriptorCountBit),
		},
	}
	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: bindingSampler, DescriptorType: vk.DescriptorTypeSampler, DescriptorCount: t.samplerCount, StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit)},
		{Binding: bindingSampledImage, DescriptorType: vk.DescriptorTypeSampledImage, DescriptorCount: t.srvCount, StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit)},
		{Binding: bindingStorageImage, DescriptorType: vk.DescriptorTypeStorageImage, DescriptorCount: t.uavCount, StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit)},
	}
	ret := vk.CreateDescriptorSetLayout(t.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		PNext:        unsafePointer(&variableCount),
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &t.layout)
	must(ret, t.log, "failed to create bindless descriptor set layout")
}

func (t *BindlessTable) createPool() {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeSampler, DescriptorCount: t.samplerCount * maxDescriptorSets},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: t.srvCount * maxDescriptorSets},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: t.uavCount * maxDescriptorSets},
	}
	ret := vk.CreateDescriptorPool(t.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit),
		MaxSets:       maxDescriptorSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &t.pool)
	must(ret, t.log, "failed to create bindless descriptor pool")
}

func (t *BindlessTable) allocateSet() vk.DescriptorSet {
	variableCounts := vk.DescriptorSetVariableDescriptorCountAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetVariableDescriptorCountAllocateInfo,
		DescriptorSetCount: 1,
		PDescriptorCounts:  []uint32{t.uavCount},
	}
	layouts := []vk.DescriptorSetLayout{t.layout}
	sets := make([]vk.DescriptorSet, 1)
	ret := vk.AllocateDescriptorSets(t.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		PNext:              unsafePointer(&variableCounts),
		DescriptorPool:     t.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        layouts,
	}, sets)
	must(ret, t.log, "failed to allocate bindless descriptor set")
	return sets[0]
}

// BeginFrame retires the current set to the ring, tagged with the graphics queue's next
// signal value, and allocates a fresh current set (spec.md §4.5).
func (t *BindlessTable) BeginFrame(nextSignal uint64) {
	t.retired = append(t.retired, retiredSet{set: t.current, sync: SyncPoint{Fence: t.fence, Value: nextSignal}})
	if len(t.retired) > maxDescriptorSets {
		t.retired = t.retired[1:]
	}
	t.current = t.allocateSet()
}

// CloseFrame returns the sync point that must elapse before the set retired this frame
// can be reused.
func (t *BindlessTable) CloseFrame() SyncPoint {
	if len(t.retired) == 0 {
		return SyncPoint{}
	}
	return t.retired[len(t.retired)-1].sync
}

func (t *BindlessTable) DescriptorSetLayout() vk.DescriptorSetLayout { return t.layout }

func (t *BindlessTable) DescriptorSet() vk.DescriptorSet { return t.current }

// RegisterSRV looks up (resourceID, subresource) in the dense map; on miss it allocates
// the next free index and writes the descriptor. All indices are stable for the life of
// the set (spec.md §4.5).
func (t *BindlessTable) RegisterSRV(resourceID ResourceID, subresource subresourceKey, view vk.ImageView, layout vk.ImageLayout) uint32 {
	key := imageKey{resource: resourceID, subresource: subresource}
	if idx, ok := t.imageSRVIndex[key]; ok {
		return idx
	}
	idx := t.nextSRV
	t.nextSRV++
	t.imageSRVIndex[key] = idx
	t.writeImageDescriptor(bindingSampledImage, idx, view, layout, vk.DescriptorTypeSampledImage)
	if t.metrics != nil {
		t.metrics.bindlessRegisteredSRVs.Set(float64(len(t.imageSRVIndex)))
	}
	return idx
}

func (t *BindlessTable) RegisterUAV(resourceID ResourceID, subresource subresourceKey, view vk.ImageView) uint32 {
	key := imageKey{resource: resourceID, subresource: subresource}
	if idx, ok := t.imageUAVIndex[key]; ok {
		return idx
	}
	idx := t.nextUAV
	t.nextUAV++
	t.imageUAVIndex[key] = idx
	t.writeImageDescriptor(bindingStorageImage, idx, view, vk.ImageLayoutGeneral, vk.DescriptorTypeStorageImage)
	if t.metrics != nil {
		t.metrics.bindlessRegisteredUAVs.Set(float64(len(t.imageUAVIndex)))
	}
	return idx
}

func (t *BindlessTable) RegisterSampler(state SamplerState) uint32 {
	key := state.key()
	if idx, ok := t.samplerIndex[key]; ok {
		return idx
	}
	var sampler vk.Sampler
	ret := vk.CreateSampler(t.device, &vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MinFilter:    state.MinFilter,
		MagFilter:    state.MagFilter,
		AddressModeU: state.AddressU,
		AddressModeV: state.AddressV,
		AddressModeW: state.AddressW,
		MaxAnisotropy: state.MaxAniso,
	}, nil, &sampler)
	must(ret, t.log, "failed to create sampler")

	idx := t.nextSampler
	t.nextSampler++
	t.samplerIndex[key] = idx
	t.writeSamplerDescriptor(idx, sampler)
	return idx
}

func (t *BindlessTable) writeImageDescriptor(binding, index uint32, view vk.ImageView, layout vk.ImageLayout, descType vk.DescriptorType) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          t.current,
		DstBinding:      binding,
		DstArrayElement: index,
		DescriptorCount: 1,
		DescriptorType:  descType,
		PImageInfo: []vk.DescriptorImageInfo{
			{ImageView: view, ImageLayout: layout},
		},
	}
	vk.UpdateDescriptorSets(t.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (t *BindlessTable) writeSamplerDescriptor(index uint32, sampler vk.Sampler) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          t.current,
		DstBinding:      bindingSampler,
		DstArrayElement: index,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeSampler,
		PImageInfo: []vk.DescriptorImageInfo{
			{Sampler: sampler},
		},
	}
	vk.UpdateDescriptorSets(t.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (t *BindlessTable) Destroy() {
	vk.DestroyDescriptorPool(t.device, t.pool, nil)
	vk.DestroyDescriptorSetLayout(t.device, t.layout, nil)
}
