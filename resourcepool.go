package graphicscore

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// allocation names one suballocated region: the device memory block it lives in, its
// byte offset within that block, and its size. Freed allocations are returned to the
// owning block's free-list.
type allocation struct {
	block  *memoryBlock
	offset vk.DeviceSize
	size   vk.DeviceSize
}

// memoryBlock is one vk.DeviceMemory allocation, carved by a best-fit free-list.
// spec.md §4.2 notes that no VMA binding appears anywhere in the retrieval pack, so
// ResourcePool implements this suballocator directly over vk.AllocateMemory/
// vk.BindBufferMemory/vk.BindImageMemory, in the spirit of the teacher's direct
// vk.CreateBuffer/vk.MapMemory calls in buffers.go. This is a standard-library-shaped
// component (see DESIGN.md) since no third-party allocator was available to wire.
type memoryBlock struct {
	memory     vk.DeviceMemory
	size       vk.DeviceSize
	typeIndex  uint32
	mapped     []byte // non-nil for host-visible blocks
	freeRanges []freeRange
}

type freeRange struct {
	offset vk.DeviceSize
	size   vk.DeviceSize
}

const blockSize vk.DeviceSize = 64 * 1024 * 1024
const memoryAlignment vk.DeviceSize = 256

func alignUp(v, align vk.DeviceSize) vk.DeviceSize {
	return (v + align - 1) / align * align
}

// bestFit finds the smallest free range that fits size, splitting it. Returns false if
// no range in the block is large enough.
func (b *memoryBlock) bestFit(size vk.DeviceSize) (vk.DeviceSize, bool) {
	best := -1
	for i, r := range b.freeRanges {
		if r.size >= size && (best == -1 || r.size < b.freeRanges[best].size) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	r := b.freeRanges[best]
	offset := r.offset
	if r.size == size {
		b.freeRanges = append(b.freeRanges[:best], b.freeRanges[best+1:]...)
	} else {
		b.freeRanges[best] = freeRange{offset: offset + size, size: r.size - size}
	}
	return offset, true
}

// release coalesces the freed range back into the block's free-list.
func (b *memoryBlock) release(offset, size vk.DeviceSize) {
	merged := freeRange{offset: offset, size: size}
	var out []freeRange
	for _, r := range b.freeRanges {
		if r.offset+r.size == merged.offset {
			merged.offset = r.offset
			merged.size += r.size
			continue
		}
		if merged.offset+merged.size == r.offset {
			merged.size += r.size
			continue
		}
		out = append(out, r)
	}
	out = append(out, merged)
	b.freeRanges = out
}

// ResourcePool is the thin facade over the suballocator described in spec.md §4.2: it
// creates buffers, textures, and render targets, distinguishing texture from
// render-target because their supported usage flags differ and only render targets may
// be frame-graph color/depth attachments.
type ResourcePool struct {
	device     vk.Device
	gpu        vk.PhysicalDevice
	memProps   vk.PhysicalDeviceMemoryProperties
	blocksByType map[uint32][]*memoryBlock
	log        *componentLogger
	metrics    *deviceMetrics
}

func NewResourcePool(device vk.Device, gpu vk.PhysicalDevice, log *componentLogger, metrics *deviceMetrics) *ResourcePool {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(gpu, &props)
	props.Deref()
	return &ResourcePool{
		device:       device,
		gpu:          gpu,
		memProps:     props,
		blocksByType: map[uint32][]*memoryBlock{},
		log:          log,
		metrics:      metrics,
	}
}

// alloc suballocates size bytes from a block of the given memory type index, creating a
// new block (at least blockSize, or size rounded up if larger) when none has room.
func (p *ResourcePool) alloc(typeIndex uint32, size vk.DeviceSize, hostVisible bool) allocation {
	size = alignUp(size, memoryAlignment)
	for _, b := range p.blocksByType[typeIndex] {
		if offset, ok := b.bestFit(size); ok {
			return allocation{block: b, offset: offset, size: size}
		}
	}
	newBlockSize := blockSize
	if size > newBlockSize {
		newBlockSize = size
	}
	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(p.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  newBlockSize,
		MemoryTypeIndex: typeIndex,
	}, nil, &mem)
	must(ret, p.log, "failed to allocate device memory block")
	block := &memoryBlock{
		memory:     mem,
		size:       newBlockSize,
		typeIndex:  typeIndex,
		freeRanges: []freeRange{{offset: 0, size: newBlockSize}},
	}
	if hostVisible {
		var mapped unsafe.Pointer
		ret = vk.MapMemory(p.device, mem, 0, vk.DeviceSize(vk.WholeSize), 0, &mapped)
		must(ret, p.log, "failed to map device memory block")
		block.mapped = unsafe.Slice((*byte)(mapped), int(newBlockSize))
	}
	p.blocksByType[typeIndex] = append(p.blocksByType[typeIndex], block)
	offset, ok := block.bestFit(size)
	if !ok {
		p.log.Fatal().Msg("fresh memory block could not satisfy its own allocation")
	}
	return allocation{block: block, offset: offset, size: size}
}

func (p *ResourcePool) free(a allocation) {
	if a.block == nil {
		return
	}
	a.block.release(a.offset, a.size)
}

// CreateBuffer creates a VkBuffer and binds device (or host-visible, when requested)
// memory to it.
func (p *ResourcePool) CreateBuffer(desc BufferDesc) *Resource {
	var buf vk.Buffer
	ret := vk.CreateBuffer(p.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        desc.Size,
		Usage:       vk.BufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	must(ret, p.log, "failed to create buffer")

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(p.device, buf, &req)
	req.Deref()

	want := vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit)
	if desc.HostVisible {
		want = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	typeIndex, ok := findMemoryType(p.memProps, req.MemoryTypeBits, want)
	if !ok {
		p.log.Fatal().Str("buffer", desc.Name).Msg("no memory type satisfies buffer requirements")
	}
	a := p.alloc(typeIndex, req.Size, desc.HostVisible)
	ret = vk.BindBufferMemory(p.device, buf, a.block.memory, a.offset)
	must(ret, p.log, "failed to bind buffer memory")

	return newBufferResource(invalidResourceID, desc, buf, a)
}

// CreateTexture creates a sampled/storage image with a whole-resource view.
func (p *ResourcePool) CreateTexture(desc TextureDesc) *Resource {
	img, a, view := p.createImage(desc.Name, desc.Width, desc.Height, desc.MipLevels, desc.ArrayLayers, desc.Format, vk.ImageUsageFlags(desc.Usage))
	return newTextureResource(invalidResourceID, desc, img, a, view)
}

// CreateRenderTarget creates a color or depth-stencil attachment image, optionally also
// usable as a UAV when it is a color target (spec.md §4.2).
func (p *ResourcePool) CreateRenderTarget(desc RenderTargetDesc) *Resource {
	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	if desc.DepthStencil {
		usage = vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	} else if desc.AllowUAV {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	img, a, view := p.createImage(desc.Name, desc.Width, desc.Height, 1, 1, desc.Format, usage)
	return newRenderTargetResource(invalidResourceID, desc, img, a, view)
}

func (p *ResourcePool) createImage(name string, width, height, mipLevels, arrayLayers uint32, format vk.Format, usage vk.ImageUsageFlags) (vk.Image, allocation, vk.ImageView) {
	if mipLevels == 0 {
		mipLevels = 1
	}
	if arrayLayers == 0 {
		arrayLayers = 1
	}
	var img vk.Image
	ret := vk.CreateImage(p.device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent:    vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels: mipLevels,
		ArrayLayers: arrayLayers,
		Samples:   vk.SampleCount1Bit,
		Tiling:    vk.ImageTilingOptimal,
		Usage:     usage,
		SharingMode: vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	must(ret, p.log, fmt.Sprintf("failed to create image %q", name))

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(p.device, img, &req)
	req.Deref()
	typeIndex, ok := findMemoryType(p.memProps, req.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		p.log.Fatal().Str("image", name).Msg("no memory type satisfies image requirements")
	}
	a := p.alloc(typeIndex, req.Size, false)
	ret = vk.BindImageMemory(p.device, img, a.block.memory, a.offset)
	must(ret, p.log, "failed to bind image memory")

	aspect := vk.ImageAspectColorBit
	if usage&vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit) != 0 {
		aspect = vk.ImageAspectDepthBit
	}
	var view vk.ImageView
	ret = vk.CreateImageView(p.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: mipLevels,
			LayerCount: arrayLayers,
		},
	}, nil, &view)
	must(ret, p.log, fmt.Sprintf("failed to create whole-resource view for image %q", name))

	return img, a, view
}

// Destroy frees every memory block the pool owns. Called only after the device has
// confirmed every resource using these blocks has already been destroyed.
func (p *ResourcePool) Destroy() {
	for _, blocks := range p.blocksByType {
		for _, b := range blocks {
			if b.mapped != nil {
				vk.UnmapMemory(p.device, b.memory)
			}
			vk.FreeMemory(p.device, b.memory, nil)
		}
	}
}
