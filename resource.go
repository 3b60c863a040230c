package graphicscore

import vk "github.com/vulkan-go/vulkan"

// ResourceKind tags the discriminated union spec.md §9 calls for in place of the
// original engine's virtual-inheritance chain (Core::Resource -> ImageBase ->
// Texture/RenderTarget).
type ResourceKind int

const (
	ResourceKindBuffer ResourceKind = iota
	ResourceKindTexture
	ResourceKindRenderTarget
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindBuffer:
		return "buffer"
	case ResourceKindTexture:
		return "texture"
	case ResourceKindRenderTarget:
		return "render-target"
	default:
		return "unknown"
	}
}

// ResourceID is a stable 32-bit identifier. ID 0 is reserved invalid (spec.md §4.1).
type ResourceID uint32

const invalidResourceID ResourceID = 0

// subresourceKey packs aspect (2 bits), mip-slice (5), mip-count (5), array-slice (10),
// array-count (10) into 32 bits, per spec.md §4.2, used to cache per-subresource image
// views on the owning Resource.
type subresourceKey uint32

func packSubresourceKey(aspect uint32, mipSlice, mipCount, arraySlice, arrayCount uint32) subresourceKey {
	return subresourceKey(
		(aspect&0x3)<<30 |
			(mipSlice&0x1f)<<25 |
			(mipCount&0x1f)<<20 |
			(arraySlice&0x3ff)<<10 |
			(arrayCount & 0x3ff),
	)
}

// BufferDesc describes a buffer resource request.
type BufferDesc struct {
	Name  string
	Size  vk.DeviceSize
	Usage vk.BufferUsageFlagBits
	// HostVisible requests a host-coherent mapping in addition to a device allocation;
	// used for staging buffers and uniform ring buffers.
	HostVisible bool
}

// TextureDesc describes a sampled/storage image resource request.
type TextureDesc struct {
	Name       string
	Width      uint32
	Height     uint32
	MipLevels  uint32
	ArrayLayers uint32
	Format     vk.Format
	Usage      vk.ImageUsageFlagBits
}

// RenderTargetDesc describes a color or depth-stencil attachment resource request. It is
// a distinct type from TextureDesc because spec.md §4.2 draws the line at "the only
// images that may be used as transient frame-graph color/depth attachments," and the
// supported usage flags differ (attachment bits, optional UAV-when-color).
type RenderTargetDesc struct {
	Name      string
	Width     uint32
	Height    uint32
	Format    vk.Format
	DepthStencil bool
	AllowUAV  bool
}

// imageView caches one VkImageView for a packed subresource key, created on demand and
// kept for the resource's lifetime (spec.md §4.2).
type imageView struct {
	handle vk.ImageView
}

// Resource is the tagged union spec.md §9 prescribes in place of the original's
// ImageBase/Texture/RenderTarget inheritance chain: one record, one Kind tag, fields for
// whichever kind applies left zero otherwise.
type Resource struct {
	ID       ResourceID
	Kind     ResourceKind
	Name     string
	refCount int32

	// Buffer fields.
	Buffer     vk.Buffer
	BufferDesc BufferDesc

	// Texture / RenderTarget fields.
	Image        vk.Image
	ImageDesc    TextureDesc
	RTDesc       RenderTargetDesc
	wholeView    imageView
	subviews     map[subresourceKey]imageView

	memory allocation

	// bindlessIndex is set to -1 at construction. BindlessTable's Register* methods return
	// the index to their caller and do not write it here.
	bindlessIndex int32

	// immediate marks a resource whose lifetime is already covered by a fence elsewhere
	// (transient per-frame pool objects), so UnregisterResource destroys it synchronously
	// instead of deferring it (spec.md §4.1).
	immediate bool
}

func newBufferResource(id ResourceID, desc BufferDesc, buf vk.Buffer, mem allocation) *Resource {
	return &Resource{
		ID: id, Kind: ResourceKindBuffer, Name: desc.Name,
		refCount: 1, Buffer: buf, BufferDesc: desc, memory: mem, bindlessIndex: -1,
	}
}

func newTextureResource(id ResourceID, desc TextureDesc, img vk.Image, mem allocation, whole vk.ImageView) *Resource {
	return &Resource{
		ID: id, Kind: ResourceKindTexture, Name: desc.Name,
		refCount: 1, Image: img, ImageDesc: desc, memory: mem,
		wholeView: imageView{handle: whole}, subviews: map[subresourceKey]imageView{},
		bindlessIndex: -1,
	}
}

func newRenderTargetResource(id ResourceID, desc RenderTargetDesc, img vk.Image, mem allocation, whole vk.ImageView) *Resource {
	return &Resource{
		ID: id, Kind: ResourceKindRenderTarget, Name: desc.Name,
		refCount: 1, Image: img, RTDesc: desc, memory: mem,
		wholeView: imageView{handle: whole}, subviews: map[subresourceKey]imageView{},
		bindlessIndex: -1,
	}
}

func (r *Resource) AddRef() int32 {
	r.refCount++
	return r.refCount
}

// Release decrements the reference count and reports whether it reached zero. A negative
// result past zero is a fatal reference-count underflow per spec.md §7.
func (r *Resource) Release(log *componentLogger) bool {
	r.refCount--
	if r.refCount < 0 {
		log.Fatal().Str("resource", r.Name).Msg("reference-count underflow")
	}
	return r.refCount == 0
}

// WholeView returns the whole-resource view created at construction time.
func (r *Resource) WholeView() vk.ImageView { return r.wholeView.handle }

// SubresourceView returns the cached view for the given subresource range, creating and
// caching it on first request per spec.md §4.2's "per-subresource views are produced on
// demand and cached on the image."
func (r *Resource) SubresourceView(device vk.Device, aspect vk.ImageAspectFlagBits, mipSlice, mipCount, arraySlice, arrayCount uint32, format vk.Format, log *componentLogger) vk.ImageView {
	key := packSubresourceKey(uint32(aspect), mipSlice, mipCount, arraySlice, arrayCount)
	if v, ok := r.subviews[key]; ok {
		return v.handle
	}
	var handle vk.ImageView
	ret := vk.CreateImageView(device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    r.Image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspect),
			BaseMipLevel:   mipSlice,
			LevelCount:     mipCount,
			BaseArrayLayer: arraySlice,
			LayerCount:     arrayCount,
		},
	}, nil, &handle)
	must(ret, log, "failed to create subresource image view")
	r.subviews[key] = imageView{handle: handle}
	return handle
}

func (r *Resource) destroyNative(device vk.Device, pool *ResourcePool) {
	switch r.Kind {
	case ResourceKindBuffer:
		vk.DestroyBuffer(device, r.Buffer, nil)
	case ResourceKindTexture, ResourceKindRenderTarget:
		vk.DestroyImageView(device, r.wholeView.handle, nil)
		for _, v := range r.subviews {
			vk.DestroyImageView(device, v.handle, nil)
		}
		vk.DestroyImage(device, r.Image, nil)
	}
	pool.free(r.memory)
}
