package graphicscore

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameGraph_Versioning checks spec.md §8 property 5: for handles H1 = write(R),
// H2 = read(H1), the read is recorded against a pass index strictly after the write's.
func TestFrameGraph_Versioning(t *testing.T) {
	pool := NewFrameGraphResourcePool(nil, nil)
	g := NewFrameGraph(nil, pool, newComponentLogger("test"))

	var h1, h2 ImageHandle
	g.AddPass("write", func(b *PassBuilder) {
		create := b.CreateTransientImage(TextureDesc{Name: "scratch"})
		h1 = b.WriteImage(create, AccessColorTarget)
	}, func(ctx *FrameGraphContext) {})

	g.AddPass("read", func(b *PassBuilder) {
		h2 = b.ReadImage(h1, AccessShaderResource)
	}, func(ctx *FrameGraphContext) {})

	g.Build()

	require.Equal(t, h1.index, h2.index)
	assert.Equal(t, h1.version, h2.version, "a read of the handle a write returned observes the same version")

	img := g.images[h1.index]
	require.Len(t, img.accesses, 2)
	assert.Less(t, img.accesses[0].pass, img.accesses[1].pass, "write pass must be scheduled before the read pass")
	assert.Equal(t, AccessColorTarget, img.accesses[0].access)
	assert.Equal(t, AccessShaderResource, img.accesses[1].access)
}

func TestFrameGraph_WriteBumpsVersion(t *testing.T) {
	pool := NewFrameGraphResourcePool(nil, nil)
	g := NewFrameGraph(nil, pool, newComponentLogger("test"))

	var v0, v1 ImageHandle
	g.AddPass("p0", func(b *PassBuilder) {
		v0 = b.CreateTransientImage(TextureDesc{Name: "scratch"})
		v1 = b.WriteImage(v0, AccessColorTarget)
	}, func(ctx *FrameGraphContext) {})
	g.Build()

	assert.Equal(t, v0.version, uint32(0))
	assert.Equal(t, v1.version, v0.version+1)
}

func TestFrameGraph_ImportExternalResolvesWithoutPoolRequest(t *testing.T) {
	pool := NewFrameGraphResourcePool(nil, nil)
	g := NewFrameGraph(nil, pool, newComponentLogger("test"))
	external := &Resource{Name: "backbuffer", Kind: ResourceKindRenderTarget}

	var h ImageHandle
	g.AddPass("present", func(b *PassBuilder) {
		h = b.ImportExternalImage(external)
		b.WriteImage(h, AccessPresent)
	}, func(ctx *FrameGraphContext) {})
	g.Build()
	g.Compile()

	assert.Same(t, external, g.resolveImage(h))
}

func TestGraphicsPipelineRequest_HashDedup(t *testing.T) {
	req1 := GraphicsPipelineRequest{
		Desc: GraphicsPipelineDesc{
			ColorFormats: []vk.Format{vk.FormatR8g8b8a8Unorm},
		},
		Defines: "FEATURE_X=1",
	}
	req2 := req1
	assert.Equal(t, req1.hash(), req2.hash(), "equal requests must hash equal so CreateGraphicsPipeline dedups them")

	req3 := req1
	req3.Defines = "FEATURE_X=2"
	assert.NotEqual(t, req1.hash(), req3.hash())
}
