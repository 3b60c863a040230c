package graphicscore

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
	"github.com/stretchr/testify/assert"
)

// TestResourceBarrierBatcher_Dedup checks spec.md §8 property 4: submitting the same
// BufferBarrierDesc twice to a single batch produces exactly one pending entry.
func TestResourceBarrierBatcher_Dedup(t *testing.T) {
	b := NewResourceBarrierBatcher(newComponentLogger("test"))
	desc := BufferBarrierDesc{
		Buffer:    vk.Buffer(1),
		SrcAccess: vk.AccessTransferWriteBit,
		DstAccess: vk.AccessShaderReadBit,
		SrcStage:  vk.PipelineStageTransferBit,
		DstStage:  vk.PipelineStageFragmentShaderBit,
	}
	b.AddBuffer(desc)
	b.AddBuffer(desc)
	assert.Equal(t, 1, b.Pending())
}

func TestResourceBarrierBatcher_DistinctDescsDoNotCollapse(t *testing.T) {
	b := NewResourceBarrierBatcher(newComponentLogger("test"))
	b.AddBuffer(BufferBarrierDesc{Buffer: vk.Buffer(1), SrcAccess: vk.AccessTransferWriteBit})
	b.AddBuffer(BufferBarrierDesc{Buffer: vk.Buffer(2), SrcAccess: vk.AccessTransferWriteBit})
	assert.Equal(t, 2, b.Pending())
}

func TestResourceBarrierBatcher_ImageDedupAndReset(t *testing.T) {
	b := NewResourceBarrierBatcher(newComponentLogger("test"))
	desc := ImageBarrierDesc{
		Image:     vk.Image(7),
		OldLayout: vk.ImageLayoutUndefined,
		NewLayout: vk.ImageLayoutTransferDstOptimal,
	}
	b.AddImage(desc)
	b.AddImage(desc)
	assert.Equal(t, 1, b.Pending())

	b.Reset()
	assert.Equal(t, 0, b.Pending())
}

func TestBarrierDescHash_Deterministic(t *testing.T) {
	d1 := BufferBarrierDesc{Buffer: vk.Buffer(42), SrcAccess: vk.AccessShaderWriteBit, Offset: 16, Size: 256}
	d2 := BufferBarrierDesc{Buffer: vk.Buffer(42), SrcAccess: vk.AccessShaderWriteBit, Offset: 16, Size: 256}
	assert.Equal(t, d1.hash(), d2.hash())

	d3 := d2
	d3.Offset = 32
	assert.NotEqual(t, d1.hash(), d3.hash())
}
