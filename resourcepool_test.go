package graphicscore

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, vk.DeviceSize(256), alignUp(1, 256))
	assert.Equal(t, vk.DeviceSize(256), alignUp(256, 256))
	assert.Equal(t, vk.DeviceSize(512), alignUp(257, 256))
	assert.Equal(t, vk.DeviceSize(0), alignUp(0, 256))
}

func TestMemoryBlock_BestFitSplitsRange(t *testing.T) {
	b := &memoryBlock{size: 1024, freeRanges: []freeRange{{offset: 0, size: 1024}}}

	offset, ok := b.bestFit(256)
	assert.True(t, ok)
	assert.Equal(t, vk.DeviceSize(0), offset)
	assert.Len(t, b.freeRanges, 1)
	assert.Equal(t, freeRange{offset: 256, size: 768}, b.freeRanges[0])
}

func TestMemoryBlock_BestFitPicksSmallestAdequateRange(t *testing.T) {
	b := &memoryBlock{size: 1024, freeRanges: []freeRange{
		{offset: 0, size: 512},
		{offset: 512, size: 128},
	}}
	offset, ok := b.bestFit(64)
	assert.True(t, ok)
	assert.Equal(t, vk.DeviceSize(512), offset, "the smaller of two adequate ranges is preferred")
}

func TestMemoryBlock_BestFitExactConsumesRange(t *testing.T) {
	b := &memoryBlock{size: 256, freeRanges: []freeRange{{offset: 0, size: 256}}}
	_, ok := b.bestFit(256)
	assert.True(t, ok)
	assert.Empty(t, b.freeRanges)
}

func TestMemoryBlock_BestFitFailsWhenNothingFits(t *testing.T) {
	b := &memoryBlock{size: 128, freeRanges: []freeRange{{offset: 0, size: 64}}}
	_, ok := b.bestFit(128)
	assert.False(t, ok)
}

func TestMemoryBlock_ReleaseMergesAdjacentRanges(t *testing.T) {
	b := &memoryBlock{size: 1024, freeRanges: []freeRange{
		{offset: 0, size: 256},
		{offset: 512, size: 256},
	}}
	b.release(256, 256)

	assert.Len(t, b.freeRanges, 1, "freeing the gap between two adjacent ranges must coalesce them into one")
	assert.Equal(t, freeRange{offset: 0, size: 768}, b.freeRanges[0])
}

func TestResourcePool_FreeOfZeroAllocationIsNoop(t *testing.T) {
	p := &ResourcePool{blocksByType: map[uint32][]*memoryBlock{}}
	assert.NotPanics(t, func() { p.free(allocation{}) })
}
