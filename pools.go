package graphicscore

import vk "github.com/vulkan-go/vulkan"

// commandPool wraps a single vk.CommandPool, generalizing the teacher's CorePool
// (pools.go) with the reset-individual-buffers flag CommandBuffer.Begin relies on.
type commandPool struct {
	handle vk.CommandPool
}

func newCommandPool(device vk.Device, familyIndex uint32, log *componentLogger) *commandPool {
	var handle vk.CommandPool
	ret := vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: familyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &handle)
	must(ret, log, "failed to create command pool")
	return &commandPool{handle: handle}
}

func (p *commandPool) allocate(device vk.Device, level vk.CommandBufferLevel, log *componentLogger) vk.CommandBuffer {
	buffers := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              level,
		CommandBufferCount: 1,
	}, buffers)
	must(ret, log, "failed to allocate command buffer")
	return buffers[0]
}

func (p *commandPool) destroy(device vk.Device) {
	vk.DestroyCommandPool(device, p.handle, nil)
}
