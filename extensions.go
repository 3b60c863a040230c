package graphicscore

import vk "github.com/vulkan-go/vulkan"

// instanceExtensions enumerates instance extensions available on the platform.
func instanceExtensions() (names []string, err error) {
	defer checkErr(&err)
	var count uint32
	ret := vk.EnumerateInstanceExtensionProperties("", &count, nil)
	orPanic(newError(ret))
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateInstanceExtensionProperties("", &count, list)
	orPanic(newError(ret))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// deviceExtensions enumerates extensions available on the given physical device.
func deviceExtensions(gpu vk.PhysicalDevice) (names []string, err error) {
	defer checkErr(&err)
	var count uint32
	ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil)
	orPanic(newError(ret))
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list)
	orPanic(newError(ret))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// validationLayers enumerates validation layers available on the platform.
func validationLayers() (names []string, err error) {
	defer checkErr(&err)
	var count uint32
	ret := vk.EnumerateInstanceLayerProperties(&count, nil)
	orPanic(newError(ret))
	list := make([]vk.LayerProperties, count)
	ret = vk.EnumerateInstanceLayerProperties(&count, list)
	orPanic(newError(ret))
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, err
}

// requiredInstanceExtensions is spec.md §6's instance extension list: surface + platform
// surface (supplied by GLFW) + debug-utils when validation is requested.
func requiredInstanceExtensions(window glfwWindow, enableValidation bool) []string {
	exts := append([]string{}, window.GetRequiredInstanceExtensions()...)
	if enableValidation {
		exts = append(exts, "VK_EXT_debug_utils")
	}
	return exts
}

// requiredDeviceExtensions is spec.md §6's device extension list: swapchain,
// timeline-semaphore, dynamic-rendering, descriptor-indexing, plus create-renderpass2 and
// depth-stencil-resolve.
func requiredDeviceExtensions() []string {
	return []string{
		"VK_KHR_swapchain",
		"VK_KHR_timeline_semaphore",
		"VK_KHR_dynamic_rendering",
		"VK_EXT_descriptor_indexing",
		"VK_KHR_create_renderpass2",
		"VK_KHR_depth_stencil_resolve",
	}
}

func requiredValidationLayers(enableValidation bool) []string {
	if !enableValidation {
		return nil
	}
	return []string{"VK_LAYER_KHRONOS_validation"}
}

// findMemoryType selects the first memory type that both satisfies the resource's
// requirement bitmask and carries every requested property flag, falling back to a
// property-less match if host/device-local combination cannot be satisfied exactly.
// Grounded on the teacher's FindRequiredMemoryType/FindRequiredMemoryTypeFallback pair in
// the original extensions.go.
func findMemoryType(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, want vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := uint32(0); i < vk.MaxMemoryTypes; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		if props.MemoryTypes[i].PropertyFlags&vk.MemoryPropertyFlags(want) == vk.MemoryPropertyFlags(want) {
			return i, true
		}
	}
	if want != 0 {
		return findMemoryType(props, typeBits, 0)
	}
	return 0, false
}

// glfwWindow is the narrow surface of *glfw.Window this package depends on, kept as an
// interface so unit tests can stand in a fake rather than opening a real platform window
// (the window/platform abstraction is itself out of scope per spec.md §1).
type glfwWindow interface {
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocCb interface{}) (uintptr, error)
	GetSize() (int, int)
}
