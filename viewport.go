package graphicscore

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Viewport owns the VkSurfaceKHR/VkSwapchainKHR pair and the per-image RenderTarget
// wrappers the frame graph imports as its present target, generalizing the teacher's
// CoreDisplay/CoreSwapchain pair (display.go, swapchain.go) into the single spec.md §4.10
// component: "VkSurfaceKHR + VkSwapchainKHR + per-image acquire/present binary semaphores
// + RenderTarget wrappers." Acquire/present semaphores are binary per spec.md §4.3, the
// one place this package still uses them.
type Viewport struct {
	device   *Device
	instance vk.Instance
	window   glfwWindow
	log      *componentLogger

	surface vk.Surface
	format  vk.SurfaceFormat
	extent  vk.Extent2D

	swapchain     vk.Swapchain
	images        []vk.Image
	renderTargets []*Resource

	// acquireSemaphores is indexed by frame-in-flight slot (Config.FramesInFlight), not by
	// swapchain image, since the image a given acquire call will return is unknown until
	// vkAcquireNextImageKHR completes.
	acquireSemaphores []vk.Semaphore
	// presentSemaphores is indexed by swapchain image index, signaled by the submission
	// that renders into that image and waited on by Present.
	presentSemaphores []vk.Semaphore
	frameSlot         uint32
	framesInFlight    uint32
}

// NewViewport creates the surface and an initial swapchain sized to the window's current
// extent.
func NewViewport(device *Device, instance vk.Instance, window glfwWindow, cfg Config, log *componentLogger) (*Viewport, error) {
	v := &Viewport{
		device:         device,
		instance:       instance,
		window:         window,
		log:            log,
		framesInFlight: uint32(cfg.FramesInFlight),
	}

	surfacePtr, err := window.CreateWindowSurface(instance, nil)
	if err != nil {
		return nil, fmt.Errorf("graphicscore: failed to create window surface: %w", err)
	}
	v.surface = vk.SurfaceFromPointer(surfacePtr)

	v.acquireSemaphores = make([]vk.Semaphore, v.framesInFlight)
	for i := range v.acquireSemaphores {
		v.acquireSemaphores[i] = createBinarySemaphore(device.Handle(), log)
	}

	if err := v.buildSwapchain(vk.NullSwapchain); err != nil {
		return nil, err
	}
	return v, nil
}

func createBinarySemaphore(device vk.Device, log *componentLogger) vk.Semaphore {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(device, &vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}, nil, &sem)
	must(ret, log, "failed to create binary semaphore")
	return sem
}

// buildSwapchain (re)creates the swapchain against the surface's current capabilities,
// chaining the previous swapchain handle per spec.md's resize contract and replacing
// every per-image RenderTarget and present semaphore. old is vk.NullSwapchain on first
// build.
func (v *Viewport) buildSwapchain(old vk.Swapchain) error {
	gpu := v.device.PhysicalDevice()

	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(gpu, v.surface, &caps)
	must(ret, v.log, "failed to query surface capabilities")
	caps.Deref()
	caps.CurrentExtent.Deref()

	extent := caps.CurrentExtent
	if extent.Width == vk.MaxUint32 {
		w, h := v.window.GetSize()
		extent = vk.Extent2D{Width: uint32(w), Height: uint32(h)}
	}
	v.extent = extent

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(gpu, v.surface, &formatCount, nil)
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(gpu, v.surface, &formatCount, formats)
	format := formats[0]
	format.Deref()
	for _, f := range formats {
		f.Deref()
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			format = f
			break
		}
	}
	if format.Format == vk.FormatUndefined {
		format.Format = vk.FormatB8g8r8a8Unorm
	}
	v.format = format

	desiredImages := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && desiredImages > caps.MaxImageCount {
		desiredImages = caps.MaxImageCount
	}

	var swapchain vk.Swapchain
	ret = vk.CreateSwapchain(v.device.Handle(), &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          v.surface,
		MinImageCount:    desiredImages,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}, nil, &swapchain)
	if isError(ret) {
		return newError(ret)
	}
	if old != vk.NullSwapchain {
		v.destroyPerImageState()
		vk.DestroySwapchain(v.device.Handle(), old, nil)
	}
	v.swapchain = swapchain

	var imageCount uint32
	vk.GetSwapchainImages(v.device.Handle(), v.swapchain, &imageCount, nil)
	v.images = make([]vk.Image, imageCount)
	vk.GetSwapchainImages(v.device.Handle(), v.swapchain, &imageCount, v.images)

	v.renderTargets = make([]*Resource, imageCount)
	v.presentSemaphores = make([]vk.Semaphore, imageCount)
	for i, img := range v.images {
		var view vk.ImageView
		ret := vk.CreateImageView(v.device.Handle(), &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   format.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}, nil, &view)
		must(ret, v.log, "failed to create swapchain image view")

		v.renderTargets[i] = newRenderTargetResource(invalidResourceID, RenderTargetDesc{
			Name: "SwapchainImage", Width: extent.Width, Height: extent.Height, Format: format.Format,
		}, img, allocation{}, view)
		// Swapchain images are owned by the swapchain, not this resource's allocation —
		// mark immediate so nothing ever routes it through the deferred-destroy queue,
		// and it is torn down explicitly by destroyPerImageState instead of
		// Resource.destroyNative (which would call vkDestroyImage on a borrowed image).
		v.renderTargets[i].immediate = true

		v.presentSemaphores[i] = createBinarySemaphore(v.device.Handle(), v.log)
	}

	v.log.Info().Uint32("images", imageCount).Uint32("width", extent.Width).Uint32("height", extent.Height).
		Msg("swapchain built")
	return nil
}

func (v *Viewport) destroyPerImageState() {
	for _, rt := range v.renderTargets {
		vk.DestroyImageView(v.device.Handle(), rt.WholeView(), nil)
	}
	for _, sem := range v.presentSemaphores {
		vk.DestroySemaphore(v.device.Handle(), sem, nil)
	}
}

// AcquireNextImage waits on the next frame slot's acquire semaphore becoming signalable
// and returns the image index and render target to import into this frame's graph.
// ResultCode Abort signals the caller should call Resize and retry the frame, per
// spec.md §7's swapchain OUT_OF_DATE/SUBOPTIMAL handling.
func (v *Viewport) AcquireNextImage() (imageIndex uint32, target *Resource, sem vk.Semaphore, code ResultCode) {
	sem = v.acquireSemaphores[v.frameSlot]
	ret := vk.AcquireNextImage(v.device.Handle(), v.swapchain, vk.MaxUint64, sem, vk.NullFence, &imageIndex)
	if ret == vk.ErrorOutOfDate {
		return 0, nil, vk.NullSemaphore, Abort
	}
	if isError(ret) && ret != vk.Suboptimal {
		v.log.Fatal().Err(newError(ret)).Msg("failed to acquire swapchain image")
	}
	v.frameSlot = (v.frameSlot + 1) % v.framesInFlight
	return imageIndex, v.renderTargets[imageIndex], sem, Success
}

// Present issues vkQueuePresentKHR waiting on the render semaphore the frame's submission
// signaled. ResultCode Abort means the caller should Resize before the next frame.
func (v *Viewport) Present(queue *CommandQueue, imageIndex uint32) ResultCode {
	sem := v.presentSemaphores[imageIndex]
	swapchains := []vk.Swapchain{v.swapchain}
	indices := []uint32{imageIndex}
	ret := vk.QueuePresent(queue.Handle(), &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        swapchains,
		PImageIndices:      indices,
	})
	if isPresentRecoverable(ret) {
		return Abort
	}
	must(ret, v.log, "failed to present swapchain image")
	return Success
}

// RenderSemaphore returns the binary semaphore the frame's final submission into
// imageIndex must signal, for Present to wait on.
func (v *Viewport) RenderSemaphore(imageIndex uint32) vk.Semaphore {
	return v.presentSemaphores[imageIndex]
}

// Resize rebuilds the swapchain against the surface's current extent, called from
// OnWindowResize (spec.md §6) or after AcquireNextImage/Present report Abort.
func (v *Viewport) Resize() error {
	vk.DeviceWaitIdle(v.device.Handle())
	return v.buildSwapchain(v.swapchain)
}

func (v *Viewport) Extent() vk.Extent2D { return v.extent }

func (v *Viewport) Format() vk.Format { return v.format.Format }

func (v *Viewport) Destroy() {
	vk.DeviceWaitIdle(v.device.Handle())
	v.destroyPerImageState()
	vk.DestroySwapchain(v.device.Handle(), v.swapchain, nil)
	vk.DestroySurface(v.instance, v.surface, nil)
	for _, sem := range v.acquireSemaphores {
		vk.DestroySemaphore(v.device.Handle(), sem, nil)
	}
}
