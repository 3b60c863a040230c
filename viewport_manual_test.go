//go:build manual

package graphicscore

import (
	"runtime"
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
)

const (
	smokeWidth  = 500
	smokeHeight = 500
)

// TestRenderSmoke exercises scenario S1 from spec.md end to end against a real GPU: it
// opens a window, stands up a Device and Viewport, acquires one swapchain image, runs a
// frame-graph pass that transitions the backbuffer straight to present, and presents. It
// is excluded from normal `go test` runs since it requires a GPU and a window manager;
// run it explicitly with `-tags manual`.
func TestRenderSmoke(t *testing.T) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		t.Fatalf("glfw init: %v", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.Visible, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())

	if err := vk.Init(); err != nil {
		t.Fatalf("vk init: %v", err)
	}

	window, err := glfw.CreateWindow(smokeWidth, smokeHeight, "graphicscore smoke test", nil, nil)
	if err != nil {
		t.Fatalf("create window: %v", err)
	}
	defer window.Destroy()

	cfg := DefaultConfig()
	device, err := NewDevice(cfg, window)
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	defer device.Shutdown()

	viewport, err := NewViewport(device, device.instance, window, cfg, newComponentLogger("viewport"))
	if err != nil {
		t.Fatalf("new viewport: %v", err)
	}
	defer viewport.Destroy()

	pool := NewFrameGraphResourcePool(device.Pool(), device)
	fg := NewFrameGraph(device, pool, newComponentLogger("framegraph"))

	for frame := 0; frame < 3 && !window.ShouldClose(); frame++ {
		glfw.PollEvents()

		imageIndex, backbuffer, acquireSem, code := viewport.AcquireNextImage()
		if code == Abort {
			if err := viewport.Resize(); err != nil {
				t.Fatalf("resize: %v", err)
			}
			continue
		}

		fg.PrepareSetup()
		fg.AddPass("Present", func(b *PassBuilder) {
			h := b.ImportExternalImage(backbuffer)
			b.WriteImage(h, AccessPresent)
		}, func(ctx *FrameGraphContext) {})
		fg.Build()
		fg.Compile()

		cmd := NewCommandBuffer(device.Handle(), device.GetCommandQueue(QueueGraphics), 0, newComponentLogger("cmd"))
		cmd.Begin()
		cmd.WaitBinarySemaphore(acquireSem, vk.PipelineStageColorAttachmentOutputBit)
		fg.Execute(cmd, nil)
		cmd.SignalBinarySemaphore(viewport.RenderSemaphore(imageIndex))
		cmd.End()
		cmd.Submit()

		if code := viewport.Present(device.GetCommandQueue(QueueGraphics), imageIndex); code == Abort {
			if err := viewport.Resize(); err != nil {
				t.Fatalf("resize: %v", err)
			}
		}
		device.OnFrameEnd()
	}
}
