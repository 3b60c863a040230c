package graphicscore

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// QueueKind names the three families spec.md §3 expects the Device to maintain a
// command-pool-per-family for.
type QueueKind int

const (
	QueueGraphics QueueKind = iota
	QueueCompute
	QueueTransfer
	numQueueKinds
)

func (k QueueKind) String() string {
	switch k {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// queueFamilyTable discovers a physical device's queue families and picks one family per
// QueueKind, generalizing the teacher's CoreQueue (queue.go) from "enumerate and bind
// whichever family matches a flag" into the fixed graphics/compute/transfer triple
// spec.md §3 names.
type queueFamilyTable struct {
	properties []vk.QueueFamilyProperties
	families   [numQueueKinds]uint32
	bound      [numQueueKinds]bool
}

func newQueueFamilyTable(gpu vk.PhysicalDevice) *queueFamilyTable {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)
	for i := range props {
		props[i].Deref()
	}
	t := &queueFamilyTable{properties: props}
	t.bindGraphics()
	t.bindDedicated(QueueCompute, vk.QueueComputeBit, vk.QueueGraphicsBit)
	t.bindDedicated(QueueTransfer, vk.QueueTransferBit, vk.QueueGraphicsBit|vk.QueueComputeBit)
	return t
}

func (t *queueFamilyTable) bindGraphics() {
	for i, p := range t.properties {
		if p.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			t.families[QueueGraphics] = uint32(i)
			t.bound[QueueGraphics] = true
			return
		}
	}
}

// bindDedicated prefers a family that has `want` but none of `avoid`, falling back first
// to any family that has `want` and then to the graphics family — most integrated GPUs expose only one
// queue family, and the spec's three-queue model degrades to "everything shares one
// queue" cleanly since CommandQueue submission is already serialized per queue.
func (t *queueFamilyTable) bindDedicated(kind QueueKind, want, avoid vk.QueueFlagBits) {
	for i, p := range t.properties {
		if p.QueueFlags&vk.QueueFlags(want) != 0 && p.QueueFlags&vk.QueueFlags(avoid) == 0 {
			t.families[kind] = uint32(i)
			t.bound[kind] = true
			return
		}
	}
	for i, p := range t.properties {
		if p.QueueFlags&vk.QueueFlags(want) != 0 {
			t.families[kind] = uint32(i)
			t.bound[kind] = true
			return
		}
	}
	t.families[kind] = t.families[QueueGraphics]
	t.bound[kind] = true
}

func (t *queueFamilyTable) isSuitable() bool {
	return t.bound[QueueGraphics]
}

// uniqueFamilyIndices returns the distinct family indices actually in use, so device
// creation requests exactly one vk.DeviceQueueCreateInfo per family rather than one per
// logical QueueKind (two kinds frequently alias the same family).
func (t *queueFamilyTable) uniqueFamilyIndices() []uint32 {
	seen := map[uint32]bool{}
	var out []uint32
	for k := QueueKind(0); k < numQueueKinds; k++ {
		f := t.families[k]
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func (t *queueFamilyTable) deviceQueueCreateInfos() []vk.DeviceQueueCreateInfo {
	priority := []float32{1.0}
	var infos []vk.DeviceQueueCreateInfo
	for _, family := range t.uniqueFamilyIndices() {
		infos = append(infos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: priority,
		})
	}
	return infos
}

// CommandQueue is a Vulkan queue plus the TimelineFence every submission on it signals
// against, implementing spec.md §4.3's "Queues submit one 'signal these, wait for those'
// batch per submission via VK_KHR_timeline_semaphore."
type CommandQueue struct {
	kind         QueueKind
	handle       vk.Queue
	familyIndex  uint32
	fence        *TimelineFence
	commandPools map[uint32]*commandPool // keyed by worker/thread slot, see NewCommandBuffer
	device       vk.Device
	log          *componentLogger
}

func newCommandQueue(device vk.Device, kind QueueKind, familyIndex uint32, log *componentLogger) *CommandQueue {
	var handle vk.Queue
	vk.GetDeviceQueue(device, familyIndex, 0, &handle)
	return &CommandQueue{
		kind:         kind,
		handle:       handle,
		familyIndex:  familyIndex,
		fence:        NewTimelineFence(device, log),
		commandPools: map[uint32]*commandPool{},
		device:       device,
		log:          log,
	}
}

// Handle exposes the native vk.Queue for callers that need it directly (swapchain
// present, for instance, which is not expressible through the timeline-fence submit
// path).
func (q *CommandQueue) Handle() vk.Queue { return q.handle }

func (q *CommandQueue) FamilyIndex() uint32 { return q.familyIndex }

func (q *CommandQueue) Fence() *TimelineFence { return q.fence }

// PoolFor returns (creating if absent) the CommandQueue's command pool for the given
// worker slot. A command pool is not thread-safe in Vulkan, so each concurrent recorder
// (the main thread, each job-system worker that records transfer work) gets its own.
func (q *CommandQueue) PoolFor(worker uint32) *commandPool {
	if p, ok := q.commandPools[worker]; ok {
		return p
	}
	p := newCommandPool(q.device, q.familyIndex, q.log)
	q.commandPools[worker] = p
	return p
}

func (q *CommandQueue) Destroy() {
	for _, p := range q.commandPools {
		p.destroy(q.device)
	}
	q.fence.Destroy()
}

func (q *CommandQueue) String() string {
	return fmt.Sprintf("CommandQueue{kind=%s family=%d}", q.kind, q.familyIndex)
}
