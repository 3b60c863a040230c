package graphicscore

// LinearAllocator is a bump allocator that hands out byte slices from a contiguous
// backing buffer and is reset in bulk rather than reclaiming individual allocations,
// grounded on the original engine's GenericLinearAllocator
// (FerrumCore/FeCore/Allocators/LinearAllocator.h): "Deallocate... do nothing here, the
// memory is freed only from CollectGarbage." Used for CommandBuffer per-buffer scratch
// (spec.md §3: "per-buffer linear allocator (for viewport arrays, barrier scratch,
// etc.)") and for the frame-graph's setup/execute allocators (spec.md §3).
type LinearAllocator struct {
	buf    []byte
	offset int
}

// NewLinearAllocator preallocates capacity bytes; the arena still grows past that if a
// caller overruns it; to an idiomatic Go arena, growing is cheaper than failing a frame.
func NewLinearAllocator(capacity int) *LinearAllocator {
	return &LinearAllocator{buf: make([]byte, capacity)}
}

// Alloc returns a zeroed slice of n bytes carved from the arena. The returned slice is
// only valid until the next Reset.
func (a *LinearAllocator) Alloc(n int) []byte {
	if a.offset+n > len(a.buf) {
		grown := make([]byte, len(a.buf)*2+n)
		copy(grown, a.buf[:a.offset])
		a.buf = grown
	}
	out := a.buf[a.offset : a.offset+n]
	a.offset += n
	for i := range out {
		out[i] = 0
	}
	return out
}

// Reset rewinds the bump pointer to the start of the arena without releasing the backing
// array, so steady-state per-frame use never re-allocates once the working set has grown
// to its high-water mark.
func (a *LinearAllocator) Reset() {
	a.offset = 0
}

func (a *LinearAllocator) Used() int { return a.offset }
