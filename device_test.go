package graphicscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice() *Device {
	return &Device{
		deferred:  newDeferredDestroyQueue(nil),
		resources: map[ResourceID]*Resource{},
	}
}

// TestDevice_ResourceIDStability checks spec.md §8 property 2: while a resource is
// alive, its ID does not change.
func TestDevice_ResourceIDStability(t *testing.T) {
	d := newTestDevice()
	r := &Resource{Name: "buf"}
	id := d.RegisterResource(r)
	require.NotEqual(t, invalidResourceID, id)
	assert.Equal(t, id, r.ID)
	assert.Same(t, r, d.Lookup(id))
	assert.Equal(t, id, r.ID, "ID must not change while the resource stays registered")
}

func TestDevice_RegisterResource_NeverIssuesInvalidID(t *testing.T) {
	d := newTestDevice()
	for i := 0; i < 8; i++ {
		id := d.RegisterResource(&Resource{Name: "r"})
		assert.NotEqual(t, invalidResourceID, id)
	}
}

// TestDevice_UnregisterOnUnknownIDIsNoop guards the resource-registration-lifecycle
// invariant: unregistering an ID never assigned (e.g. a resource that was created but
// never routed through RegisterResource) must not panic and must not touch the deferred
// queue.
func TestDevice_UnregisterOnUnknownIDIsNoop(t *testing.T) {
	d := newTestDevice()
	assert.NotPanics(t, func() { d.UnregisterResource(invalidResourceID) })
	assert.Equal(t, 0, d.DisposePending())
}

// TestDevice_UnregisterResource_DeferredForMaxInFlightPlusOne checks spec.md §8 property
// 1: a non-immediate resource is not destroyed synchronously, and the deferred-destroy
// queue hands it back for destruction only on the kMaxInFlightFrames+1-th tick.
func TestDevice_UnregisterResource_DeferredForMaxInFlightPlusOne(t *testing.T) {
	d := newTestDevice()
	r := &Resource{Name: "buf"}
	id := d.RegisterResource(r)

	d.UnregisterResource(id)
	assert.Nil(t, d.Lookup(id), "unregistering removes it from the live table immediately")
	assert.Equal(t, 1, d.DisposePending())

	for i := 0; i < kMaxInFlightFrames; i++ {
		assert.Empty(t, d.deferred.tick(), "resource must not be destroyed before kMaxInFlightFrames have elapsed")
	}
	ready := d.deferred.tick()
	require.Len(t, ready, 1)
	assert.Same(t, r, ready[0])
}

func TestDevice_RecycleID_ReusesFreedSlot(t *testing.T) {
	d := newTestDevice()
	r1 := &Resource{Name: "first"}
	id1 := d.RegisterResource(r1)
	d.recycleID(id1)

	r2 := &Resource{Name: "second"}
	id2 := d.RegisterResource(r2)
	assert.Equal(t, id1, id2, "a recycled ID is reused by the next registration")
}
