package graphicscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSyncPoint_Elapsed checks spec.md §8 property 8: a nil fence (never set, e.g. a
// freshly zero-valued SyncPoint) is always considered already elapsed.
func TestSyncPoint_Elapsed_NilFenceAlwaysElapsed(t *testing.T) {
	var s SyncPoint
	assert.True(t, s.Elapsed())
}

// TestTimelineFence_Next checks spec.md §8 property 7: the sequence of values handed out
// by Next is strictly increasing, so two concurrent producers never collide.
func TestTimelineFence_Next_StrictlyIncreasing(t *testing.T) {
	f := &TimelineFence{}
	prev := f.Next()
	for i := 0; i < 16; i++ {
		v := f.Next()
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestSamplerState_KeyDeterministic(t *testing.T) {
	s1 := SamplerState{MinFilter: 1, MagFilter: 2, AddressU: 3, AddressV: 4, AddressW: 5}
	s2 := s1
	assert.Equal(t, s1.key(), s2.key())

	s3 := s1
	s3.AddressW = 6
	assert.NotEqual(t, s1.key(), s3.key())
}
