package graphicscore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionGroup_SignalThenWait(t *testing.T) {
	g := NewCompletionGroup()
	assert.False(t, g.IsDone())
	g.Signal(false)
	g.Wait()
	assert.True(t, g.IsDone())
	assert.False(t, g.Failed())
}

func TestCompletionGroup_SignalFailed(t *testing.T) {
	g := NewCompletionGroup()
	g.Signal(true)
	assert.True(t, g.Failed(), "failure sets a flag but still signals so callers don't deadlock")
}

func TestCompletionGroup_WaitContextTimesOut(t *testing.T) {
	g := NewCompletionGroup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.WaitContext(ctx)
	require.Error(t, err)
}

func TestCompletionGroup_DoubleSignalPanics(t *testing.T) {
	g := NewCompletionGroup()
	g.Signal(false)
	assert.Panics(t, func() { g.Signal(false) })
}

func TestWaitAll_SkipsNilGroups(t *testing.T) {
	a := NewCompletionGroup()
	a.Signal(false)
	err := WaitAll(context.Background(), a, nil)
	assert.NoError(t, err)
}

func TestWaitAll_WaitsForEvery(t *testing.T) {
	a := NewCompletionGroup()
	b := NewCompletionGroup()
	go func() {
		time.Sleep(5 * time.Millisecond)
		a.Signal(false)
		b.Signal(false)
	}()
	err := WaitAll(context.Background(), a, b)
	assert.NoError(t, err)
	assert.True(t, a.IsDone())
	assert.True(t, b.IsDone())
}
