package graphicscore

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrentOnceConsumedQueue_DrainEmpty(t *testing.T) {
	var q ConcurrentOnceConsumedQueue
	assert.Nil(t, q.Drain())
}

func TestConcurrentOnceConsumedQueue_PushThenDrain(t *testing.T) {
	var q ConcurrentOnceConsumedQueue
	q.Push(1)
	q.Push(2)
	q.Push(3)

	got := q.Drain()
	assert.ElementsMatch(t, []any{1, 2, 3}, got)
	assert.Nil(t, q.Drain(), "a second drain with no intervening pushes returns nothing")
}

func TestConcurrentOnceConsumedQueue_ConcurrentPushersSingleDrainer(t *testing.T) {
	var q ConcurrentOnceConsumedQueue
	const producers = 32
	const perProducer = 64

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
			}
		}(p * perProducer)
	}
	wg.Wait()

	got := q.Drain()
	assert.Len(t, got, producers*perProducer)

	ints := make([]int, len(got))
	for i, v := range got {
		ints[i] = v.(int)
	}
	sort.Ints(ints)
	for i, v := range ints {
		assert.Equal(t, i, v)
	}
}
