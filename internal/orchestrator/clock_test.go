package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtZero(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(1), c.Current())
}

func TestClock_ResumesAfterStart(t *testing.T) {
	c := NewClockAt(100)
	assert.Equal(t, int64(101), c.Next())
}

func TestClock_ConcurrentNextIsUnique(t *testing.T) {
	c := NewClock()
	const workers, per = 8, 100

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*per)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range per {
				v := c.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*per)
	assert.Equal(t, int64(workers*per), c.Current())
}

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()
	_, ok := q.TryDequeue()
	assert.False(t, ok)

	a, b := &JobRecord{ID: "a"}, &JobRecord{ID: "b"}
	q.Enqueue(a)
	q.Enqueue(b)
	assert.Equal(t, 2, q.Len())

	got, ok := q.TryDequeue()
	assert.True(t, ok)
	assert.Same(t, a, got)
	got, _ = q.TryDequeue()
	assert.Same(t, b, got)
	assert.Equal(t, 0, q.Len())
}
