// ABOUTME: Tests for the TTL cache used for event dedupe and menu lookup
// ABOUTME: Drives expiry with a fake clock and checks eviction and concurrency

package ttlcache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_GetSet(t *testing.T) {
	c := New[string](time.Minute, 10)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", "alpha")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	c.Set("a", "again")
	v, _ = c.Get("a")
	assert.Equal(t, "again", v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := New[int](time.Minute, 10, WithClock[int](clock.Now))
	defer c.Close()

	c.Set("k", 1)
	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_SetRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	c := New[int](time.Minute, 10, WithClock[int](clock.Now))
	defer c.Close()

	c.Set("k", 1)
	clock.Advance(40 * time.Second)
	c.Set("k", 2)
	clock.Advance(40 * time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_Seen(t *testing.T) {
	clock := newFakeClock()
	c := New[struct{}](time.Minute, 10, WithClock[struct{}](clock.Now))
	defer c.Close()

	assert.False(t, c.Seen("$event1"))
	assert.True(t, c.Seen("$event1"))
	assert.False(t, c.Seen("$event2"))

	clock.Advance(2 * time.Minute)
	assert.False(t, c.Seen("$event1"), "expired keys count as new")
	assert.True(t, c.Seen("$event1"))
}

func TestCache_EvictsOldest(t *testing.T) {
	c := New[int](time.Hour, 3)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("a", 10) // refresh moves a to the back
	c.Set("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was oldest")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, c.Len())
}

func TestCache_Delete(t *testing.T) {
	c := New[int](time.Hour, 3)
	defer c.Close()

	c.Set("a", 1)
	c.Delete("a")
	c.Delete("never")
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := New[int](time.Minute, 10, WithClock[int](clock.Now))
	defer c.Close()

	c.Set("old1", 1)
	c.Set("old2", 2)
	clock.Advance(30 * time.Second)
	c.Set("fresh", 3)
	clock.Advance(45 * time.Second)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestCache_ConcurrentSeen(t *testing.T) {
	c := New[struct{}](time.Hour, 1000)
	defer c.Close()

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("same-event") {
				firsts.Add(1)
			}
			c.Set(fmt.Sprintf("other-%d", i), struct{}{})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load())
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New[int](10*time.Millisecond, 10)
	c.Close()
	c.Close()
}
