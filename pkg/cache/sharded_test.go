package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	c := NewSharded[float64]()
	c.Set("BTCUSDT", 42000)

	v, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 42000.0, v)

	c.Delete("BTCUSDT")
	_, ok = c.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestCleanupByAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSharded[string]()
	c.now = func() time.Time { return now }
	c.Set("old", "a")
	now = now.Add(time.Minute)
	c.Set("new", "b")

	_, age, ok := c.GetWithAge("old")
	require.True(t, ok)
	assert.Equal(t, time.Minute, age)

	assert.Equal(t, 1, c.Cleanup(30*time.Second))
	assert.Equal(t, []string{"new"}, c.Keys())
}

func TestConcurrentWriters(t *testing.T) {
	c := NewSharded[int]()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Set(fmt.Sprintf("k%d-%d", w, i), i)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 800, c.Len())
}
