package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheRoundTrip(t *testing.T) {
	c := New(time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("run:abc", []byte(`{"k":2}`))
	data, ok := c.Get("run:abc")
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"k":2}`), data)
	assert.Equal(t, 1, c.Size())

	c.Delete("run:abc")
	_, ok = c.Get("run:abc")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Set("run:abc", []byte("x"))

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("run:abc")
	assert.False(t, ok)
}

func TestCacheClear(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	c.Clear()
	assert.Zero(t, c.Size())
}
