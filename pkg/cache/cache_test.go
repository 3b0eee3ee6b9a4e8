package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheSetGet(t *testing.T) {
	c := New(10, time.Minute)
	key := Key("GET", "https://img.example/a.jpg", nil)

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, []byte("data"))
	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, []byte("data"), got)
	assert.Equal(t, 1, c.Len())
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	c := New(2, time.Minute)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte{byte(i)})
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok)
	_, ok = c.Get("k2")
	assert.True(t, ok)
}

func TestCacheExpiresEntries(t *testing.T) {
	c := New(10, 20*time.Millisecond)
	c.Set("k", []byte("v"))
	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNilCacheIsInert(t *testing.T) {
	var c *Cache
	c.Set("k", []byte("v"))
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
	c.Clear()
}

func TestKeyIncludesMethodAndBody(t *testing.T) {
	assert.NotEqual(t, Key("GET", "/u", nil), Key("POST", "/u", nil))
	assert.NotEqual(t, Key("GET", "/u", []byte("a")), Key("GET", "/u", []byte("b")))
}
