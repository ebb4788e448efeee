package chain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTTLStoreBasics verifies set/get/remove/purge round trips.
func TestTTLStoreBasics(t *testing.T) {
	s := NewTTLStore(time.Minute, 0)

	_, found := s.Get("a")
	assert.False(t, found)

	s.Set("a", 1)
	s.Set("b", 2)

	value, found := s.Get("a")
	assert.True(t, found)
	assert.Equal(t, 1, value)
	assert.Equal(t, 2, s.Len())

	s.Remove("a")
	_, found = s.Get("a")
	assert.False(t, found)

	s.Purge()
	assert.Equal(t, 0, s.Len())
}

// TestTTLStoreExpiry verifies entries die at read time once their TTL has
// passed, without any sweeper running.
func TestTTLStoreExpiry(t *testing.T) {
	s := NewTTLStore(50*time.Millisecond, 0)

	s.Set("a", 1)
	_, found := s.Get("a")
	assert.True(t, found)

	time.Sleep(80 * time.Millisecond)
	_, found = s.Get("a")
	assert.False(t, found, "expired entry must not be returned")
}

// TestLRUStoreBounds verifies the entry count stays within the configured
// size.
func TestLRUStoreBounds(t *testing.T) {
	s, err := NewLRUStore(8, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		s.Set(fmt.Sprintf("k%d", i), i)
	}
	assert.LessOrEqual(t, s.Len(), 8, "store must stay size-bounded")
}

// TestLRUStoreExpiry verifies per-entry TTL is honored at read time.
func TestLRUStoreExpiry(t *testing.T) {
	s, err := NewLRUStore(8, 50*time.Millisecond)
	require.NoError(t, err)

	s.Set("a", 1)
	value, found := s.Get("a")
	assert.True(t, found)
	assert.Equal(t, 1, value)

	time.Sleep(80 * time.Millisecond)
	_, found = s.Get("a")
	assert.False(t, found)
}

// TestLRUStoreSweep verifies the sweep drops exactly the expired entries.
func TestLRUStoreSweep(t *testing.T) {
	s, err := NewLRUStore(16, 50*time.Millisecond)
	require.NoError(t, err)

	s.Set("old1", 1)
	s.Set("old2", 2)
	time.Sleep(80 * time.Millisecond)
	s.Set("fresh", 3)

	sweeper, ok := s.(Sweeper)
	require.True(t, ok, "lru store must support sweeping")
	assert.Equal(t, 2, sweeper.Sweep())
	assert.Equal(t, 1, s.Len())

	value, found := s.Get("fresh")
	assert.True(t, found)
	assert.Equal(t, 3, value)
}

// TestLRUStoreInvalidSize verifies construction fails for a non-positive
// size.
func TestLRUStoreInvalidSize(t *testing.T) {
	_, err := NewLRUStore(0, time.Minute)
	assert.Error(t, err)
}

// TestTTLStoreNotSweeper confirms the ttl store relies on its own janitor
// rather than external sweeps.
func TestTTLStoreNotSweeper(t *testing.T) {
	s := NewTTLStore(time.Minute, 0)
	_, ok := s.(Sweeper)
	assert.False(t, ok)
}
