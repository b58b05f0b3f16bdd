package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quietpages/quietpages/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *BuntCache {
	t.Helper()
	c, err := NewBuntCache(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCachePutLoad(t *testing.T) {
	c := newTestCache(t)
	now := time.Now()
	// key order and timestamp order disagree here, Load walks the
	// timestamp index
	require.NoError(t, c.Put(&types.Message{Id: "m1", RoomId: "room1", Content: "a", Timestamp: now.Add(time.Second)}))
	require.NoError(t, c.Put(&types.Message{Id: "m2", RoomId: "room1", Content: "b", Timestamp: now}))
	require.NoError(t, c.Put(&types.Message{Id: "m3", RoomId: "room2", Content: "c", Timestamp: now}))

	messages, err := c.Load("room1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m2", messages[0].Id)
	assert.Equal(t, "m1", messages[1].Id)

	// putting the same id again overwrites, it does not duplicate
	require.NoError(t, c.Put(&types.Message{Id: "m1", RoomId: "room1", Content: "a2", Timestamp: now}))
	messages, err = c.Load("room1")
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Put(&types.Message{Id: "m1", RoomId: "room1", Timestamp: time.Now()}))
	require.NoError(t, c.Delete("room1", "m1"))
	require.NoError(t, c.Delete("room1", "m1"), "deleting a missing id is a no-op")

	messages, err := c.Load("room1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestCacheClearRoom(t *testing.T) {
	c := newTestCache(t)
	now := time.Now()
	require.NoError(t, c.Put(&types.Message{Id: "m1", RoomId: "room1", Timestamp: now}))
	require.NoError(t, c.Put(&types.Message{Id: "m2", RoomId: "room1", Timestamp: now}))
	require.NoError(t, c.Put(&types.Message{Id: "m3", RoomId: "room2", Timestamp: now}))

	require.NoError(t, c.ClearRoom("room1"))
	messages, err := c.Load("room1")
	require.NoError(t, err)
	assert.Empty(t, messages)
	messages, err = c.Load("room2")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestCacheSurvivesReopen(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cache.db")
	c, err := NewBuntCache(file)
	require.NoError(t, err)
	require.NoError(t, c.Put(&types.Message{Id: "m1", RoomId: "room1", Content: "kept", Timestamp: time.Now()}))
	require.NoError(t, c.Close())

	c, err = NewBuntCache(file)
	require.NoError(t, err)
	defer c.Close()
	messages, err := c.Load("room1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "kept", messages[0].Content)
}
