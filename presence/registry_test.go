package presence

import (
	"testing"
	"time"

	"github.com/quietpages/quietpages/types"
	"github.com/stretchr/testify/assert"
)

func TestSetAndListTyping(t *testing.T) {
	r := NewRegistry(time.Second)
	r.SetTyping("room1", "admin")
	r.SetTyping("room1", "user")
	r.SetTyping("room2", "user")

	assert.ElementsMatch(t, []string{"admin"}, r.ListTyping("room1", "user"))
	assert.ElementsMatch(t, []string{"user"}, r.ListTyping("room1", "admin"))
	assert.Empty(t, r.ListTyping("room2", "user"))
	assert.Empty(t, r.ListTyping("room3", "user"))
}

func TestClearTyping(t *testing.T) {
	r := NewRegistry(time.Second)
	r.SetTyping("room1", "user")
	r.ClearTyping("room1", "user")
	assert.Empty(t, r.ListTyping("room1", "admin"))
	// clearing again is a no-op
	r.ClearTyping("room1", "user")
	r.ClearTyping("room9", "user")
}

func TestTypingExpiry(t *testing.T) {
	r := NewRegistry(300 * time.Millisecond)
	r.SetTyping("room1", "user")

	time.Sleep(150 * time.Millisecond)
	assert.ElementsMatch(t, []string{"user"}, r.ListTyping("room1", "admin"))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, r.ListTyping("room1", "admin"))
}

func TestRefreshReplacesTimer(t *testing.T) {
	r := NewRegistry(300 * time.Millisecond)
	r.SetTyping("room1", "user")
	time.Sleep(200 * time.Millisecond)
	// refresh moves the deadline, the original timer must not remove the entry
	r.SetTyping("room1", "user")
	time.Sleep(200 * time.Millisecond)
	assert.ElementsMatch(t, []string{"user"}, r.ListTyping("room1", "admin"))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, r.ListTyping("room1", "admin"))
}

func TestEmptyRoomIsDropped(t *testing.T) {
	r := NewRegistry(time.Second)
	r.SetTyping("room1", "user")
	r.ClearTyping("room1", "user")
	r.mu.Lock()
	_, ok := r.rooms["room1"]
	r.mu.Unlock()
	assert.False(t, ok)
}

func TestExpiredRoomIsDropped(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	r.SetTyping("room1", "user")
	time.Sleep(200 * time.Millisecond)
	r.mu.Lock()
	_, ok := r.rooms["room1"]
	r.mu.Unlock()
	assert.False(t, ok)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "alice", NormalizeKey("alice", false))
	assert.Equal(t, types.ParticipantKeyUser, NormalizeKey("", false))
	assert.Equal(t, types.ParticipantKeyAdmin, NormalizeKey("", true))
}

func TestStates(t *testing.T) {
	r := NewRegistry(time.Second)
	r.SetTyping("room1", "user")
	states := r.States("room1")
	assert.Len(t, states, 1)
	assert.Equal(t, "room1", states[0].RoomId)
	assert.Equal(t, "user", states[0].ParticipantKey)
	assert.True(t, states[0].ExpiresAt.After(time.Now()))
}
