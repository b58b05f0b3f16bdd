package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/persistence"
	"github.com/quietpages/quietpages/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memPersister is a minimal in-memory persistence.Persister for hub tests.
type memPersister struct {
	mu       sync.Mutex
	messages []*types.Message
	fail     bool
}

func (m *memPersister) StoreMessage(msg *types.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages {
		if existing.Id == msg.Id {
			return false, nil
		}
	}
	cp := *msg
	m.messages = append(m.messages, &cp)
	return true, nil
}

func (m *memPersister) GetMessage(msg *types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages {
		if existing.Id == msg.Id {
			*msg = *existing
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (m *memPersister) GetMessages(roomId string) ([]*types.Message, error) {
	return m.GetMessagesSince(roomId, time.Time{})
}

func (m *memPersister) GetMessagesSince(roomId string, since time.Time) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, fmt.Errorf("query failed")
	}
	out := make([]*types.Message, 0)
	for _, msg := range m.messages {
		if msg.RoomId == roomId && msg.Timestamp.After(since) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPersister) DeleteMessage(roomId, messageId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if msg.Id == messageId && msg.RoomId == roomId {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memPersister) ClearRoom(roomId string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	var n int64
	for _, msg := range m.messages {
		if msg.RoomId == roomId {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return n, nil
}

func (m *memPersister) DeleteMessagesBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	var n int64
	for _, msg := range m.messages {
		if msg.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return n, nil
}

func (m *memPersister) StoreRoom(types.Room) error                 { return nil }
func (m *memPersister) GetRoom(*types.Room) error                  { return persistence.ErrNotFound }
func (m *memPersister) GetRooms() ([]*types.Room, error)           { return nil, nil }
func (m *memPersister) DeleteRoom(*types.Room) error               { return nil }
func (m *memPersister) StoreRoomPhrase(string, string) error       { return nil }
func (m *memPersister) GetRoomPhrases() (map[string]string, error) { return nil, nil }
func (m *memPersister) Close() error                               { return nil }

func testConfig() *config.Config {
	return &config.Config{
		SyncConfig: config.SyncConfig{
			HubTick:        20 * time.Millisecond,
			HubLookback:    100 * time.Millisecond,
			HeartbeatRatio: 0,
		},
		RetentionConfig: config.RetentionConfig{
			MaxAge:   time.Hour,
			CronSpec: "*/10 * * * *",
		},
	}
}

func nextEvent(t *testing.T, sub *Subscription, timeout time.Duration) *types.WireEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(timeout):
		t.Fatal("no event within timeout")
		return nil
	}
}

func TestSubscribeEmitsConnectedFirst(t *testing.T) {
	h := NewHub(testConfig(), &memPersister{})
	sub := h.Subscribe("room1")
	defer h.Unsubscribe(sub)

	ev := nextEvent(t, sub, time.Second)
	assert.Equal(t, types.WireEventTypeConnected, ev.Type)
	assert.Equal(t, "room1", ev.RoomId)
	assert.Equal(t, 1, h.NumSubscribers("room1"))
}

func TestNewMessagesArePushed(t *testing.T) {
	persister := &memPersister{}
	h := NewHub(testConfig(), persister)
	sub := h.Subscribe("room1")
	defer h.Unsubscribe(sub)
	nextEvent(t, sub, time.Second) // connected

	_, err := persister.StoreMessage(&types.Message{Id: "m1", RoomId: "room1", Content: "hi", Timestamp: time.Now()})
	require.NoError(t, err)

	ev := nextEvent(t, sub, time.Second)
	require.Equal(t, types.WireEventTypeMessages, ev.Type)
	require.Len(t, ev.Messages, 1)
	assert.Equal(t, "m1", ev.Messages[0].Id)
}

func TestMessagesOfOtherRoomsAreNotPushed(t *testing.T) {
	persister := &memPersister{}
	h := NewHub(testConfig(), persister)
	sub := h.Subscribe("room1")
	defer h.Unsubscribe(sub)
	nextEvent(t, sub, time.Second) // connected

	_, err := persister.StoreMessage(&types.Message{Id: "m1", RoomId: "room2", Content: "hi", Timestamp: time.Now()})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestQueryFailureSkipsTickWithoutUnsubscribe(t *testing.T) {
	persister := &memPersister{}
	h := NewHub(testConfig(), persister)
	sub := h.Subscribe("room1")
	defer h.Unsubscribe(sub)
	nextEvent(t, sub, time.Second) // connected

	persister.mu.Lock()
	persister.fail = true
	persister.mu.Unlock()
	_, err := persister.StoreMessage(&types.Message{Id: "m1", RoomId: "room1", Content: "hi", Timestamp: time.Now()})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.NumSubscribers("room1"))

	// once the store recovers, the cursor has not advanced past the message
	persister.mu.Lock()
	persister.fail = false
	persister.mu.Unlock()
	ev := nextEvent(t, sub, time.Second)
	require.Equal(t, types.WireEventTypeMessages, ev.Type)
	assert.Equal(t, "m1", ev.Messages[0].Id)
}

func TestHeartbeatsAreEmitted(t *testing.T) {
	cfg := testConfig()
	cfg.SyncConfig.HeartbeatRatio = 1.0
	h := NewHub(cfg, &memPersister{})
	sub := h.Subscribe("room1")
	defer h.Unsubscribe(sub)
	nextEvent(t, sub, time.Second) // connected

	ev := nextEvent(t, sub, time.Second)
	assert.Equal(t, types.WireEventTypeHeartbeat, ev.Type)
}

func TestUnsubscribeIsIdempotentAndDropsEmptyRoom(t *testing.T) {
	h := NewHub(testConfig(), &memPersister{})
	sub := h.Subscribe("room1")
	other := h.Subscribe("room1")
	assert.Equal(t, 2, h.NumSubscribers("room1"))

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	assert.Equal(t, 1, h.NumSubscribers("room1"))

	h.Unsubscribe(other)
	assert.Equal(t, 0, h.NumSubscribers("room1"))

	h.mu.RLock()
	_, ok := h.rooms["room1"]
	h.mu.RUnlock()
	assert.False(t, ok)

	// the hub released the channel
	_, open := <-sub.Events
	for open {
		_, open = <-sub.Events
	}
}

func TestRunToleratesBadRetentionSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.RetentionConfig.CronSpec = "not a schedule"
	h := NewHub(cfg, &memPersister{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		h.Run(stop)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunStopsOnClose(t *testing.T) {
	h := NewHub(testConfig(), &memPersister{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		h.Run(stop)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
