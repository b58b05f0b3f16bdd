package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quietpages/quietpages/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with switchable failure modes.
type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*types.Message
	failSend bool
	failAll  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string]*types.Message)}
}

func (f *fakeStore) SendMessage(_ context.Context, msg *types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend || f.failAll {
		return fmt.Errorf("store unavailable")
	}
	if _, ok := f.messages[msg.Id]; !ok {
		cp := *msg
		f.messages[msg.Id] = &cp
	}
	return nil
}

func (f *fakeStore) FetchMessages(_ context.Context) ([]*types.Message, error) {
	return f.fetchSince(time.Time{})
}

func (f *fakeStore) FetchMessagesSince(_ context.Context, since time.Time) ([]*types.Message, error) {
	return f.fetchSince(since)
}

func (f *fakeStore) fetchSince(since time.Time) ([]*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("store unavailable")
	}
	out := make([]*types.Message, 0)
	for _, msg := range f.messages {
		if msg.Timestamp.After(since) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, messageId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("store unavailable")
	}
	delete(f.messages, messageId)
	return nil
}

func (f *fakeStore) ClearRoom(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("store unavailable")
	}
	f.messages = make(map[string]*types.Message)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(roomId, preview, link string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, preview)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func msgAt(id string, ts time.Time) *types.Message {
	return &types.Message{Id: id, RoomId: "room1", Content: "m-" + id, Timestamp: ts}
}

func TestMergeIncomingDeduplicates(t *testing.T) {
	e := NewEngine("room1", false, newFakeStore(), nil, nil)
	now := time.Now()
	batch := []*types.Message{msgAt("m1", now), msgAt("m2", now.Add(time.Second))}

	// same batch arrives once via push and once via poll
	e.MergeIncoming(batch)
	e.MergeIncoming(batch)

	timeline := e.Timeline()
	require.Len(t, timeline, 2)
	assert.Equal(t, "m1", timeline[0].Id)
	assert.Equal(t, "m2", timeline[1].Id)
}

func TestMergeIncomingOrdersByTimestamp(t *testing.T) {
	e := NewEngine("room1", false, newFakeStore(), nil, nil)
	now := time.Now()
	e.MergeIncoming([]*types.Message{msgAt("m3", now.Add(3 * time.Second))})
	e.MergeIncoming([]*types.Message{msgAt("m1", now.Add(1 * time.Second))})
	e.MergeIncoming([]*types.Message{msgAt("m2", now.Add(2 * time.Second))})

	timeline := e.Timeline()
	require.Len(t, timeline, 3)
	for i := 1; i < len(timeline); i++ {
		assert.False(t, timeline[i-1].Timestamp.After(timeline[i].Timestamp))
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{timeline[0].Id, timeline[1].Id, timeline[2].Id})
}

func TestSendLocalOptimisticInsertAndEcho(t *testing.T) {
	store := newFakeStore()
	e := NewEngine("room1", false, store, nil, nil)

	msg, err := e.SendLocal(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.True(t, e.Contains(msg.Id))
	assert.Len(t, e.Timeline(), 1)

	// the echo from the push path carries the same id and must be dropped
	e.MergeIncoming([]*types.Message{{Id: msg.Id, RoomId: "room1", Content: "hello", Timestamp: msg.Timestamp}})
	assert.Len(t, e.Timeline(), 1)
}

func TestSendLocalFailureKeepsMessage(t *testing.T) {
	store := newFakeStore()
	store.failSend = true
	e := NewEngine("room1", false, store, nil, nil)

	msg, err := e.SendLocal(context.Background(), "hello", "")
	require.Error(t, err)
	// the optimistic copy stays so the user can retry
	assert.True(t, e.Contains(msg.Id))
}

func TestPollOnceAdvancesCursor(t *testing.T) {
	store := newFakeStore()
	e := NewEngine("room1", false, store, nil, nil)
	require.NoError(t, e.Start(context.Background()))

	m := msgAt("m1", time.Now())
	require.NoError(t, store.SendMessage(context.Background(), m))
	require.NoError(t, e.PollOnce(context.Background()))
	assert.True(t, e.Contains("m1"))

	// second poll after the cursor moved returns nothing new
	before := len(e.Timeline())
	require.NoError(t, e.PollOnce(context.Background()))
	assert.Len(t, e.Timeline(), before)
}

func TestPollFailureDoesNotAdvanceCursor(t *testing.T) {
	store := newFakeStore()
	e := NewEngine("room1", false, store, nil, nil)
	require.NoError(t, e.Start(context.Background()))

	m := msgAt("m1", time.Now().Add(time.Millisecond))
	require.NoError(t, store.SendMessage(context.Background(), m))

	store.mu.Lock()
	store.failAll = true
	store.mu.Unlock()
	require.Error(t, e.PollOnce(context.Background()))

	store.mu.Lock()
	store.failAll = false
	store.mu.Unlock()
	require.NoError(t, e.PollOnce(context.Background()))
	assert.True(t, e.Contains("m1"))
}

func TestStartLoadsStoreAndBackfillsCache(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SendMessage(context.Background(), msgAt("m1", time.Now())))

	cache, err := NewBuntCache(":memory:")
	require.NoError(t, err)
	defer cache.Close()

	e := NewEngine("room1", false, store, cache, nil)
	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Contains("m1"))

	cached, err := cache.Load("room1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "m1", cached[0].Id)
}

func TestStartFallsBackToCache(t *testing.T) {
	cache, err := NewBuntCache(":memory:")
	require.NoError(t, err)
	defer cache.Close()
	require.NoError(t, cache.Put(msgAt("m1", time.Now())))

	store := newFakeStore()
	store.failAll = true
	e := NewEngine("room1", false, store, cache, nil)
	err = e.Start(context.Background())
	require.Error(t, err)
	// degraded, but not empty
	assert.True(t, e.Contains("m1"))
}

// racingStore wraps fakeStore: the first full fetch stores one more message
// after taking its snapshot, like a peer writing while the initial load is in
// flight.
type racingStore struct {
	*fakeStore
	missed *types.Message
	once   sync.Once
}

func (s *racingStore) FetchMessages(ctx context.Context) ([]*types.Message, error) {
	out, err := s.fakeStore.FetchMessages(ctx)
	s.once.Do(func() {
		s.missed.Timestamp = time.Now()
		_ = s.fakeStore.SendMessage(ctx, s.missed)
	})
	return out, err
}

func TestStartCursorCoversMessagesWrittenDuringLoad(t *testing.T) {
	store := &racingStore{fakeStore: newFakeStore(), missed: msgAt("missed", time.Time{})}
	require.NoError(t, store.fakeStore.SendMessage(context.Background(), msgAt("m1", time.Now().Add(-time.Second))))

	e := NewEngine("room1", false, store, nil, nil)
	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Contains("m1"))
	assert.False(t, e.Contains("missed"), "written after the snapshot was taken")

	// the cursor predates the load, so the very next poll closes the gap
	require.NoError(t, e.PollOnce(context.Background()))
	assert.True(t, e.Contains("missed"))
}

// reentrantNotifier calls back into the engine from Notify.
type reentrantNotifier struct {
	engine *Engine
	seen   []bool
}

func (n *reentrantNotifier) Notify(roomId, preview, link string) {
	n.seen = append(n.seen, n.engine.Contains("m1"))
}

func TestNotifierMayCallBackIntoEngine(t *testing.T) {
	notifier := &reentrantNotifier{}
	e := NewEngine("room1", true, newFakeStore(), nil, notifier)
	notifier.engine = e
	e.SetForeground(false)

	done := make(chan struct{})
	go func() {
		e.MergeIncoming([]*types.Message{{Id: "m1", RoomId: "room1", Content: "hi", Timestamp: time.Now()}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("merge blocked on the notifier")
	}
	require.Len(t, notifier.seen, 1)
	assert.True(t, notifier.seen[0], "the merged message is visible from inside Notify")
}

func TestNotificationOnlyForForeignRoleInBackground(t *testing.T) {
	notifier := &recordingNotifier{}
	e := NewEngine("room1", true, newFakeStore(), nil, notifier) // admin side
	e.SetForeground(false)

	// foreign role (user) message notifies
	e.MergeIncoming([]*types.Message{{Id: "m1", RoomId: "room1", Content: "hi", SentByAdmin: false, Timestamp: time.Now()}})
	assert.Equal(t, 1, notifier.count())

	// same role does not
	e.MergeIncoming([]*types.Message{{Id: "m2", RoomId: "room1", Content: "me", SentByAdmin: true, Timestamp: time.Now()}})
	assert.Equal(t, 1, notifier.count())

	// foreground does not
	e.SetForeground(true)
	e.MergeIncoming([]*types.Message{{Id: "m3", RoomId: "room1", Content: "hi", SentByAdmin: false, Timestamp: time.Now()}})
	assert.Equal(t, 1, notifier.count())
}

func TestNoNotificationForOwnSend(t *testing.T) {
	notifier := &recordingNotifier{}
	e := NewEngine("room1", false, newFakeStore(), nil, notifier)
	e.SetForeground(false)
	_, err := e.SendLocal(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 0, notifier.count())
}

func TestDeleteLocal(t *testing.T) {
	cache, err := NewBuntCache(":memory:")
	require.NoError(t, err)
	defer cache.Close()

	e := NewEngine("room1", false, newFakeStore(), cache, nil)
	e.MergeIncoming([]*types.Message{msgAt("m1", time.Now()), msgAt("m2", time.Now().Add(time.Second))})
	e.DeleteLocal("m1")

	assert.False(t, e.Contains("m1"))
	assert.Len(t, e.Timeline(), 1)
	cached, err := cache.Load("room1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "m2", cached[0].Id)
}

func TestClearRoomRequiresAdmin(t *testing.T) {
	e := NewEngine("room1", false, newFakeStore(), nil, nil)
	assert.Equal(t, ErrNotAllowed, e.ClearRoom(context.Background()))

	admin := NewEngine("room1", true, newFakeStore(), nil, nil)
	admin.MergeIncoming([]*types.Message{msgAt("m1", time.Now())})
	require.NoError(t, admin.ClearRoom(context.Background()))
	assert.Empty(t, admin.Timeline())
}

func TestConcurrentMergeKeepsInvariants(t *testing.T) {
	e := NewEngine("room1", false, newFakeStore(), nil, nil)
	now := time.Now()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e.MergeIncoming([]*types.Message{msgAt(fmt.Sprintf("m%d", i), now.Add(time.Duration(i)*time.Millisecond))})
			}
		}()
	}
	wg.Wait()

	timeline := e.Timeline()
	require.Len(t, timeline, 50)
	seen := make(map[string]struct{})
	for i, msg := range timeline {
		_, dup := seen[msg.Id]
		assert.False(t, dup)
		seen[msg.Id] = struct{}{}
		if i > 0 {
			assert.False(t, timeline[i-1].Timestamp.After(msg.Timestamp))
		}
	}
}
