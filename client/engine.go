package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quietpages/quietpages/globals"
	"github.com/quietpages/quietpages/types"
)

// Store is the engine's view of the durable message store, usually backed by
// the HTTP API of the server.
type Store interface {
	SendMessage(ctx context.Context, msg *types.Message) error
	FetchMessages(ctx context.Context) ([]*types.Message, error)
	FetchMessagesSince(ctx context.Context, since time.Time) ([]*types.Message, error)
	DeleteMessage(ctx context.Context, messageId string) error
	ClearRoom(ctx context.Context) error
}

// Engine maintains the authoritative in-memory timeline of one room. Three
// independent sources feed it: the optimistic local send, the live event
// stream and the poll fallback. All of them go through apply, the single
// serialized choke point that deduplicates by id and keeps the timeline
// ordered by timestamp, so duplicate delivery from any combination of
// sources is harmless.
type Engine struct {
	roomId   string
	isAdmin  bool
	store    Store
	cache    Cache
	notifier Notifier

	mu         sync.Mutex
	byId       map[string]*types.Message
	timeline   []*types.Message
	localIds   map[string]struct{}
	cursor     time.Time
	foreground bool
}

func NewEngine(roomId string, isAdmin bool, store Store, cache Cache, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		roomId:     roomId,
		isAdmin:    isAdmin,
		store:      store,
		cache:      cache,
		notifier:   notifier,
		byId:       make(map[string]*types.Message),
		localIds:   make(map[string]struct{}),
		foreground: true,
	}
}

// Start loads the full current timeline from the store (the source of truth),
// backfills the local cache from that load and positions the poll cursor.
// The cursor is captured before the fetch is issued: a message stored while
// the load is in flight may miss the snapshot, and only a cursor older than
// the snapshot guarantees the next poll picks it up. Push/poll must only be
// started afterwards, so a cold client never operates purely on a stale local
// cache. If the store is unreachable the cached copy is used as a degraded
// starting point and the error is returned.
func (e *Engine) Start(ctx context.Context) error {
	start := time.Now()
	messages, err := e.store.FetchMessages(ctx)
	if err != nil {
		globals.AppLogger.Error("could not load timeline from store", "room", e.roomId, "error", err)
		if e.cache != nil {
			if cached, cerr := e.cache.Load(e.roomId); cerr == nil {
				e.MergeIncoming(cached)
			}
		}
		return err
	}
	e.MergeIncoming(messages)
	e.mu.Lock()
	e.cursor = start
	e.mu.Unlock()
	return nil
}

// SendLocal synthesizes a message with a client-generated id, inserts it into
// the timeline immediately and then issues the durable write carrying the
// same id, so the later echo from the push or poll path is recognized as
// already seen. On a failed write the optimistic message stays in the
// timeline and the error is returned so the caller can offer a retry.
func (e *Engine) SendLocal(ctx context.Context, content, imageUrl string) (*types.Message, error) {
	msg := &types.Message{
		Id:          types.NewMessageId(e.roomId),
		RoomId:      e.roomId,
		Content:     content,
		ImageUrl:    imageUrl,
		SentByAdmin: e.isAdmin,
		Timestamp:   time.Now(),
	}
	e.mu.Lock()
	e.localIds[msg.Id] = struct{}{}
	_ = e.apply(msg)
	e.mu.Unlock()
	if err := e.store.SendMessage(ctx, msg); err != nil {
		globals.AppLogger.Error("could not send message, kept locally", "id", msg.Id, "error", err)
		return msg, err
	}
	return msg, nil
}

// MergeIncoming applies a batch from the push or poll path: unknown ids are
// inserted in timestamp order and persisted to the local cache, known ids are
// discarded silently. Notifications fire after the lock is released, so a
// slow notifier (or one calling back into the engine) cannot stall a merge.
func (e *Engine) MergeIncoming(batch []*types.Message) {
	var pending []*types.Message
	e.mu.Lock()
	for _, msg := range batch {
		if e.apply(msg) {
			pending = append(pending, msg)
		}
	}
	e.mu.Unlock()
	for _, msg := range pending {
		e.notifier.Notify(e.roomId, previewOf(msg), "/chat/"+e.roomId)
	}
}

// apply inserts one message and reports whether it warrants a notification.
// Callers must hold e.mu and must not invoke the notifier under it.
func (e *Engine) apply(msg *types.Message) bool {
	if msg == nil || msg.Id == "" {
		return false
	}
	if _, ok := e.byId[msg.Id]; ok {
		return false
	}
	e.byId[msg.Id] = msg
	idx := sort.Search(len(e.timeline), func(i int) bool {
		return e.timeline[i].Timestamp.After(msg.Timestamp)
	})
	e.timeline = append(e.timeline, nil)
	copy(e.timeline[idx+1:], e.timeline[idx:])
	e.timeline[idx] = msg
	if e.cache != nil {
		if err := e.cache.Put(msg); err != nil {
			globals.AppLogger.Error("could not cache message", "id", msg.Id, "error", err)
		}
	}
	return e.shouldNotify(msg)
}

// shouldNotify is true for a foreign-role message arriving while the client
// is in the background. Messages this engine originated never notify.
func (e *Engine) shouldNotify(msg *types.Message) bool {
	if e.foreground {
		return false
	}
	if _, local := e.localIds[msg.Id]; local {
		return false
	}
	return msg.SentByAdmin != e.isAdmin
}

// PollOnce is the fallback pull: fetch everything newer than the cursor,
// merge, then advance the cursor to the poll time. Re-fetching an already
// merged message is harmless, missing one is not, which is why the cursor
// only moves on success.
func (e *Engine) PollOnce(ctx context.Context) error {
	e.mu.Lock()
	cursor := e.cursor
	e.mu.Unlock()
	next := time.Now()
	batch, err := e.store.FetchMessagesSince(ctx, cursor)
	if err != nil {
		return err
	}
	e.MergeIncoming(batch)
	e.mu.Lock()
	e.cursor = next
	e.mu.Unlock()
	return nil
}

// DeleteLocal removes the message from the timeline and the local cache only.
func (e *Engine) DeleteLocal(messageId string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byId[messageId]; !ok {
		return
	}
	delete(e.byId, messageId)
	delete(e.localIds, messageId)
	for i, msg := range e.timeline {
		if msg.Id == messageId {
			e.timeline = append(e.timeline[:i], e.timeline[i+1:]...)
			break
		}
	}
	if e.cache != nil {
		if err := e.cache.Delete(e.roomId, messageId); err != nil {
			globals.AppLogger.Error("could not remove cached message", "id", messageId, "error", err)
		}
	}
}

// Delete issues the durable per-message delete and removes the local copy.
// The local copy stays if the server rejects the delete.
func (e *Engine) Delete(ctx context.Context, messageId string) error {
	if err := e.store.DeleteMessage(ctx, messageId); err != nil {
		return err
	}
	e.DeleteLocal(messageId)
	return nil
}

// ClearRoom wipes the timeline and the local cache and issues the durable
// delete-all. Only the room's privileged participant may do this.
func (e *Engine) ClearRoom(ctx context.Context) error {
	if !e.isAdmin {
		return ErrNotAllowed
	}
	if err := e.store.ClearRoom(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.byId = make(map[string]*types.Message)
	e.localIds = make(map[string]struct{})
	e.timeline = nil
	e.mu.Unlock()
	if e.cache != nil {
		if err := e.cache.ClearRoom(e.roomId); err != nil {
			globals.AppLogger.Error("could not clear cached room", "room", e.roomId, "error", err)
		}
	}
	return nil
}

// SetForeground tells the engine whether the client is currently visible;
// background clients get notifications for foreign-role messages.
func (e *Engine) SetForeground(foreground bool) {
	e.mu.Lock()
	e.foreground = foreground
	e.mu.Unlock()
}

// Timeline returns a snapshot copy of the ordered, deduplicated timeline.
func (e *Engine) Timeline() []*types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Message, len(e.timeline))
	copy(out, e.timeline)
	return out
}

// Contains reports whether an id is present in the timeline.
func (e *Engine) Contains(messageId string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.byId[messageId]
	return ok
}
