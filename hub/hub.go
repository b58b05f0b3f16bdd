package hub

import (
	"math/rand"
	"sync"
	"time"

	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/globals"
	"github.com/quietpages/quietpages/persistence"
	"github.com/quietpages/quietpages/types"
	"github.com/robfig/cron/v3"
)

const (
	eventChannelSize = 64
)

// Hub delivers newly stored messages to every open live channel of a room.
// There is one hub per process; each subscription runs its own tick-driven
// query loop, so a slow or failing subscription never blocks the others.
// Membership of a room's subscription set is the only shared mutation, and it
// is guarded by a lock scoped to that room.
type Hub struct {
	cfg       *config.Config
	persister persistence.Persister

	// guards the room map only, never held during I/O
	mu    sync.RWMutex
	rooms map[string]*roomSet
}

type roomSet struct {
	sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one live channel. The hub exclusively owns the Events
// channel for the duration of the connection and closes it on Unsubscribe.
type Subscription struct {
	RoomId string
	Events chan *types.WireEvent

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func NewHub(cfg *config.Config, persister persistence.Persister) *Hub {
	return &Hub{
		cfg:       cfg,
		persister: persister,
		rooms:     make(map[string]*roomSet),
	}
}

// Subscribe registers a new live channel under the room. The "connected"
// event is queued before the tick loop starts, so it is always the first
// event a subscriber sees.
func (h *Hub) Subscribe(roomId string) *Subscription {
	sub := &Subscription{
		RoomId: roomId,
		Events: make(chan *types.WireEvent, eventChannelSize),
		done:   make(chan struct{}),
	}
	rs := h.roomSet(roomId)
	rs.Lock()
	rs.subs[sub] = struct{}{}
	rs.Unlock()
	sub.send(&types.WireEvent{Type: types.WireEventTypeConnected, RoomId: roomId})
	go h.runSubscription(sub)
	globals.AppLogger.Debug("subscribed", "room", roomId)
	return sub
}

// Unsubscribe removes the channel from the room's set and releases it. It is
// idempotent and must be called on client disconnect, write failure or
// explicit close. When the set becomes empty the room entry is dropped.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		close(sub.done)
		h.mu.Lock()
		rs, ok := h.rooms[sub.RoomId]
		if ok {
			rs.Lock()
			delete(rs.subs, sub)
			empty := len(rs.subs) == 0
			rs.Unlock()
			if empty {
				delete(h.rooms, sub.RoomId)
			}
		}
		h.mu.Unlock()
		sub.mu.Lock()
		sub.closed = true
		close(sub.Events)
		sub.mu.Unlock()
		globals.AppLogger.Debug("unsubscribed", "room", sub.RoomId)
	})
}

// NumSubscribers returns the size of a room's live channel set.
func (h *Hub) NumSubscribers(roomId string) int {
	h.mu.RLock()
	rs, ok := h.rooms[roomId]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	rs.Lock()
	defer rs.Unlock()
	return len(rs.subs)
}

// Run starts the periodic retention sweep and blocks until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if h.persister != nil && h.cfg.RetentionConfig.MaxAge > 0 {
		_, err := cronRunner.AddFunc(h.cfg.RetentionConfig.CronSpec, func() {
			cutoff := time.Now().Add(-h.cfg.RetentionConfig.MaxAge)
			n, err := h.persister.DeleteMessagesBefore(cutoff)
			if err != nil {
				globals.AppLogger.Error("could not sweep expired messages", "error", err)
				return
			}
			if n > 0 {
				globals.AppLogger.Info("swept expired messages", "count", n)
			}
		})
		if err != nil {
			// a bad schedule disables the sweep, nothing else
			globals.AppLogger.Error("could not schedule retention sweep", "schedule", h.cfg.RetentionConfig.CronSpec, "error", err)
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()
	<-stop
}

func (h *Hub) roomSet(roomId string) *roomSet {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.rooms[roomId]
	if !ok {
		rs = &roomSet{subs: make(map[*Subscription]struct{})}
		h.rooms[roomId] = rs
	}
	return rs
}

// runSubscription is the per-subscription tick loop: query the store for rows
// newer than the cursor, push a batch event on a non-empty result, advance
// the cursor to the query time. A failed query is logged and skipped for that
// tick; the cursor stays put, so the next tick re-fetches (the client
// deduplicates, so re-fetching is harmless while missing rows is not).
func (h *Hub) runSubscription(sub *Subscription) {
	ticker := time.NewTicker(h.cfg.SyncConfig.HubTick)
	defer ticker.Stop()
	cursor := time.Now().Add(-h.cfg.SyncConfig.HubLookback)
	for {
		select {
		case <-sub.done:
			return

		case <-ticker.C:
			if h.persister != nil {
				next := time.Now()
				messages, err := h.persister.GetMessagesSince(sub.RoomId, cursor)
				if err != nil {
					globals.AppLogger.Error("could not query new messages", "room", sub.RoomId, "error", err)
					continue
				}
				cursor = next
				if len(messages) > 0 {
					sub.send(&types.WireEvent{Type: types.WireEventTypeMessages, Messages: messages})
				}
			}
			if rand.Float64() < h.cfg.SyncConfig.HeartbeatRatio {
				sub.send(&types.WireEvent{Type: types.WireEventTypeHeartbeat})
			}
		}
	}
}

// send queues an event without ever blocking the tick loop. A full channel
// means the consumer stalled; the event is dropped for that channel only and
// the poll fallback reconciles the gap.
func (sub *Subscription) send(ev *types.WireEvent) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	select {
	case sub.Events <- ev:
		return true
	default:
		globals.AppLogger.Warn("dropping event for slow subscriber", "room", sub.RoomId, "type", ev.Type)
		return false
	}
}
