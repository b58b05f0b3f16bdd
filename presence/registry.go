package presence

import (
	"sync"
	"time"

	"github.com/quietpages/quietpages/types"
)

// Registry tracks, per room, which participants are currently typing. Entries
// expire automatically after the configured TTL unless refreshed. All state
// is process memory; nothing survives a restart.
type Registry struct {
	ttl time.Duration

	mu    sync.Mutex
	rooms map[string]map[string]*entry
}

type entry struct {
	expiresAt time.Time
	timer     *time.Timer
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:   ttl,
		rooms: make(map[string]map[string]*entry),
	}
}

// NormalizeKey degrades a missing or malformed participant key to one of the
// two canonical roles instead of failing the request.
func NormalizeKey(participantKey string, isAdmin bool) string {
	if participantKey != "" {
		return participantKey
	}
	if isAdmin {
		return types.ParticipantKeyAdmin
	}
	return types.ParticipantKeyUser
}

// SetTyping inserts or refreshes the entry for (roomId, participantKey).
// A previous timer for the same key is stopped before the new one is
// installed, so repeated calls replace rather than stack timers.
func (r *Registry) SetTyping(roomId, participantKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomId]
	if !ok {
		room = make(map[string]*entry)
		r.rooms[roomId] = room
	}
	if prev, ok := room[participantKey]; ok {
		prev.timer.Stop()
	}
	room[participantKey] = &entry{
		expiresAt: time.Now().Add(r.ttl),
		timer: time.AfterFunc(r.ttl, func() {
			r.expire(roomId, participantKey)
		}),
	}
}

// ClearTyping removes the entry and cancels its timer immediately.
func (r *Registry) ClearTyping(roomId, participantKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomId]
	if !ok {
		return
	}
	if prev, ok := room[participantKey]; ok {
		prev.timer.Stop()
		delete(room, participantKey)
	}
	if len(room) == 0 {
		delete(r.rooms, roomId)
	}
}

// ListTyping returns the non-expired participant keys of the room, excluding
// the caller. Expiry is checked at read time as well, so an entry is never
// visible past its deadline even if its timer has not fired yet.
func (r *Registry) ListTyping(roomId, excludeKey string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomId]
	if !ok {
		return nil
	}
	now := time.Now()
	keys := make([]string, 0, len(room))
	for key, e := range room {
		if key == excludeKey {
			continue
		}
		if !e.expiresAt.After(now) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// States returns a snapshot of every live entry of a room.
func (r *Registry) States(roomId string) []types.TypingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomId]
	if !ok {
		return nil
	}
	now := time.Now()
	states := make([]types.TypingState, 0, len(room))
	for key, e := range room {
		if !e.expiresAt.After(now) {
			continue
		}
		states = append(states, types.TypingState{
			RoomId:         roomId,
			ParticipantKey: key,
			ExpiresAt:      e.expiresAt,
		})
	}
	return states
}

// expire is the timer callback. The entry may have been refreshed or cleared
// in the meantime, in which case the deadline moved and the entry stays.
func (r *Registry) expire(roomId, participantKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomId]
	if !ok {
		return
	}
	e, ok := room[participantKey]
	if !ok {
		return
	}
	if e.expiresAt.After(time.Now()) {
		return
	}
	delete(room, participantKey)
	if len(room) == 0 {
		delete(r.rooms, roomId)
	}
}
