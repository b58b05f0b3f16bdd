package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/folkengine/goname"
	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"
	"github.com/quietpages/quietpages/auth"
	"github.com/quietpages/quietpages/globals"
	"github.com/quietpages/quietpages/persistence"
	"github.com/quietpages/quietpages/presence"
	"github.com/quietpages/quietpages/types"
)

// roomSession checks that the verified session grants access to the room in
// the URL. The session, not the client payload, is the authority on the room
// and the role.
func (s *Server) roomSession(w http.ResponseWriter, r *http.Request) (*auth.Session, string, bool) {
	roomId := mux.Vars(r)["room"]
	session := SessionFromContext(r.Context())
	if session == nil || session.RoomId != roomId {
		writeError(w, http.StatusForbidden, "not a participant of this room")
		return nil, "", false
	}
	return session, roomId, true
}

func decodePayload(r *http.Request, out interface{}) error {
	raw := make(map[string]interface{})
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return err
	}
	return mapstructure.WeakDecode(raw, out)
}

// parseSince accepts a cursor as epoch milliseconds or as an ISO timestamp.
func parseSince(val string) (time.Time, error) {
	if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Unix(0, ms*int64(time.Millisecond)), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid since cursor %q", val)
}

// eventsHandler is the live channel: a long-lived one-way stream of
// server-to-client events. Delivery is best-effort; the client's idempotent
// merge is what makes that safe.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	_, roomId, ok := s.roomSession(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Subscribe(roomId)
	defer s.hub.Unsubscribe(sub)
	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				globals.AppLogger.Error("could not marshal event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				// write failure affects only this channel
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) getMessagesHandler(w http.ResponseWriter, r *http.Request) {
	_, roomId, ok := s.roomSession(w, r)
	if !ok {
		return
	}
	var messages []*types.Message
	var err error
	if since := r.URL.Query().Get("since"); since != "" {
		cursor, perr := parseSince(since)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		messages, err = s.persister.GetMessagesSince(roomId, cursor)
	} else {
		messages, err = s.persister.GetMessages(roomId)
	}
	if err != nil {
		globals.AppLogger.Error("could not fetch messages", "room", roomId, "error", err)
		writeError(w, http.StatusInternalServerError, "could not fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, types.MessagesResponse{Messages: messages, Count: len(messages)})
}

type sendMessagePayload struct {
	Id        string `mapstructure:"id"`
	Content   string `mapstructure:"content"`
	ImageUrl  string `mapstructure:"imageUrl"`
	Timestamp string `mapstructure:"timestamp"`
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	session, roomId, ok := s.roomSession(w, r)
	if !ok {
		return
	}
	payload := sendMessagePayload{}
	if err := decodePayload(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.Content == "" && payload.ImageUrl == "" {
		writeError(w, http.StatusBadRequest, "content or image required")
		return
	}
	msg := &types.Message{
		Id:          payload.Id,
		RoomId:      roomId,
		Content:     payload.Content,
		ImageUrl:    payload.ImageUrl,
		SentByAdmin: session.IsAdmin,
		UserId:      session.UserId,
		Timestamp:   time.Now(),
	}
	if msg.Id == "" {
		msg.Id = types.NewMessageId(roomId)
	}
	if payload.Timestamp != "" {
		if ts, err := parseSince(payload.Timestamp); err == nil {
			msg.Timestamp = ts
		}
	}
	// a duplicate id is the echo of an optimistic send, not an error
	inserted, err := s.persister.StoreMessage(msg)
	if err != nil {
		globals.AppLogger.Error("could not store message", "room", roomId, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store message")
		return
	}
	if !inserted {
		globals.AppLogger.Debug("duplicate message id, kept existing row", "id", msg.Id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg})
}

func (s *Server) deleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	session, roomId, ok := s.roomSession(w, r)
	if !ok {
		return
	}
	messageId := mux.Vars(r)["message"]
	msg := &types.Message{Id: messageId}
	err := s.persister.GetMessage(msg)
	if err == persistence.ErrNotFound || (err == nil && msg.RoomId != roomId) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		globals.AppLogger.Error("could not fetch message", "id", messageId, "error", err)
		writeError(w, http.StatusInternalServerError, "could not fetch message")
		return
	}
	// the admin may delete anything, an ordinary participant only their own side
	if !session.IsAdmin && msg.SentByAdmin {
		writeError(w, http.StatusForbidden, "not allowed to delete this message")
		return
	}
	if err := s.persister.DeleteMessage(roomId, messageId); err != nil {
		globals.AppLogger.Error("could not delete message", "id", messageId, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "messageId": messageId})
}

func (s *Server) clearRoomHandler(w http.ResponseWriter, r *http.Request) {
	session, roomId, ok := s.roomSession(w, r)
	if !ok {
		return
	}
	if !session.IsAdmin {
		writeError(w, http.StatusForbidden, "only the admin may clear the room")
		return
	}
	count, err := s.persister.ClearRoom(roomId)
	if err != nil {
		globals.AppLogger.Error("could not clear room", "room", roomId, "error", err)
		writeError(w, http.StatusInternalServerError, "could not clear room")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "deletedCount": count})
}

type typingPayload struct {
	UserId   string `mapstructure:"userId"`
	IsTyping bool   `mapstructure:"isTyping"`
	IsAdmin  bool   `mapstructure:"isAdmin"`
}

func (s *Server) setTypingHandler(w http.ResponseWriter, r *http.Request) {
	session, roomId, ok := s.roomSession(w, r)
	if !ok {
		return
	}
	payload := typingPayload{}
	if err := decodePayload(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	key := presence.NormalizeKey(payload.UserId, session.IsAdmin)
	if payload.IsTyping {
		s.presence.SetTyping(roomId, key)
	} else {
		s.presence.ClearTyping(roomId, key)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) getTypingHandler(w http.ResponseWriter, r *http.Request) {
	session, roomId, ok := s.roomSession(w, r)
	if !ok {
		return
	}
	key := presence.NormalizeKey(r.URL.Query().Get("userId"), session.IsAdmin)
	users := s.presence.ListTyping(roomId, key)
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, types.TypingResponse{IsTyping: len(users) > 0, Users: users})
}

type createRoomPayload struct {
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

func (s *Server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	payload := createRoomPayload{}
	if err := decodePayload(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	room := types.Room{
		Id:   auth.NewRoomId(),
		Name: payload.Name,
		Tags: make(map[string]string),
	}
	if room.Name == "" {
		room.Name = goname.New(goname.FantasyMap).FirstLast()
	}
	if payload.Password != "" {
		hash, err := auth.HashPhrase(payload.Password, s.cfg.AuthConfig.BcryptCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not hash password")
			return
		}
		room.PasswordHash = hash
	}
	if err := s.persister.StoreRoom(room); err != nil {
		globals.AppLogger.Error("could not store room", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store room")
		return
	}
	token, err := s.authenticator.IssueToken(auth.Session{RoomId: room.Id, UserId: types.ParticipantKeyAdmin, IsAdmin: true})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"room": room, "token": token})
}

func (s *Server) getRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	session := SessionFromContext(r.Context())
	if session == nil || session.RoomId != roomId {
		writeError(w, http.StatusForbidden, "not a participant of this room")
		return
	}
	room := types.Room{Id: roomId}
	err := s.persister.GetRoom(&room)
	if err == persistence.ErrNotFound {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		globals.AppLogger.Error("could not fetch room", "room", roomId, "error", err)
		writeError(w, http.StatusInternalServerError, "could not fetch room")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) listRoomsHandler(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	if session == nil || !session.IsAdmin {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	rooms, err := s.persister.GetRooms()
	if err != nil {
		globals.AppLogger.Error("could not list rooms", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list rooms")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

type adminLoginPayload struct {
	RoomId   string `mapstructure:"roomId"`
	Password string `mapstructure:"password"`
}

func (s *Server) adminLoginHandler(w http.ResponseWriter, r *http.Request) {
	payload := adminLoginPayload{}
	if err := decodePayload(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	room := types.Room{Id: payload.RoomId}
	err := s.persister.GetRoom(&room)
	if err == persistence.ErrNotFound {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		globals.AppLogger.Error("could not fetch room", "room", payload.RoomId, "error", err)
		writeError(w, http.StatusInternalServerError, "could not fetch room")
		return
	}
	if room.PasswordHash == "" || !auth.ComparePhrase(room.PasswordHash, payload.Password) {
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	token, err := s.authenticator.IssueToken(auth.Session{RoomId: room.Id, UserId: types.ParticipantKeyAdmin, IsAdmin: true})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "room": room})
}

type phraseAccessPayload struct {
	Phrase string `mapstructure:"phrase"`
}

// phraseAccessHandler is the disguise hook: a note whose text matches a
// room's secret phrase unlocks that room for an ordinary participant.
func (s *Server) phraseAccessHandler(w http.ResponseWriter, r *http.Request) {
	payload := phraseAccessPayload{}
	if err := decodePayload(r, &payload); err != nil || payload.Phrase == "" {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	phrases, err := s.persister.GetRoomPhrases()
	if err != nil {
		globals.AppLogger.Error("could not fetch room phrases", "error", err)
		writeError(w, http.StatusInternalServerError, "could not check phrase")
		return
	}
	for roomId, hash := range phrases {
		if auth.ComparePhrase(hash, payload.Phrase) {
			token, err := s.authenticator.IssueToken(auth.Session{RoomId: roomId, UserId: auth.NewUserId()})
			if err != nil {
				writeError(w, http.StatusInternalServerError, "could not issue token")
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "roomId": roomId})
			return
		}
	}
	writeError(w, http.StatusNotFound, "no matching room")
}
