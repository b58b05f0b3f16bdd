package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/quietpages/quietpages/auth"
	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/hub"
	"github.com/quietpages/quietpages/persistence"
	"github.com/quietpages/quietpages/presence"
)

// Server wires the HTTP surface: room CRUD and access on the outside, the
// synchronization core (live events, poll, send, typing, deletes) behind the
// room-token middleware.
type Server struct {
	cfg           *config.Config
	persister     persistence.Persister
	hub           *hub.Hub
	presence      *presence.Registry
	authenticator *auth.Authenticator
	limiters      *limiterPool
}

func NewServer(cfg *config.Config, persister persistence.Persister, h *hub.Hub, registry *presence.Registry, authenticator *auth.Authenticator) *Server {
	return &Server{
		cfg:           cfg,
		persister:     persister,
		hub:           h,
		presence:      registry,
		authenticator: authenticator,
		limiters: &limiterPool{
			rps:   cfg.RateLimitConfig.RequestsPerSecond,
			burst: cfg.RateLimitConfig.Burst,
		},
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/rooms", s.rateLimit(s.createRoomHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms", s.rateLimit(s.requireSession(s.listRoomsHandler))).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{room:[A-Za-z0-9_-]+}", s.rateLimit(s.requireSession(s.getRoomHandler))).Methods(http.MethodGet)
	router.HandleFunc("/api/auth", s.rateLimit(s.adminLoginHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/chat/access", s.rateLimit(s.phraseAccessHandler)).Methods(http.MethodPost)

	room := "/api/chat/{room:[A-Za-z0-9_-]+}"
	router.HandleFunc(room+"/events", s.requireSession(s.eventsHandler)).Methods(http.MethodGet)
	router.HandleFunc(room, s.rateLimit(s.requireSession(s.getMessagesHandler))).Methods(http.MethodGet)
	router.HandleFunc(room, s.rateLimit(s.requireSession(s.sendMessageHandler))).Methods(http.MethodPost)
	router.HandleFunc(room+"/messages/clear", s.rateLimit(s.requireSession(s.clearRoomHandler))).Methods(http.MethodDelete)
	router.HandleFunc(room+"/messages/{message}", s.rateLimit(s.requireSession(s.deleteMessageHandler))).Methods(http.MethodDelete)
	router.HandleFunc(room+"/typing", s.rateLimit(s.requireSession(s.setTypingHandler))).Methods(http.MethodPost)
	router.HandleFunc(room+"/typing", s.rateLimit(s.requireSession(s.getTypingHandler))).Methods(http.MethodGet)

	return router
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
