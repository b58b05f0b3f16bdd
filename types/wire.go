package types

const (
	WireEventTypeConnected = "connected"
	WireEventTypeMessages  = "messages"
	WireEventTypeHeartbeat = "heartbeat"
)

// WireEvent is what is actually sent down the live event stream, one JSON
// object per "data:" frame. Type discriminates the payload: "connected"
// carries the room id, "messages" carries a batch, "heartbeat" carries
// nothing.
type WireEvent struct {
	Type     string     `json:"type"`
	RoomId   string     `json:"roomId,omitempty"`
	Messages []*Message `json:"messages,omitempty"`
}

// MessagesResponse is the response of the pull (fallback) interface, ordered
// ascending by timestamp.
type MessagesResponse struct {
	Messages []*Message `json:"messages"`
	Count    int        `json:"count"`
}

// TypingResponse answers "who is typing" for one room, excluding the caller.
type TypingResponse struct {
	IsTyping bool     `json:"isTyping"`
	Users    []string `json:"users"`
}
