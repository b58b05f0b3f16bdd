package types

import "time"

const (
	// The two canonical participant roles. A structurally malformed or empty
	// participant key degrades to one of these instead of failing the request.
	ParticipantKeyUser  = "user"
	ParticipantKeyAdmin = "admin"
)

// TypingState is one participant currently typing in one room. It lives in
// server-process memory only and does not survive a restart; that is an
// accepted limitation of the presence registry.
type TypingState struct {
	RoomId         string    `json:"roomId"`
	ParticipantKey string    `json:"participantKey"`
	ExpiresAt      time.Time `json:"expiresAt"`
}
