package client

import (
	"errors"

	"github.com/quietpages/quietpages/globals"
	"github.com/quietpages/quietpages/types"
)

// ErrNotAllowed is returned for privileged operations attempted by an
// ordinary participant.
var ErrNotAllowed = errors.New("not allowed")

const previewLength = 80

// Notifier raises a user-visible notification with a truncated preview and a
// deep link back to the room.
type Notifier interface {
	Notify(roomId, preview, link string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, string) {}

// LogNotifier writes notifications to the application log; useful for
// headless clients and tests.
type LogNotifier struct{}

func (LogNotifier) Notify(roomId, preview, link string) {
	globals.AppLogger.Info("new message", "room", roomId, "preview", preview, "link", link)
}

func previewOf(msg *types.Message) string {
	preview := msg.Content
	if preview == "" && msg.ImageUrl != "" {
		preview = "[image]"
	}
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	return preview
}
