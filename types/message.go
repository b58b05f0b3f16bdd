package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is a single chat message. Identity is the Id: the same message may
// arrive via the optimistic local send, the live event stream and the poll
// fallback, and all copies carry the same Id so duplicates can be discarded.
type Message struct {
	Id          string    `json:"id" gorm:"primaryKey" mapstructure:"id"`
	RoomId      string    `json:"roomId" gorm:"index" mapstructure:"-"`
	Content     string    `json:"content" mapstructure:"content"`
	ImageUrl    string    `json:"imageUrl" mapstructure:"imageUrl"`
	SentByAdmin bool      `json:"sentByAdmin" mapstructure:"sentByAdmin"`
	UserId      string    `json:"userId,omitempty" mapstructure:"userId"`
	Timestamp   time.Time `json:"timestamp" gorm:"index" mapstructure:"-"`
}

// NewMessageId builds a message id the same way the clients do: room id,
// milliseconds since epoch and a short random suffix. Ids generated on the
// client and echoed back by the server compare equal, which is what makes the
// optimistic send path safe.
func NewMessageId(roomId string) string {
	return fmt.Sprintf("%s_%d_%s", roomId, time.Now().UnixNano()/int64(time.Millisecond), uuid.NewString()[:8])
}
