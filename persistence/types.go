package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/types"
)

// ErrNotFound is returned when the requested row does not exist, regardless
// of the backend.
var ErrNotFound = errors.New("not found")

// Persister is the durable message store plus the small amount of room and
// access-phrase CRUD around it. StoreMessage is idempotent: inserting an id
// that already exists is a no-op reported via the bool, not an error, since
// that is the expected shape of optimistic-send-then-echo.
type Persister interface {
	StoreMessage(msg *types.Message) (bool, error)
	GetMessage(msg *types.Message) error
	GetMessages(roomId string) ([]*types.Message, error)
	GetMessagesSince(roomId string, since time.Time) ([]*types.Message, error)
	DeleteMessage(roomId, messageId string) error
	ClearRoom(roomId string) (int64, error)
	DeleteMessagesBefore(cutoff time.Time) (int64, error)

	StoreRoom(room types.Room) error
	GetRoom(room *types.Room) error
	GetRooms() ([]*types.Room, error)
	DeleteRoom(room *types.Room) error

	StoreRoomPhrase(roomId, phraseHash string) error
	GetRoomPhrases() (map[string]string, error)

	Close() error
}

// NewPersister picks the backend according to the persistence type in the
// configuration. An empty type yields a nil persister, which callers must
// tolerate: everything still works, nothing survives a restart.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "sqlite":
		return NewSQLitePersister(cfg)
	case "postgres":
		return NewPostgresPersister(cfg)
	case "gorm-sqlite", "gorm-postgres":
		return NewGormPersister(cfg)
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
}
