package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quietpages/quietpages/types"
	"github.com/tidwall/buntdb"
)

// Cache is the client's local persistent message store, keyed by message id
// within a room. It mirrors the in-memory timeline so a restarted client can
// render something before the first store load completes.
type Cache interface {
	Put(msg *types.Message) error
	Delete(roomId, messageId string) error
	ClearRoom(roomId string) error
	Load(roomId string) ([]*types.Message, error)
	Close() error
}

type BuntCache struct {
	db *buntdb.DB
}

// NewBuntCache opens (or creates) the cache file. ":memory:" is accepted for
// throwaway caches.
func NewBuntCache(fileName string) (*BuntCache, error) {
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("messagests", "message:*", buntdb.IndexJSON("timestamp"))
	if err != nil && err != buntdb.ErrIndexExists {
		db.Close()
		return nil, err
	}
	return &BuntCache{db: db}, nil
}

func cacheKey(roomId, messageId string) string {
	return fmt.Sprintf("message:%s:%s", roomId, messageId)
}

func (c *BuntCache) Put(msg *types.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(cacheKey(msg.RoomId, msg.Id), string(raw), nil)
		return err
	})
}

func (c *BuntCache) Delete(roomId, messageId string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(cacheKey(roomId, messageId))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (c *BuntCache) ClearRoom(roomId string) error {
	keys := make([]string, 0)
	err := c.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(fmt.Sprintf("message:%s:*", roomId), func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// Load returns the room's cached messages ascending by timestamp, walking the
// JSON timestamp index rather than the key space.
func (c *BuntCache) Load(roomId string) ([]*types.Message, error) {
	prefix := fmt.Sprintf("message:%s:", roomId)
	messages := make([]*types.Message, 0)
	err := c.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("messagests", func(key, val string) bool {
			if !strings.HasPrefix(key, prefix) {
				return true
			}
			msg := &types.Message{}
			if err := json.Unmarshal([]byte(val), msg); err == nil {
				messages = append(messages, msg)
			}
			return true
		})
	})
	return messages, err
}

func (c *BuntCache) Close() error {
	return c.db.Close()
}
