package persistence

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/types"
)

type SQLitePersist struct {
	db *sql.DB
	sync.RWMutex
}

func NewSQLitePersister(cfg *config.Config) (Persister, error) {
	db, err := setupSQLiteDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	return &SQLitePersist{db: db}, nil
}

func setupSQLiteDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	query := `CREATE TABLE IF NOT EXISTS rooms (
id TEXT PRIMARY KEY,
name TEXT DEFAULT "" NOT NULL,
password_hash TEXT DEFAULT "" NOT NULL,
tags TEXT DEFAULT "{}" NOT NULL,
created INTEGER DEFAULT 0 NOT NULL,
updated INTEGER DEFAULT 0 NOT NULL
);`
	_, err = db.Exec(query)
	if err != nil {
		return nil, err
	}
	query = `CREATE TABLE IF NOT EXISTS messages (
id TEXT PRIMARY KEY,
room_id TEXT NOT NULL,
content TEXT DEFAULT "" NOT NULL,
image_url TEXT DEFAULT "" NOT NULL,
sent_by_admin INTEGER DEFAULT 0 NOT NULL,
user_id TEXT DEFAULT "" NOT NULL,
ts INTEGER DEFAULT 0 NOT NULL,
FOREIGN KEY (room_id) REFERENCES rooms (id) ON DELETE CASCADE ON UPDATE CASCADE
);`
	_, err = db.Exec(query)
	if err != nil {
		return nil, err
	}
	query = `CREATE INDEX IF NOT EXISTS messages_room_ts_idx ON messages (room_id, ts);`
	_, err = db.Exec(query)
	if err != nil {
		return nil, err
	}
	query = `CREATE TABLE IF NOT EXISTS room_phrases (
room_id TEXT PRIMARY KEY,
phrase_hash TEXT NOT NULL,
updated INTEGER DEFAULT 0 NOT NULL,
FOREIGN KEY (room_id) REFERENCES rooms (id) ON DELETE CASCADE ON UPDATE CASCADE
);`
	_, err = db.Exec(query)
	if err != nil {
		return nil, err
	}
	return db, err
}

func (p *SQLitePersist) StoreMessage(msg *types.Message) (bool, error) {
	p.Lock()
	defer p.Unlock()
	sentByAdmin := 0
	if msg.SentByAdmin {
		sentByAdmin = 1
	}
	query := `INSERT INTO messages (id,room_id,content,image_url,sent_by_admin,user_id,ts) VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING;`
	res, err := p.db.Exec(query, msg.Id, msg.RoomId, msg.Content, msg.ImageUrl, sentByAdmin, msg.UserId, msg.Timestamp.UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *SQLitePersist) GetMessage(msg *types.Message) error {
	p.RLock()
	defer p.RUnlock()
	var ts int64
	var sentByAdmin int
	query := `SELECT room_id,content,image_url,sent_by_admin,user_id,ts FROM messages WHERE id=$1;`
	err := p.db.QueryRow(query, msg.Id).Scan(&msg.RoomId, &msg.Content, &msg.ImageUrl, &sentByAdmin, &msg.UserId, &ts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	msg.SentByAdmin = sentByAdmin != 0
	msg.Timestamp = time.Unix(0, ts)
	return nil
}

func (p *SQLitePersist) queryMessages(query string, args ...interface{}) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	rows, err := p.db.Query(query, args...)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var msg types.Message
		var ts int64
		var sentByAdmin int
		err = rows.Scan(&msg.Id, &msg.RoomId, &msg.Content, &msg.ImageUrl, &sentByAdmin, &msg.UserId, &ts)
		if err != nil {
			return nil, err
		}
		msg.SentByAdmin = sentByAdmin != 0
		msg.Timestamp = time.Unix(0, ts)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (p *SQLitePersist) GetMessages(roomId string) ([]*types.Message, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,room_id,content,image_url,sent_by_admin,user_id,ts FROM messages WHERE room_id=$1 ORDER BY ts ASC;`
	return p.queryMessages(query, roomId)
}

func (p *SQLitePersist) GetMessagesSince(roomId string, since time.Time) ([]*types.Message, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,room_id,content,image_url,sent_by_admin,user_id,ts FROM messages WHERE room_id=$1 AND ts>$2 ORDER BY ts ASC;`
	return p.queryMessages(query, roomId, since.UnixNano())
}

func (p *SQLitePersist) DeleteMessage(roomId, messageId string) error {
	p.Lock()
	defer p.Unlock()
	query := `DELETE FROM messages WHERE id=$1 AND room_id=$2;`
	_, err := p.db.Exec(query, messageId, roomId)
	return err
}

func (p *SQLitePersist) ClearRoom(roomId string) (int64, error) {
	p.Lock()
	defer p.Unlock()
	query := `DELETE FROM messages WHERE room_id=$1;`
	res, err := p.db.Exec(query, roomId)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *SQLitePersist) DeleteMessagesBefore(cutoff time.Time) (int64, error) {
	p.Lock()
	defer p.Unlock()
	query := `DELETE FROM messages WHERE ts<$1;`
	res, err := p.db.Exec(query, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *SQLitePersist) StoreRoom(room types.Room) error {
	p.Lock()
	defer p.Unlock()
	tags, err := json.Marshal(room.Tags)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	query := `INSERT INTO rooms (id,name,password_hash,tags,created,updated) VALUES ($1,$2,$3,$4,$5,$5) ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name,password_hash=EXCLUDED.password_hash,tags=EXCLUDED.tags,updated=EXCLUDED.updated;`
	_, err = p.db.Exec(query, room.Id, room.Name, room.PasswordHash, string(tags), now)
	return err
}

func (p *SQLitePersist) GetRoom(room *types.Room) error {
	p.RLock()
	defer p.RUnlock()
	var tagsRaw string
	var created, updated int64
	query := `SELECT name,password_hash,tags,created,updated FROM rooms WHERE id=$1;`
	err := p.db.QueryRow(query, room.Id).Scan(&room.Name, &room.PasswordHash, &tagsRaw, &created, &updated)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	tags := make(map[string]string)
	_ = json.Unmarshal([]byte(tagsRaw), &tags)
	room.Tags = tags
	room.CreatedAt = time.Unix(0, created)
	room.UpdatedAt = time.Unix(0, updated)
	return nil
}

func (p *SQLitePersist) GetRooms() ([]*types.Room, error) {
	p.RLock()
	defer p.RUnlock()
	rooms := make([]*types.Room, 0)
	query := `SELECT id,name,password_hash,tags,created,updated FROM rooms;`
	rows, err := p.db.Query(query)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var room types.Room
		var tagsRaw string
		var created, updated int64
		err = rows.Scan(&room.Id, &room.Name, &room.PasswordHash, &tagsRaw, &created, &updated)
		if err != nil {
			return nil, err
		}
		tags := make(map[string]string)
		_ = json.Unmarshal([]byte(tagsRaw), &tags)
		room.Tags = tags
		room.CreatedAt = time.Unix(0, created)
		room.UpdatedAt = time.Unix(0, updated)
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

func (p *SQLitePersist) DeleteRoom(room *types.Room) error {
	p.Lock()
	defer p.Unlock()
	query := `DELETE FROM rooms WHERE id=$1;`
	_, err := p.db.Exec(query, room.Id)
	return err
}

func (p *SQLitePersist) StoreRoomPhrase(roomId, phraseHash string) error {
	p.Lock()
	defer p.Unlock()
	query := `INSERT INTO room_phrases (room_id,phrase_hash,updated) VALUES ($1,$2,$3) ON CONFLICT (room_id) DO UPDATE SET phrase_hash=EXCLUDED.phrase_hash,updated=EXCLUDED.updated;`
	_, err := p.db.Exec(query, roomId, phraseHash, time.Now().UnixNano())
	return err
}

func (p *SQLitePersist) GetRoomPhrases() (map[string]string, error) {
	p.RLock()
	defer p.RUnlock()
	phrases := make(map[string]string)
	query := `SELECT room_id,phrase_hash FROM room_phrases;`
	rows, err := p.db.Query(query)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roomId, hash string
		err = rows.Scan(&roomId, &hash)
		if err != nil {
			return nil, err
		}
		phrases[roomId] = hash
	}
	return phrases, rows.Err()
}

func (p *SQLitePersist) Close() error {
	p.Lock()
	defer p.Unlock()
	return p.db.Close()
}
