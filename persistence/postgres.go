package persistence

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"
	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/types"
)

type PostgresPersist struct {
	db *sql.DB
}

func NewPostgresPersister(cfg *config.Config) (Persister, error) {
	db, err := setupPostgresDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	p := PostgresPersist{db: db}
	return &p, nil
}

func setupPostgresDB(cfg *config.Config) (*sql.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	query := `CREATE TABLE IF NOT EXISTS rooms (
id TEXT PRIMARY KEY,
name TEXT DEFAULT '' NOT NULL,
password_hash TEXT DEFAULT '' NOT NULL,
tags JSONB DEFAULT '{}'::jsonb NOT NULL,
created TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL,
updated TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL
);`
	_, err = db.Exec(query)
	if err != nil {
		return nil, err
	}
	query = `CREATE TABLE IF NOT EXISTS messages (
id TEXT PRIMARY KEY,
room_id TEXT NOT NULL,
content TEXT DEFAULT '' NOT NULL,
image_url TEXT DEFAULT '' NOT NULL,
sent_by_admin BOOLEAN DEFAULT FALSE NOT NULL,
user_id TEXT DEFAULT '' NOT NULL,
ts TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL,
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
updated TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL,
FOREIGN KEY (room_id) REFERENCES rooms (id) ON DELETE CASCADE ON UPDATE CASCADE
);`
	_, err = db.Exec(query)
	if err != nil {
		return nil, err
	}
	return db, err
}

func (p *PostgresPersist) StoreMessage(msg *types.Message) (bool, error) {
	query := `INSERT INTO messages (id,room_id,content,image_url,sent_by_admin,user_id,ts) VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING;`
	res, err := p.db.Exec(query, msg.Id, msg.RoomId, msg.Content, msg.ImageUrl, msg.SentByAdmin, msg.UserId, msg.Timestamp.In(time.UTC))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresPersist) GetMessage(msg *types.Message) error {
	query := `SELECT room_id,content,image_url,sent_by_admin,user_id,ts FROM messages WHERE id=$1;`
	err := p.db.QueryRow(query, msg.Id).Scan(&msg.RoomId, &msg.Content, &msg.ImageUrl, &msg.SentByAdmin, &msg.UserId, &msg.Timestamp)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (p *PostgresPersist) queryMessages(query string, args ...interface{}) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	rows, err := p.db.Query(query, args...)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var msg types.Message
		err = rows.Scan(&msg.Id, &msg.RoomId, &msg.Content, &msg.ImageUrl, &msg.SentByAdmin, &msg.UserId, &msg.Timestamp)
		if err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (p *PostgresPersist) GetMessages(roomId string) ([]*types.Message, error) {
	query := `SELECT id,room_id,content,image_url,sent_by_admin,user_id,ts FROM messages WHERE room_id=$1 ORDER BY ts ASC;`
	return p.queryMessages(query, roomId)
}

func (p *PostgresPersist) GetMessagesSince(roomId string, since time.Time) ([]*types.Message, error) {
	query := `SELECT id,room_id,content,image_url,sent_by_admin,user_id,ts FROM messages WHERE room_id=$1 AND ts>$2 ORDER BY ts ASC;`
	return p.queryMessages(query, roomId, since.In(time.UTC))
}

func (p *PostgresPersist) DeleteMessage(roomId, messageId string) error {
	query := `DELETE FROM messages WHERE id=$1 AND room_id=$2;`
	_, err := p.db.Exec(query, messageId, roomId)
	return err
}

func (p *PostgresPersist) ClearRoom(roomId string) (int64, error) {
	query := `DELETE FROM messages WHERE room_id=$1;`
	res, err := p.db.Exec(query, roomId)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresPersist) DeleteMessagesBefore(cutoff time.Time) (int64, error) {
	query := `DELETE FROM messages WHERE ts<$1;`
	res, err := p.db.Exec(query, cutoff.In(time.UTC))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresPersist) StoreRoom(room types.Room) error {
	tags, err := json.Marshal(room.Tags)
	if err != nil {
		return err
	}
	query := `INSERT INTO rooms (id,name,password_hash,tags) VALUES ($1,$2,$3,$4) ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name,password_hash=EXCLUDED.password_hash,tags=EXCLUDED.tags,updated=now();`
	_, err = p.db.Exec(query, room.Id, room.Name, room.PasswordHash, string(tags))
	return err
}

func (p *PostgresPersist) GetRoom(room *types.Room) error {
	var tagsRaw string
	query := `SELECT name,password_hash,tags,created,updated FROM rooms WHERE id=$1;`
	err := p.db.QueryRow(query, room.Id).Scan(&room.Name, &room.PasswordHash, &tagsRaw, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	tags := make(map[string]string)
	_ = json.Unmarshal([]byte(tagsRaw), &tags)
	room.Tags = tags
	return nil
}

func (p *PostgresPersist) GetRooms() ([]*types.Room, error) {
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
		err = rows.Scan(&room.Id, &room.Name, &room.PasswordHash, &tagsRaw, &room.CreatedAt, &room.UpdatedAt)
		if err != nil {
			return nil, err
		}
		tags := make(map[string]string)
		_ = json.Unmarshal([]byte(tagsRaw), &tags)
		room.Tags = tags
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

func (p *PostgresPersist) DeleteRoom(room *types.Room) error {
	query := `DELETE FROM rooms WHERE id=$1;`
	_, err := p.db.Exec(query, room.Id)
	return err
}

func (p *PostgresPersist) StoreRoomPhrase(roomId, phraseHash string) error {
	query := `INSERT INTO room_phrases (room_id,phrase_hash) VALUES ($1,$2) ON CONFLICT (room_id) DO UPDATE SET phrase_hash=EXCLUDED.phrase_hash,updated=now();`
	_, err := p.db.Exec(query, roomId, phraseHash)
	return err
}

func (p *PostgresPersist) GetRoomPhrases() (map[string]string, error) {
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

func (p *PostgresPersist) Close() error {
	return p.db.Close()
}
