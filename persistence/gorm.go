package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

// roomPhrase is the gorm model of the secret access phrases, one per room.
type roomPhrase struct {
	RoomId     string `gorm:"primaryKey"`
	PhraseHash string
	UpdatedAt  time.Time
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "gorm-postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "gorm-sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	db.Migrator().AutoMigrate(&types.Room{}, &types.Message{}, &roomPhrase{})
	return db, nil
}

func (p *GormPersist) StoreMessage(msg *types.Message) (bool, error) {
	res := p.db.Clauses(clause.OnConflict{DoNothing: true}).Create(msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (p *GormPersist) GetMessage(msg *types.Message) error {
	err := p.db.First(msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) GetMessages(roomId string) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.Where("room_id = ?", roomId).Order("timestamp ASC").Find(&messages).Error
	return messages, err
}

func (p *GormPersist) GetMessagesSince(roomId string, since time.Time) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.Where("room_id = ? AND timestamp > ?", roomId, since).Order("timestamp ASC").Find(&messages).Error
	return messages, err
}

func (p *GormPersist) DeleteMessage(roomId, messageId string) error {
	return p.db.Where("room_id = ?", roomId).Delete(&types.Message{Id: messageId}).Error
}

func (p *GormPersist) ClearRoom(roomId string) (int64, error) {
	res := p.db.Where("room_id = ?", roomId).Delete(&types.Message{})
	return res.RowsAffected, res.Error
}

func (p *GormPersist) DeleteMessagesBefore(cutoff time.Time) (int64, error) {
	res := p.db.Where("timestamp < ?", cutoff).Delete(&types.Message{})
	return res.RowsAffected, res.Error
}

func (p *GormPersist) StoreRoom(room types.Room) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&room).Error
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	err := p.db.First(room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) DeleteRoom(room *types.Room) error {
	return p.db.Delete(room).Error
}

func (p *GormPersist) StoreRoomPhrase(roomId, phraseHash string) error {
	phrase := roomPhrase{RoomId: roomId, PhraseHash: phraseHash}
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&phrase).Error
}

func (p *GormPersist) GetRoomPhrases() (map[string]string, error) {
	rows := make([]*roomPhrase, 0)
	err := p.db.Find(&rows).Error
	if err != nil {
		return nil, err
	}
	phrases := make(map[string]string, len(rows))
	for _, row := range rows {
		phrases[row.RoomId] = row.PhraseHash
	}
	return phrases, nil
}

func (p *GormPersist) Close() error {
	return nil
}
