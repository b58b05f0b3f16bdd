package types

import (
	"time"
)

// this is basically identified with one hub, it is just a logical separation
type Room struct {
	Id           string        `json:"id" gorm:"primaryKey"`
	Name         string        `json:"name"`
	PasswordHash string        `json:"-"`
	Tags         JSONStringMap `json:"tags"`
	CreatedAt    time.Time     `json:"-"`
	UpdatedAt    time.Time     `json:"-"`
}
