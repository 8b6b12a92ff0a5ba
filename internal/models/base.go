package models

import (
	"strconv"
	"time"
)

// BaseModel defines the common fields for models keyed by an auto-increment ID.
// Messages are keyed by their client-generated UUID instead and do not embed it.
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IDString returns the ID as a string.
func (b *BaseModel) IDString() string {
	return strconv.FormatUint(uint64(b.ID), 10)
}
