package models

import (
	"time"

	"gorm.io/gorm"
)

// UserPresence records whether a user is connected and whether their device is streaming fixes.
type UserPresence struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	UserID     uint           `gorm:"uniqueIndex;not null" json:"-"`
	Status     string         `gorm:"size:20;not null;index" json:"status"` // ONLINE, OFFLINE, TRACKING
	IsOnline   bool           `gorm:"default:false;index" json:"isOnline"`
	LastSeenAt time.Time      `gorm:"not null;index" json:"lastSeenAt"`
	CreatedAt  time.Time      `json:"-"`
	UpdatedAt  time.Time      `json:"-"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (UserPresence) TableName() string {
	return "user_presence"
}
