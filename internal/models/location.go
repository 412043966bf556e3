package models

import (
	"time"

	"gorm.io/gorm"
)

// UserLocation is the last reported farm position of a user.
// Separate lat/lng columns keep the schema portable across mysql and sqlite.
type UserLocation struct {
	ID             uint           `gorm:"primaryKey" json:"-"`
	UserID         uint           `gorm:"uniqueIndex;not null" json:"-"`
	Latitude       float64        `gorm:"type:decimal(10,8);not null" json:"latitude"`
	Longitude      float64        `gorm:"type:decimal(11,8);not null" json:"longitude"`
	AccuracyMeters float64        `gorm:"type:decimal(8,2)" json:"accuracy"`
	Altitude       *float64       `json:"altitude,omitempty"`
	Heading        *float64       `json:"heading,omitempty"`
	Speed          *float64       `json:"speed,omitempty"`
	CapturedAt     time.Time      `gorm:"not null" json:"capturedAt"`
	LastUpdatedAt  time.Time      `gorm:"not null;index" json:"lastUpdatedAt"`
	CreatedAt      time.Time      `json:"-"`
	UpdatedAt      time.Time      `json:"-"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (UserLocation) TableName() string {
	return "user_locations"
}
