package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID            uint       `gorm:"primaryKey" json:"-"`
	UUID          string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Username      string     `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email         string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash  string     `gorm:"size:255" json:"-"`
	IsActive      bool       `gorm:"default:false;not null" json:"isActive"`
	OtpVerifiedAt *time.Time `json:"otpVerifiedAt,omitempty"`
	// TokenVersion is embedded in refresh tokens; bumping it revokes every issued one.
	TokenVersion int            `gorm:"default:0;not null" json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	Location *UserLocation `gorm:"foreignKey:UserID" json:"-"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	return nil
}
