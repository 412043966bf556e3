package repository

import (
	"time"

	"farmai/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PresenceRepository struct {
	db *gorm.DB
}

func NewPresenceRepository(db *gorm.DB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

// Set records status for the user, creating the row on first use.
func (r *PresenceRepository) Set(userID uint, status string, online bool) error {
	p := &models.UserPresence{
		UserID:     userID,
		Status:     status,
		IsOnline:   online,
		LastSeenAt: time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "is_online", "last_seen_at", "updated_at"}),
	}).Create(p).Error
}

func (r *PresenceRepository) GetByUserID(userID uint) (*models.UserPresence, error) {
	var p models.UserPresence
	err := r.db.Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}
