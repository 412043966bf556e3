package repository

import (
	"farmai/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LocationRepository struct {
	db *gorm.DB
}

func NewLocationRepository(db *gorm.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// Upsert keeps a single row per user.
func (r *LocationRepository) Upsert(loc *models.UserLocation) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"latitude", "longitude", "accuracy_meters", "altitude", "heading", "speed",
			"captured_at", "last_updated_at", "updated_at", "deleted_at",
		}),
	}).Create(loc).Error
}

func (r *LocationRepository) GetByUserID(userID uint) (*models.UserLocation, error) {
	var loc models.UserLocation
	err := r.db.Where("user_id = ?", userID).First(&loc).Error
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
