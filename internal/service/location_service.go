package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"farmai/internal/models"
	"farmai/internal/repository"
	"farmai/internal/ws"
	"farmai/pkg/location"

	"gorm.io/gorm"
)

var (
	ErrInvalidFix = errors.New("invalid fix")
	ErrNoLocation = errors.New("no location recorded")
)

// LocationService stores each user's last known farm position and fans it out to their
// live connections.
type LocationService struct {
	locRepo *repository.LocationRepository
	hub     *ws.LocationHub
	now     func() time.Time
}

func NewLocationService(locRepo *repository.LocationRepository, hub *ws.LocationHub) *LocationService {
	return &LocationService{locRepo: locRepo, hub: hub, now: time.Now}
}

func validateFix(f ws.Fix) error {
	switch {
	case math.IsNaN(f.Latitude) || f.Latitude < -90 || f.Latitude > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidFix, f.Latitude)
	case math.IsNaN(f.Longitude) || f.Longitude < -180 || f.Longitude > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidFix, f.Longitude)
	case math.IsNaN(f.Accuracy) || f.Accuracy < 0:
		return fmt.Errorf("%w: accuracy must be non-negative", ErrInvalidFix)
	}
	return nil
}

// Record implements ws.Recorder.
func (s *LocationService) Record(_ context.Context, userID uint, f ws.Fix) error {
	_, err := s.Update(userID, f)
	return err
}

// Update replaces the user's stored position with f.
func (s *LocationService) Update(userID uint, f ws.Fix) (*models.UserLocation, error) {
	if err := validateFix(f); err != nil {
		return nil, err
	}
	now := s.now()
	captured := now
	if f.Timestamp > 0 {
		captured = time.UnixMilli(f.Timestamp)
	} else {
		f.Timestamp = now.UnixMilli()
	}
	loc := &models.UserLocation{
		UserID:         userID,
		Latitude:       f.Latitude,
		Longitude:      f.Longitude,
		AccuracyMeters: f.Accuracy,
		Altitude:       f.Altitude,
		Heading:        f.Heading,
		Speed:          f.Speed,
		CapturedAt:     captured,
		LastUpdatedAt:  now,
	}
	if err := s.locRepo.Upsert(loc); err != nil {
		return nil, err
	}
	if s.hub != nil {
		s.hub.Publish(userID, f)
	}
	return loc, nil
}

func (s *LocationService) Get(userID uint) (*models.UserLocation, error) {
	loc, err := s.locRepo.GetByUserID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoLocation
	}
	return loc, err
}

// Distance is the great-circle distance from the user's stored position to a point.
type Distance struct {
	Meters        float64   `json:"distanceMeters"`
	Km            float64   `json:"distanceKm"`
	From          ws.Fix    `json:"from"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

func (s *LocationService) DistanceTo(userID uint, lat, lng float64) (*Distance, error) {
	if err := validateFix(ws.Fix{Latitude: lat, Longitude: lng}); err != nil {
		return nil, err
	}
	loc, err := s.Get(userID)
	if err != nil {
		return nil, err
	}
	m := location.HaversineMeters(loc.Latitude, loc.Longitude, lat, lng)
	return &Distance{
		Meters: m,
		Km:     location.HaversineKm(loc.Latitude, loc.Longitude, lat, lng),
		From: ws.Fix{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Accuracy:  loc.AccuracyMeters,
			Timestamp: loc.CapturedAt.UnixMilli(),
		},
		LastUpdatedAt: loc.LastUpdatedAt,
	}, nil
}
