// Package geo acquires device positions: a one-shot fix guarded by a services probe and a
// single continuous watch. Readings are normalized into Coordinates.
package geo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Coordinates is an accepted fix. Values are never mutated once built.
type Coordinates struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	// Timestamp is the capture time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Position is a raw device reading. Zero optional fields mean the device did not report them.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Altitude  float64
	Heading   float64
	Speed     float64
	Timestamp time.Time
}

type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

type WatchOptions struct {
	HighAccuracy   bool
	DistanceFilter float64 // meters
	Interval       time.Duration
}

// Geolocator is the device location API.
type Geolocator interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
	// Watch delivers readings until stop is called. Errors do not end the watch.
	Watch(opts WatchOptions, onPosition func(Position), onError func(error)) (stop func())
}

// Device error codes.
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// PositionError is the failure a Geolocator reports.
type PositionError struct {
	Code    int
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
}

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("location unavailable")
	ErrTimeout             = errors.New("location request timed out")
	ErrServicesDisabled    = errors.New("location services are disabled")
)

// normalize converts a device reading. Zero optional readings become nil.
func normalize(p Position) Coordinates {
	c := Coordinates{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Accuracy:  p.Accuracy,
		Timestamp: p.Timestamp.UnixMilli(),
	}
	if c.Accuracy < 0 {
		c.Accuracy = 0
	}
	if p.Altitude != 0 {
		v := p.Altitude
		c.Altitude = &v
	}
	if p.Heading != 0 {
		v := p.Heading
		c.Heading = &v
	}
	if p.Speed != 0 {
		v := p.Speed
		c.Speed = &v
	}
	return c
}

// classify maps a device or context failure onto the acquisition sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *PositionError
	if errors.As(err, &pe) {
		switch pe.Code {
		case CodePermissionDenied:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, pe.Message)
		case CodeTimeout:
			return fmt.Errorf("%w: %s", ErrTimeout, pe.Message)
		default:
			return fmt.Errorf("%w: %s", ErrPositionUnavailable, pe.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
}

// Message returns the text shown for an acquisition failure.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrServicesDisabled):
		return "Please enable location services in your device settings to use FarmAI features."
	case errors.Is(err, ErrPermissionDenied):
		return "FarmAI needs location permission to provide accurate farming recommendations. Please enable location access in Settings."
	case errors.Is(err, ErrPositionUnavailable):
		return "Unable to get your current location. Please check your GPS settings and try again."
	case errors.Is(err, ErrTimeout):
		return "Location request timed out. Please try again."
	default:
		return err.Error()
	}
}
