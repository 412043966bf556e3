package geo

import (
	"context"
	"log/slog"
	"sync"

	"farmai/config"
	"farmai/pkg/location"
)

// Options is the acquisition policy of an Engine.
type Options struct {
	Probe PositionOptions
	Fix   PositionOptions
	Watch WatchOptions
}

// OptionsFromConfig builds the policy from the location section of the config.
func OptionsFromConfig(cfg config.LocationConfig) Options {
	return Options{
		Probe: PositionOptions{HighAccuracy: false, Timeout: cfg.ProbeTimeout, MaximumAge: 0},
		Fix:   PositionOptions{HighAccuracy: true, Timeout: cfg.FixTimeout, MaximumAge: cfg.MaxCachedAge},
		Watch: WatchOptions{HighAccuracy: true, DistanceFilter: cfg.WatchDistanceMeter, Interval: cfg.WatchInterval},
	}
}

func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Location)
}

// Engine owns at most one watch subscription at a time.
type Engine struct {
	device Geolocator
	opts   Options
	log    *slog.Logger

	mu   sync.Mutex
	stop func()
}

func NewEngine(device Geolocator, opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{device: device, opts: opts, log: log.With("component", "geo")}
}

// GetCurrentLocation probes location services with a short, low-accuracy request and then
// takes a high-accuracy fix. A failed probe returns ErrServicesDisabled straight away.
func (e *Engine) GetCurrentLocation(ctx context.Context) (Coordinates, error) {
	if !e.servicesEnabled(ctx) {
		if err := ctx.Err(); err != nil {
			return Coordinates{}, err
		}
		return Coordinates{}, ErrServicesDisabled
	}

	fixCtx, cancel := context.WithTimeout(ctx, e.opts.Fix.Timeout)
	defer cancel()
	pos, err := e.device.CurrentPosition(fixCtx, e.opts.Fix)
	if err != nil {
		if ctx.Err() != nil {
			return Coordinates{}, ctx.Err()
		}
		err = classify(err)
		e.log.Warn("current position failed", "err", err)
		return Coordinates{}, err
	}
	return normalize(pos), nil
}

func (e *Engine) servicesEnabled(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, e.opts.Probe.Timeout)
	defer cancel()
	_, err := e.device.CurrentPosition(probeCtx, e.opts.Probe)
	if err != nil {
		e.log.Debug("location services probe failed", "err", err)
		return false
	}
	return true
}

// StartWatching subscribes to continuous updates. It reports false, and subscribes nothing,
// when a watch is already active. Errors go to onError and the watch keeps running.
func (e *Engine) StartWatching(onUpdate func(Coordinates), onError func(error)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		e.log.Warn("location watching is already active")
		return false
	}
	e.stop = e.device.Watch(e.opts.Watch,
		func(p Position) {
			if onUpdate != nil {
				onUpdate(normalize(p))
			}
		},
		func(err error) {
			err = classify(err)
			e.log.Debug("watch error", "err", err)
			if onError != nil {
				onError(err)
			}
		},
	)
	return true
}

// StopWatching cancels the active watch, if any.
func (e *Engine) StopWatching() {
	e.mu.Lock()
	stop := e.stop
	e.stop = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (e *Engine) IsWatching() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop != nil
}

// FormatLocation renders latitude and longitude with six decimals.
func FormatLocation(c Coordinates) string {
	return location.Format(c.Latitude, c.Longitude)
}

// AccuracyString renders an accuracy radius with one decimal, e.g. "12.3m".
func AccuracyString(meters float64) string {
	return location.Accuracy(meters)
}

// DistanceMeters is the great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return location.HaversineMeters(lat1, lon1, lat2, lon2)
}
