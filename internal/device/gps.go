package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"farmai/internal/geo"
	"farmai/pkg/location"
)

// GPS simulates a location receiver. It reports a settable position; watches poll it at the
// requested interval and apply the distance filter.
type GPS struct {
	mu       sync.Mutex
	pos      geo.Position
	enabled  bool
	fixErr   error
	latency  time.Duration
	fixes    int
	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	onError func(error)
	done    chan struct{}
	exited  chan struct{}
	// inCallback is set while the watch goroutine runs a callback. A stop issued from there
	// must not wait for that goroutine to exit.
	inCallback atomic.Bool
}

// NewGPS returns an enabled receiver positioned at lat, lng.
func NewGPS(lat, lng float64) *GPS {
	return &GPS{
		pos:      geo.Position{Latitude: lat, Longitude: lng, Accuracy: 5, Timestamp: time.Now()},
		enabled:  true,
		watchers: map[int]*watcher{},
	}
}

// MoveTo changes the reported position.
func (g *GPS) MoveTo(lat, lng, accuracy float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pos.Latitude = lat
	g.pos.Longitude = lng
	g.pos.Accuracy = accuracy
	g.pos.Timestamp = time.Now()
}

// SetReading replaces the whole reading, optional fields included.
func (g *GPS) SetReading(p geo.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	g.pos = p
}

// SetEnabled turns location services on or off. When off, every request fails at once.
func (g *GPS) SetEnabled(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = on
}

// FailFixes makes high-accuracy requests fail with err until cleared with nil.
func (g *GPS) FailFixes(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fixErr = err
}

// SetLatency delays every high-accuracy reading.
func (g *GPS) SetLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latency = d
}

// Fixes reports how many high-accuracy requests were served or attempted.
func (g *GPS) Fixes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fixes
}

func (g *GPS) CurrentPosition(ctx context.Context, opts geo.PositionOptions) (geo.Position, error) {
	g.mu.Lock()
	enabled, fixErr, latency, pos := g.enabled, g.fixErr, g.latency, g.pos
	if opts.HighAccuracy {
		g.fixes++
	}
	g.mu.Unlock()

	if !enabled {
		return geo.Position{}, &geo.PositionError{Code: geo.CodePositionUnavailable, Message: "No location provider available."}
	}
	if !opts.HighAccuracy {
		return pos, nil
	}
	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return geo.Position{}, &geo.PositionError{Code: geo.CodeTimeout, Message: "Location request timed out."}
		case <-t.C:
		}
	}
	if fixErr != nil {
		return geo.Position{}, fixErr
	}
	g.mu.Lock()
	pos = g.pos
	g.mu.Unlock()
	return pos, nil
}

func (g *GPS) Watch(opts geo.WatchOptions, onPosition func(geo.Position), onError func(error)) func() {
	w := &watcher{onError: onError, done: make(chan struct{}), exited: make(chan struct{})}
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	g.watchers[id] = w
	g.mu.Unlock()

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer close(w.exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var last *geo.Position
		emit := func() {
			g.mu.Lock()
			pos, enabled := g.pos, g.enabled
			g.mu.Unlock()
			if !enabled {
				if onError != nil {
					w.inCallback.Store(true)
					onError(&geo.PositionError{Code: geo.CodePositionUnavailable, Message: "No location provider available."})
					w.inCallback.Store(false)
				}
				return
			}
			if last != nil && location.HaversineMeters(last.Latitude, last.Longitude, pos.Latitude, pos.Longitude) < opts.DistanceFilter {
				return
			}
			last = &pos
			if onPosition != nil {
				w.inCallback.Store(true)
				onPosition(pos)
				w.inCallback.Store(false)
			}
		}
		emit()
		for {
			select {
			case <-w.done:
				return
			case <-ticker.C:
				select {
				case <-w.done:
					return
				default:
				}
				emit()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.watchers, id)
			g.mu.Unlock()
			close(w.done)
			if !w.inCallback.Load() {
				<-w.exited
			}
		})
	}
}

// InjectWatchError delivers err to every active watch.
func (g *GPS) InjectWatchError(err error) {
	g.mu.Lock()
	ws := make([]*watcher, 0, len(g.watchers))
	for _, w := range g.watchers {
		ws = append(ws, w)
	}
	g.mu.Unlock()
	for _, w := range ws {
		if w.onError != nil {
			w.onError(err)
		}
	}
}

// ActiveWatches reports the number of live subscriptions.
func (g *GPS) ActiveWatches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.watchers)
}
