// Package tracker wires the permission gateway and the geo engine into the shared location
// store. It owns the policy: when to take a fix, when to start watching, when to stop.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"farmai/config"
	"farmai/internal/geo"
	"farmai/internal/locstate"
	"farmai/internal/notify"
	"farmai/internal/permission"
)

var (
	ErrNotPermitted = errors.New("location permission not granted")
	// ErrSuperseded is returned by a fix that finished after a newer request started.
	ErrSuperseded = errors.New("location request superseded")
)

const noLocation = "No location available"

type Provider struct {
	gate   *permission.Gateway
	engine *geo.Engine
	store  *locstate.Store
	bus    *notify.Bus
	log    *slog.Logger

	settleDelay     time.Duration
	permissionDelay time.Duration

	epoch   atomic.Uint64
	pending sync.WaitGroup
	life    sync.Mutex // serializes watch start from timers with Unmount

	mu          sync.Mutex
	mounted     bool
	autoArmed   bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	settle      *time.Timer
	retry       *time.Timer
}

func New(gate *permission.Gateway, engine *geo.Engine, store *locstate.Store, cfg config.LocationConfig, bus *notify.Bus, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = notify.Default()
	}
	return &Provider{
		gate:            gate,
		engine:          engine,
		store:           store,
		bus:             bus,
		log:             log.With("component", "tracker"),
		settleDelay:     cfg.SettleDelay,
		permissionDelay: cfg.PermissionDelay,
	}
}

// Mount checks permissions and, when location is enabled and the store holds nothing yet,
// takes one fix. It blocks until that fix completes. The first fix after mounting starts a
// watch once the settle delay has passed.
func (p *Provider) Mount(ctx context.Context) {
	p.mu.Lock()
	if p.mounted {
		p.mu.Unlock()
		return
	}
	p.mounted = true
	p.autoArmed = true
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Unlock()

	unsubscribe := p.store.Subscribe(p.onState)
	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	perm := p.gate.Check(ctx)
	st := p.store.Snapshot()
	if perm.LocationEnabled() && st.Coordinates == nil && !st.Loading && st.Error == "" {
		_, _ = p.Refresh(ctx)
	}
	p.onState(p.store.Snapshot())
}

// Unmount stops watching, cancels pending timers and waits for any timer work in flight.
func (p *Provider) Unmount() {
	p.mu.Lock()
	p.mounted = false
	p.stopTimerLocked(&p.settle)
	p.stopTimerLocked(&p.retry)
	cancel, unsubscribe := p.cancel, p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	p.life.Lock()
	p.StopWatching()
	p.life.Unlock()
	p.pending.Wait()
}

// Refresh takes a one-shot fix and writes the outcome into the store. A result that
// arrives after a newer fix or request is dropped and reported as ErrSuperseded.
func (p *Provider) Refresh(ctx context.Context) (*geo.Coordinates, error) {
	if !p.gate.State().LocationEnabled() {
		p.store.SetAvailable(false)
		return nil, ErrNotPermitted
	}

	epoch := p.epoch.Add(1)
	p.store.SetLoading(true)
	c, err := p.engine.GetCurrentLocation(ctx)
	if p.epoch.Load() != epoch {
		p.log.Debug("dropping stale fix", "epoch", epoch, "err", err)
		return nil, ErrSuperseded
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.store.SetLoading(false)
			return nil, err
		}
		p.store.SetError(geo.Message(err))
		p.store.SetAvailable(false)
		p.bus.Error(alertTitle(err), geo.Message(err))
		return nil, err
	}
	p.store.Update(c, geo.AccuracyString(c.Accuracy), nil)
	return &c, nil
}

// StartWatching begins continuous updates. It reports false when location is not enabled
// or a watch is already running.
func (p *Provider) StartWatching() bool {
	if !p.gate.State().LocationEnabled() || p.engine.IsWatching() {
		return false
	}
	watching := true
	started := p.engine.StartWatching(
		func(c geo.Coordinates) {
			p.epoch.Add(1)
			p.store.Update(c, geo.AccuracyString(c.Accuracy), &watching)
		},
		func(err error) {
			// the watch keeps running and heals on the next fix
			p.store.SetError(geo.Message(err))
		},
	)
	if !started {
		return false
	}
	p.store.SetWatching(true)
	p.store.SetError("")
	return true
}

func (p *Provider) StopWatching() {
	p.engine.StopWatching()
	p.store.SetWatching(false)
}

// ClearLocation resets the store and stops watching. The next fix starts a watch again.
func (p *Provider) ClearLocation() {
	p.epoch.Add(1)
	p.mu.Lock()
	p.stopTimerLocked(&p.settle)
	p.autoArmed = true
	p.mu.Unlock()
	p.engine.StopWatching()
	p.store.Clear()
}

// RequestPermissions requests fine and background location, re-checks, and when fine
// location ends up enabled schedules a fix after the permission delay.
func (p *Provider) RequestPermissions(ctx context.Context) bool {
	granted := p.gate.RequestAll(ctx)
	perm := p.gate.Check(ctx)
	if !perm.LocationEnabled() {
		return granted
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.mounted {
		p.log.Debug("not mounted; skipping delayed fix")
		return granted
	}
	fixCtx := p.ctx
	p.afterLocked(&p.retry, p.permissionDelay, func() {
		_, _ = p.Refresh(fixCtx)
	})
	return granted
}

func (p *Provider) Snapshot() locstate.State {
	return p.store.Snapshot()
}

func (p *Provider) Permissions() permission.State {
	return p.gate.State()
}

// FormattedLocation renders the current fix, or "No location available".
func (p *Provider) FormattedLocation() string {
	st := p.store.Snapshot()
	if st.Coordinates == nil {
		return noLocation
	}
	return geo.FormatLocation(*st.Coordinates)
}

// DistanceTo is the distance in meters from the current fix; false without one.
func (p *Provider) DistanceTo(lat, lng float64) (float64, bool) {
	st := p.store.Snapshot()
	if st.Coordinates == nil {
		return 0, false
	}
	return geo.DistanceMeters(st.Coordinates.Latitude, st.Coordinates.Longitude, lat, lng), true
}

// onState arms the settle timer after the first fix.
func (p *Provider) onState(st locstate.State) {
	if st.Coordinates == nil || st.Watching || st.Loading {
		return
	}
	if !p.gate.State().LocationEnabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.mounted || !p.autoArmed || p.settle != nil {
		return
	}
	p.afterLocked(&p.settle, p.settleDelay, p.settleFired)
}

func (p *Provider) settleFired() {
	p.life.Lock()
	defer p.life.Unlock()

	p.mu.Lock()
	mounted := p.mounted
	p.mu.Unlock()
	if !mounted {
		return
	}
	st := p.store.Snapshot()
	if st.Watching || st.Loading {
		return
	}
	if p.StartWatching() {
		p.mu.Lock()
		p.autoArmed = false
		p.mu.Unlock()
	}
}

// afterLocked replaces the timer in slot. p.mu must be held.
func (p *Provider) afterLocked(slot **time.Timer, d time.Duration, fn func()) {
	p.stopTimerLocked(slot)
	p.pending.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer p.pending.Done()
		p.mu.Lock()
		if *slot == t {
			*slot = nil
		}
		p.mu.Unlock()
		fn()
	})
	*slot = t
}

func (p *Provider) stopTimerLocked(slot **time.Timer) {
	if *slot != nil && (*slot).Stop() {
		p.pending.Done()
	}
	*slot = nil
}

func alertTitle(err error) string {
	switch {
	case errors.Is(err, geo.ErrServicesDisabled):
		return "Location Services Disabled"
	case errors.Is(err, geo.ErrPermissionDenied):
		return "Location Permission Required"
	case errors.Is(err, geo.ErrTimeout):
		return "Location Timeout"
	default:
		return "Location Unavailable"
	}
}
