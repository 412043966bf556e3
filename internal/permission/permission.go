// Package permission negotiates OS location permissions. Fine and background location are
// tracked independently; background is never requested before fine is granted.
package permission

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Capability is one OS location permission.
type Capability int

const (
	Fine Capability = iota
	Background
)

func (c Capability) String() string {
	switch c {
	case Fine:
		return "fine"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// Status is the OS answer for one capability. Unavailable means the device has no location
// support at all.
type Status int

const (
	NotDetermined Status = iota
	Granted
	Denied  // recoverable: a new request may succeed
	Blocked // only the settings screen can change it
	Unavailable
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not-determined"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Blocked:
		return "blocked"
	case Unavailable:
		return "unavailable"
	default:
		return "invalid"
	}
}

// Platform is the OS permission surface.
type Platform interface {
	Check(ctx context.Context, c Capability) (Status, error)
	Request(ctx context.Context, c Capability) (Status, error)
	OpenSettings() error
}

// PreciseRequester is implemented by platforms with a secondary full-accuracy prompt.
type PreciseRequester interface {
	RequestPreciseAccuracy(ctx context.Context) error
}

// State is the last known status of both capabilities.
type State struct {
	Fine       Status
	Background Status
}

func (s State) LocationEnabled() bool   { return s.Fine == Granted }
func (s State) BackgroundEnabled() bool { return s.Background == Granted }

// Gateway holds the last known permission state and is safe for concurrent use.
type Gateway struct {
	platform Platform
	log      *slog.Logger

	mu    sync.RWMutex
	state State
}

func NewGateway(p Platform, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{platform: p, log: log.With("component", "permission")}
}

func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Check queries both capabilities concurrently. It never prompts and never fails; a
// capability whose check errors keeps its previous status.
func (g *Gateway) Check(ctx context.Context) State {
	var fine, background Status
	var fineOK, backgroundOK bool
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		fine, fineOK = g.query(egCtx, Fine)
		return nil
	})
	eg.Go(func() error {
		background, backgroundOK = g.query(egCtx, Background)
		return nil
	})
	_ = eg.Wait()

	g.mu.Lock()
	if fineOK {
		g.state.Fine = transition(g.state.Fine, fine)
	}
	if backgroundOK {
		g.state.Background = transition(g.state.Background, background)
	}
	s := g.state
	g.mu.Unlock()
	return s
}

func (g *Gateway) query(ctx context.Context, c Capability) (Status, bool) {
	st, err := g.platform.Check(ctx, c)
	if err != nil {
		g.log.Warn("permission check failed", "capability", c, "err", err)
		return NotDetermined, false
	}
	return st, true
}

// RequestFine prompts for fine location once. On grant it also asks for precise accuracy
// where the platform supports it; that prompt failing does not fail the request.
func (g *Gateway) RequestFine(ctx context.Context) bool {
	st, ok := g.request(ctx, Fine)
	if !ok || st != Granted {
		return false
	}
	if pr, ok := g.platform.(PreciseRequester); ok {
		if err := pr.RequestPreciseAccuracy(ctx); err != nil {
			g.log.Info("precise accuracy request failed", "err", err)
		}
	}
	return true
}

// RequestBackground prompts for background location. It returns false without prompting
// and without touching the background state when fine location is not granted.
func (g *Gateway) RequestBackground(ctx context.Context) bool {
	if !g.State().LocationEnabled() {
		g.log.Warn("background location requested before fine location was granted")
		return false
	}
	st, ok := g.request(ctx, Background)
	return ok && st == Granted
}

// RequestAll requests fine then, only if granted, background. A fine-only grant reports
// false; callers tell it apart through State.
func (g *Gateway) RequestAll(ctx context.Context) bool {
	if !g.RequestFine(ctx) {
		return false
	}
	return g.RequestBackground(ctx)
}

func (g *Gateway) request(ctx context.Context, c Capability) (Status, bool) {
	st, err := g.platform.Request(ctx, c)
	if err != nil {
		g.log.Error("permission request failed", "capability", c, "err", err)
		return NotDetermined, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	switch c {
	case Fine:
		g.state.Fine = transition(g.state.Fine, st)
		st = g.state.Fine
	case Background:
		g.state.Background = transition(g.state.Background, st)
		st = g.state.Background
	}
	return st, true
}

func (g *Gateway) OpenSettings() {
	if err := g.platform.OpenSettings(); err != nil {
		g.log.Warn("open settings failed", "err", err)
	}
}

// ShouldRequestBackground reports whether fine location is granted but background is not.
func (g *Gateway) ShouldRequestBackground() bool {
	s := g.State()
	return s.LocationEnabled() && !s.BackgroundEnabled()
}

// transition applies next to cur. Nothing returns to NotDetermined and an Unavailable
// reported by the platform is final.
func transition(cur, next Status) Status {
	if cur == Unavailable {
		return cur
	}
	if next == NotDetermined && cur != NotDetermined {
		return cur
	}
	return next
}
