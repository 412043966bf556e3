// Package device provides simulated OS surfaces (permission prompts and a GPS receiver) for
// the CLI and for tests.
package device

import (
	"context"
	"sync"

	"farmai/internal/permission"
)

// Permissions simulates the OS permission API. A prompt moves a NotDetermined or Denied
// capability to its configured answer; Blocked and Unavailable never change on request.
type Permissions struct {
	mu         sync.Mutex
	status     map[permission.Capability]permission.Status
	answers    map[permission.Capability]permission.Status
	checkErr   map[permission.Capability]error
	requestErr map[permission.Capability]error
	preciseErr error

	requests map[permission.Capability]int
	precise  int
	settings int
}

// NewPermissions returns a platform on which every prompt is granted.
func NewPermissions() *Permissions {
	return &Permissions{
		status: map[permission.Capability]permission.Status{
			permission.Fine:       permission.NotDetermined,
			permission.Background: permission.NotDetermined,
		},
		answers: map[permission.Capability]permission.Status{
			permission.Fine:       permission.Granted,
			permission.Background: permission.Granted,
		},
		checkErr:   map[permission.Capability]error{},
		requestErr: map[permission.Capability]error{},
		requests:   map[permission.Capability]int{},
	}
}

// Set forces the current status of c.
func (p *Permissions) Set(c permission.Capability, s permission.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[c] = s
}

// Answer sets what the user picks when prompted for c.
func (p *Permissions) Answer(c permission.Capability, s permission.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers[c] = s
}

func (p *Permissions) FailCheck(c permission.Capability, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkErr[c] = err
}

func (p *Permissions) FailRequest(c permission.Capability, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestErr[c] = err
}

func (p *Permissions) FailPrecise(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preciseErr = err
}

func (p *Permissions) Check(ctx context.Context, c permission.Capability) (permission.Status, error) {
	if err := ctx.Err(); err != nil {
		return permission.NotDetermined, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkErr[c]; err != nil {
		return permission.NotDetermined, err
	}
	return p.status[c], nil
}

func (p *Permissions) Request(ctx context.Context, c permission.Capability) (permission.Status, error) {
	if err := ctx.Err(); err != nil {
		return permission.NotDetermined, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests[c]++
	if err := p.requestErr[c]; err != nil {
		return permission.NotDetermined, err
	}
	// the OS refuses background before fine is granted
	if c == permission.Background && p.status[permission.Fine] != permission.Granted {
		return p.status[c], nil
	}
	switch p.status[c] {
	case permission.NotDetermined, permission.Denied:
		p.status[c] = p.answers[c]
	}
	return p.status[c], nil
}

func (p *Permissions) RequestPreciseAccuracy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.precise++
	return p.preciseErr
}

func (p *Permissions) OpenSettings() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings++
	return nil
}

// Requests reports how many prompts were shown for c.
func (p *Permissions) Requests(c permission.Capability) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[c]
}

func (p *Permissions) PreciseRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.precise
}

func (p *Permissions) SettingsOpened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}
