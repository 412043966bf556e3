package ws

import (
	"sync"
)

// Fix is one position report, as sent by the uplink and by PATCH /me/location.
type Fix struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	// Timestamp is the capture time in epoch milliseconds; zero means now.
	Timestamp int64 `json:"timestamp"`
}

// Message is the envelope of every frame on the location channel.
type Message struct {
	Type      string `json:"type"` // fix, ack, location, error, ready
	Fix       *Fix   `json:"fix,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	TypeFix      = "fix"
	TypeAck      = "ack"
	TypeLocation = "location"
	TypeError    = "error"
	TypeReady    = "ready"
)

// LocationHub fans accepted fixes out to every connection of their owner and remembers the
// latest one per user.
type LocationHub struct {
	*Hub
	mu     sync.RWMutex
	latest map[uint]Fix
}

func NewLocationHub() *LocationHub {
	return &LocationHub{
		Hub:    NewHub(),
		latest: make(map[uint]Fix),
	}
}

func (h *LocationHub) Publish(userID uint, f Fix) {
	h.mu.Lock()
	h.latest[userID] = f
	h.mu.Unlock()
	h.BroadcastToUser(userID, Message{Type: TypeLocation, Fix: &f, Timestamp: f.Timestamp})
}

// Latest returns the last fix published for userID since the process started.
func (h *LocationHub) Latest(userID uint) (Fix, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.latest[userID]
	return f, ok
}
