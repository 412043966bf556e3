// Package uplink streams accepted fixes from the location store to the backend over a
// websocket. Only the newest unsent fix is kept; older ones are dropped.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"farmai/internal/geo"
	"farmai/internal/locstate"
	"farmai/internal/ws"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
)

// Path is the websocket endpoint relative to the server root.
const Path = "/ws/location"

var (
	ErrNotSignedIn = errors.New("uplink: no access token")
	ErrClosed      = errors.New("uplink: closed")
)

type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Endpoint derives the websocket URL from the REST base URL, e.g.
// http://host:8080/api/v1 becomes ws://host:8080/ws/location.
func Endpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = Path
	u.RawQuery = ""
	return u.String(), nil
}

type Uplink struct {
	endpoint string
	tokens   TokenSource
	dialer   *websocket.Dialer
	log      *slog.Logger

	pending chan geo.Coordinates
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	lastSent int64
	acked    int
	lastErr  string
}

func New(endpoint string, tokens TokenSource, log *slog.Logger) *Uplink {
	if log == nil {
		log = slog.Default()
	}
	return &Uplink{
		endpoint: endpoint,
		tokens:   tokens,
		dialer:   websocket.DefaultDialer,
		log:      log.With("component", "uplink"),
		pending:  make(chan geo.Coordinates, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the backend and waits for its ready frame.
func (u *Uplink) Connect(ctx context.Context) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.mu.Unlock()

	tok, err := u.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if tok == nil || tok.AccessToken == "" {
		return ErrNotSignedIn
	}
	header := http.Header{}
	header.Set("Authorization", tok.Type()+" "+tok.AccessToken)

	conn, resp, err := u.dialer.DialContext(ctx, u.endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", u.endpoint, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", u.endpoint, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var hello ws.Message
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != ws.TypeReady {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected %q frame", hello.Type)
		}
		return fmt.Errorf("handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	u.conn = conn
	u.mu.Unlock()

	u.wg.Add(2)
	go u.writeLoop(conn)
	go u.readLoop(conn)
	u.log.Info("uplink connected", "endpoint", u.endpoint)
	return nil
}

// Attach forwards every new fix published to store until the returned function is called.
func (u *Uplink) Attach(store *locstate.Store) (detach func()) {
	return store.Subscribe(func(s locstate.State) {
		if s.Coordinates != nil {
			u.Send(*s.Coordinates)
		}
	})
}

// Send queues c unless it was already sent. It never blocks.
func (u *Uplink) Send(c geo.Coordinates) {
	u.mu.Lock()
	if u.closed || c.Timestamp == u.lastSent {
		u.mu.Unlock()
		return
	}
	u.lastSent = c.Timestamp
	u.mu.Unlock()

	for {
		select {
		case u.pending <- c:
			return
		default:
		}
		select {
		case <-u.pending:
		default:
		}
	}
}

// Acked is the number of fixes the backend has accepted.
func (u *Uplink) Acked() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.acked
}

// LastError is the most recent rejection reported by the backend.
func (u *Uplink) LastError() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

func (u *Uplink) writeLoop(conn *websocket.Conn) {
	defer u.wg.Done()
	for {
		select {
		case <-u.done:
			return
		case c := <-u.pending:
			msg := ws.Message{Type: ws.TypeFix, Fix: &ws.Fix{
				Latitude:  c.Latitude,
				Longitude: c.Longitude,
				Accuracy:  c.Accuracy,
				Altitude:  c.Altitude,
				Heading:   c.Heading,
				Speed:     c.Speed,
				Timestamp: c.Timestamp,
			}}
			if err := conn.WriteJSON(msg); err != nil {
				u.log.Warn("send fix failed", "err", err)
				return
			}
		}
	}
}

func (u *Uplink) readLoop(conn *websocket.Conn) {
	defer u.wg.Done()
	for {
		var m ws.Message
		if err := conn.ReadJSON(&m); err != nil {
			select {
			case <-u.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					u.log.Warn("uplink read failed", "err", err)
				}
			}
			return
		}
		switch m.Type {
		case ws.TypeAck:
			u.mu.Lock()
			u.acked++
			u.mu.Unlock()
		case ws.TypeError:
			u.mu.Lock()
			u.lastErr = m.Message
			u.mu.Unlock()
			u.log.Warn("fix rejected", "message", m.Message, "timestamp", m.Timestamp)
		}
	}
}

// Close ends the connection and waits for both loops to exit. Safe to call more than once.
func (u *Uplink) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	conn := u.conn
	close(u.done)
	u.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = conn.Close()
	}
	u.wg.Wait()
	if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		return err
	}
	return nil
}
