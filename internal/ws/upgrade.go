package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"farmai/config"
	"farmai/internal/auth"
	"farmai/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	pingPeriod   = 30 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 4096
)

// Recorder persists an accepted fix.
type Recorder interface {
	Record(ctx context.Context, userID uint, f Fix) error
}

// PresenceSetter marks a user's connection status.
type PresenceSetter interface {
	Set(userID uint, status string, online bool) error
}

// UpgradeLocationWS serves the device uplink. The access token comes from the token query
// parameter or the Authorization header; each fix frame is answered with an ack or an error.
func UpgradeLocationWS(cfg *config.JWTConfig, hub *LocationHub, rec Recorder, presence PresenceSetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "token required", "code": "TOKEN_MISSING"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token", "code": "TOKEN_INVALID"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client := NewClient(claims.UserID)
		hub.Register(client)
		defer client.Close()
		setPresence(presence, claims.UserID, domain.PresenceTracking, true)
		defer setPresence(presence, claims.UserID, domain.PresenceOnline, true)

		done := make(chan struct{})
		go func() {
			writePump(client, conn)
			close(done)
		}()
		client.Send <- mustJSON(Message{Type: TypeReady})
		// a new connection starts from the owner's last accepted fix
		if f, ok := hub.Latest(claims.UserID); ok {
			client.Send <- mustJSON(Message{Type: TypeLocation, Fix: &f, Timestamp: f.Timestamp})
		}
		readPump(c.Request.Context(), client, conn, rec)
		client.Close()
		<-done
	}
}

// writePump copies messages from client.Send to the connection until Send is closed.
func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				drain(c, conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				drain(c, conn)
				return
			}
		}
	}
}

// drain closes a broken connection, which ends readPump, and discards queued frames until
// the client is closed.
func drain(c *Client, conn *websocket.Conn) {
	_ = conn.Close()
	for range c.Send {
	}
}

func readPump(ctx context.Context, c *Client, conn *websocket.Conn, rec Recorder) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeFix || msg.Fix == nil {
			reply(c, Message{Type: TypeError, Message: "expected a fix frame"})
			continue
		}
		if err := rec.Record(ctx, c.UserID, *msg.Fix); err != nil {
			reply(c, Message{Type: TypeError, Message: err.Error(), Timestamp: msg.Fix.Timestamp})
			continue
		}
		reply(c, Message{Type: TypeAck, Timestamp: msg.Fix.Timestamp})
	}
}

func reply(c *Client, m Message) {
	select {
	case c.Send <- mustJSON(m):
	default:
	}
}

func setPresence(p PresenceSetter, userID uint, status string, online bool) {
	if p == nil {
		return
	}
	if err := p.Set(userID, status, online); err != nil {
		log.Printf("[ws] presence update failed: user=%d err=%v", userID, err)
	}
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
