package signaling

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/consultrelay/internal/config"
)

const closeWait = time.Second

// Conn is a dialed relay connection. Sends are serialized; Receive must be
// called from a single goroutine.
type Conn struct {
	ws *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

// RoomURL turns a relay address into the websocket URL for room and role.
// http(s) schemes are mapped to ws(s), and an empty path becomes /ws.
func RoomURL(base, room string, role config.Role) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL %q: %w", base, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid relay URL %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	q := u.Query()
	q.Set("room", room)
	q.Set("userType", string(role))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the relay at base and joins room as role.
func Dial(ctx context.Context, base, room string, role config.Role) (*Conn, error) {
	target, err := RoomURL(base, room, role)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return &Conn{ws: ws}, nil
}

// Close sends a normal close frame and closes the socket. Safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		c.mu.Unlock()
		err = c.ws.Close()
	})
	return err
}
