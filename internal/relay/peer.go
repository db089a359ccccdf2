package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/util"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period, shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Peer is one admitted websocket connection. It belongs to exactly one room
// for its whole life.
type Peer struct {
	ID   string
	Room string
	Role config.Role

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closeMsg  []byte
	done      chan struct{}
}

func newPeer(conn *websocket.Conn, room string, role config.Role, buffer int) *Peer {
	return &Peer{
		ID:   uuid.NewString(),
		Room: room,
		Role: role,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue hands a frame to the peer's writer without blocking. A full queue
// drops the frame for this peer only.
func (p *Peer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- frame:
		return true
	case <-p.done:
		return false
	default:
		util.Stats.AddDropped()
		util.LogWarning("send queue full, frame dropped", "peer", p.ID, "room", util.RoomTag(p.Room))
		return false
	}
}

// shutdown stops the writer, which sends the given close frame and closes
// the socket. Only the first call has any effect.
func (p *Peer) shutdown(code int, reason string) {
	p.closeOnce.Do(func() {
		p.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(p.done)
	})
}

// writePump is the only goroutine that writes to the connection.
func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				util.LogDebug("write failed", "peer", p.ID, "error", err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			p.drain()
			p.conn.WriteControl(websocket.CloseMessage, p.closeMsg, time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes frames queued before shutdown so a departing peer still
// receives what was addressed to it.
func (p *Peer) drain() {
	for {
		select {
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
