// Package relay is the websocket signaling relay. It admits two peers per
// room, forwards their handshake frames to each other and persists their chat.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/registry"
	"github.com/1ureka/consultrelay/internal/transcript"
	"github.com/1ureka/consultrelay/internal/util"
)

// ReasonMissingParams is the close reason sent when admission parameters
// are absent.
const ReasonMissingParams = "Room and userType are required"

// ReasonUnknownRole is the close reason sent for a userType that is neither
// patient nor doctor.
const ReasonUnknownRole = "userType must be patient or doctor"

// storeTimeout is the deadline handed to each transcript read or append.
const storeTimeout = 5 * time.Second

// ErrRelayNotStarted is reported to clients that connect before the relay
// has been bootstrapped.
var ErrRelayNotStarted = errors.New("relay not started")

// Relay admits websocket connections into rooms and routes their frames.
type Relay struct {
	cfg      config.RelayConfig
	rooms    *registry.Registry[*Peer]
	store    transcript.Store
	locks    *roomLocks
	upgrader websocket.Upgrader
	now      func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	peers  map[*Peer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New returns a relay that tracks membership in rooms and persists chat to
// store. It refuses connections until Start is called.
func New(cfg config.RelayConfig, rooms *registry.Registry[*Peer], store transcript.Store) *Relay {
	return &Relay{
		cfg:   cfg,
		rooms: rooms,
		store: store,
		locks: newRoomLocks(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now:   time.Now,
		peers: make(map[*Peer]struct{}),
	}
}

// Start lets the relay accept connections. It reports whether this call was
// the one that started it.
func (r *Relay) Start() bool {
	started := r.running.CompareAndSwap(false, true)
	if started {
		util.LogInfo("relay started")
	}
	return started
}

// Running reports whether Start has been called.
func (r *Relay) Running() bool { return r.running.Load() }

// Rooms returns the number of rooms with at least one member.
func (r *Relay) Rooms() int { return r.rooms.Rooms() }

// Connections returns the number of currently admitted peers.
func (r *Relay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// ServeHTTP upgrades the request and runs the admitted peer until its
// connection closes.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.Running() {
		http.Error(w, ErrRelayNotStarted.Error(), http.StatusServiceUnavailable)
		return
	}

	q := req.URL.Query()
	room, userType := q.Get("room"), q.Get("userType")

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		util.LogDebug("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}

	if room == "" || userType == "" {
		refuse(conn, ReasonMissingParams)
		return
	}
	role, ok := config.ParseRole(userType)
	if !ok {
		refuse(conn, ReasonUnknownRole)
		return
	}

	r.admit(conn, room, role)
}

// refuse closes a connection that failed admission. It is never registered.
func refuse(conn *websocket.Conn, reason string) {
	util.Stats.AddRefused()
	util.LogDebug("connection refused", "remote", conn.RemoteAddr(), "reason", reason)

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

func (r *Relay) admit(conn *websocket.Conn, room string, role config.Role) {
	p := newPeer(conn, room, role, r.cfg.SendBuffer)

	// Registering the peer and its goroutines under r.mu orders this against
	// Close: either Close sees the peer, or the peer sees closed.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		util.LogDebug("connection refused, relay closing", "remote", conn.RemoteAddr())
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	r.peers[p] = struct{}{}
	r.wg.Add(2)
	r.mu.Unlock()

	// Joining and reading history under the room lock means every chat line
	// reaches the newcomer exactly once: either in history or as a broadcast.
	unlock := r.locks.Lock(room)
	before := r.rooms.Join(room, p)
	history := r.history(room)
	p.enqueue(mustEncode(JoinedEnvelope{
		Type:      TypeJoined,
		Room:      room,
		Role:      role,
		Initiator: before > 0,
		Peers:     before,
	}))
	p.enqueue(mustEncode(HistoryEnvelope{Type: TypeHistory, Messages: history}))
	r.fanout(r.rooms.MembersExcept(room, p), mustEncode(PresenceEnvelope{Type: TypePeerJoined, Role: role}))
	unlock()

	util.Stats.AddAdmitted()
	util.LogInfo("peer joined", "peer", p.ID, "room", util.RoomTag(room), "role", role, "present", before)

	go func() {
		defer r.wg.Done()
		p.writePump()
	}()
	go func() {
		defer r.wg.Done()
		r.readPump(p)
	}()
}

func (r *Relay) history(room string) []transcript.ChatMessage {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msgs, err := r.store.Read(ctx, room)
	if err != nil {
		util.LogError("failed to read transcript", "room", util.RoomTag(room), "error", err)
		return []transcript.ChatMessage{}
	}
	return msgs
}

// readPump processes one frame at a time until the connection fails.
func (r *Relay) readPump(p *Peer) {
	defer r.leave(p)

	p.conn.SetReadLimit(r.cfg.MaxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				util.LogDebug("connection lost", "peer", p.ID, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			util.Stats.AddDropped()
			util.LogDebug("binary frame dropped", "peer", p.ID)
			continue
		}
		r.dispatch(p, data)
	}
}

func (r *Relay) dispatch(p *Peer, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		util.Stats.AddDropped()
		util.LogDebug("malformed frame dropped", "peer", p.ID, "error", err)
		return
	}

	switch {
	case isHandshake(in.Type):
		util.Stats.AddSignal()
		r.fanout(r.rooms.MembersExcept(p.Room, p), data)

	case in.Type == TypeChat:
		var c chatFrame
		if err := json.Unmarshal(data, &c); err != nil || c.Text == nil || *c.Text == "" {
			util.Stats.AddDropped()
			util.LogDebug("chat frame without text dropped", "peer", p.ID)
			return
		}
		r.chat(p, *c.Text)

	default:
		util.Stats.AddDropped()
		util.LogDebug("unknown frame dropped", "peer", p.ID, "type", in.Type)
	}
}

// chat persists a line and then broadcasts it to the whole room, sender
// included. The room lock keeps transcript order equal to delivery order.
func (r *Relay) chat(p *Peer, text string) {
	msg := transcript.NewChatMessage(p.Role, text, r.now())

	unlock := r.locks.Lock(p.Room)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	err := r.store.Append(ctx, p.Room, msg)
	cancel()
	if err != nil {
		util.Stats.AddPersistFailure()
		util.LogError("failed to persist chat message", "room", util.RoomTag(p.Room), "id", msg.ID, "error", err)
	}

	util.Stats.AddChat()
	r.fanout(r.rooms.Members(p.Room), mustEncode(ChatEnvelope{Type: TypeChat, Message: msg}))
}

func (r *Relay) fanout(members []*Peer, frame []byte) {
	for _, m := range members {
		m.enqueue(frame)
	}
}

// leave removes p from its room and tells whoever remains.
func (r *Relay) leave(p *Peer) {
	remaining := r.rooms.Leave(p.Room, p)
	p.shutdown(websocket.CloseNormalClosure, "")

	r.mu.Lock()
	delete(r.peers, p)
	r.mu.Unlock()

	if remaining > 0 {
		r.fanout(r.rooms.Members(p.Room), mustEncode(PresenceEnvelope{Type: TypePeerLeft, Role: p.Role}))
	}

	util.Stats.AddClosed()
	util.LogInfo("peer left", "peer", p.ID, "room", util.RoomTag(p.Room), "remaining", remaining)
}

// Close disconnects every peer and waits for their goroutines to finish. A
// closed relay admits nobody, even if started again.
func (r *Relay) Close() {
	r.running.Store(false)

	r.mu.Lock()
	r.closed = true
	peers := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
	r.wg.Wait()
}
