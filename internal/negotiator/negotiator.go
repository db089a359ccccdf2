// Package negotiator drives one side of a consultation call: it acquires
// local media, joins a relay room and runs the offer/answer/candidate
// handshake until the media path is up.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/signaling"
	"github.com/1ureka/consultrelay/internal/transcript"
	"github.com/1ureka/consultrelay/internal/transport"
	"github.com/1ureka/consultrelay/internal/util"
)

// DefaultTimeout bounds how long a handshake may take once a peer is present.
const DefaultTimeout = 30 * time.Second

// hangupGrace is how long a failed peer connection waits for the relay's
// peer-left before the failure counts as terminal.
const hangupGrace = 3 * time.Second

var (
	ErrMediaUnavailable     = errors.New("local media unavailable")
	ErrNegotiationTimeout   = errors.New("negotiation timed out")
	ErrClosed               = errors.New("negotiator closed")
	ErrRelayLost            = errors.New("relay connection lost before the call connected")
	ErrPeerConnectionFailed = errors.New("peer connection failed")
)

// PeerEvent reports another member arriving in or leaving the room.
type PeerEvent struct {
	Joined bool
	Role   config.Role
}

// Handlers are optional callbacks. They run on the negotiator's goroutines
// and must not block.
type Handlers struct {
	// OnRemoteStream fires once for every remote track (audio and video
	// arrive separately) of the live connection.
	OnRemoteStream func(*webrtc.TrackRemote)
	// OnChat fires for every relayed chat line, including replayed history.
	OnChat  func(transcript.ChatMessage)
	OnState func(State)
	OnPeer  func(PeerEvent)
}

// Config describes one participant.
type Config struct {
	RelayURL   string
	Room       string
	Role       config.Role
	ICEServers []string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// Media defaults to SyntheticSource.
	Media MediaSource

	Handlers
}

// Negotiator is a single-use call participant. Create it with New, drive it
// with Run, and end it with Close or by cancelling Run's context.
type Negotiator struct {
	cfg   Config
	state atomic.Int32

	mu       sync.Mutex
	shutting bool
	media    LocalMedia
	conn     *signaling.Conn
	tr       *transport.Transport
	retired  chan struct{} // closed when tr is replaced
	timer    *time.Timer

	ctx   context.Context
	queue *opQueue
	fatal chan error

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns an idle negotiator for cfg.
func New(cfg Config) *Negotiator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Media == nil {
		cfg.Media = SyntheticSource{}
	}
	return &Negotiator{
		cfg:    cfg,
		fatal:  make(chan error, 1),
		closed: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (n *Negotiator) State() State {
	return State(n.state.Load())
}

// setState moves to s unless a terminal state was already reached.
func (n *Negotiator) setState(s State) {
	for {
		cur := State(n.state.Load())
		if cur.terminal() || cur == s {
			return
		}
		if n.state.CompareAndSwap(int32(cur), int32(s)) {
			break
		}
	}
	util.LogDebug("negotiator state", "room", util.RoomTag(n.cfg.Room), "state", s.String())
	if n.cfg.OnState != nil {
		n.cfg.OnState(s)
	}
}

// Run acquires media, joins the room and negotiates. It returns nil after
// Close, ctx.Err() after cancellation, and the terminal error otherwise.
// Run may be called once.
func (n *Negotiator) Run(ctx context.Context) error {
	if !n.state.CompareAndSwap(int32(Idle), int32(AcquiringMedia)) {
		if n.State().terminal() {
			return ErrClosed
		}
		return fmt.Errorf("negotiator already started")
	}
	if n.cfg.OnState != nil {
		n.cfg.OnState(AcquiringMedia)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	n.ctx = runCtx

	media, err := n.cfg.Media.Acquire(runCtx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
		n.shutdown(Failed)
		return err
	}
	if !n.adopt(func() { n.media = media }) {
		media.Stop()
		return nil
	}

	n.setState(Connecting)
	conn, err := signaling.Dial(runCtx, n.cfg.RelayURL, n.cfg.Room, n.cfg.Role)
	if err != nil {
		n.shutdown(Failed)
		return err
	}
	if !n.adopt(func() { n.conn = conn }) {
		conn.Close()
		return nil
	}
	util.LogInfo("joined relay", "room", util.RoomTag(n.cfg.Room), "role", n.cfg.Role)

	n.queue = newOpQueue(runCtx)
	if err := n.resetTransport(); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		n.shutdown(Failed)
		return err
	}
	n.setState(Negotiating)

	go n.receive(conn)

	select {
	case <-ctx.Done():
		n.shutdown(Closed)
		return ctx.Err()
	case <-n.closed:
		return nil
	case err := <-n.fatal:
		util.LogError("negotiation failed", "room", util.RoomTag(n.cfg.Room), "error", err)
		n.shutdown(Failed)
		return err
	}
}

// adopt runs set under the lock unless the negotiator is shutting down.
func (n *Negotiator) adopt(set func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shutting {
		return false
	}
	set()
	return true
}

// raise reports a terminal error to Run. Only the first one is kept.
func (n *Negotiator) raise(err error) {
	select {
	case n.fatal <- err:
	default:
	}
}

// Close tears the call down: local media first, then the peer connection,
// then the relay connection. Calling it again does nothing.
func (n *Negotiator) Close() error {
	n.shutdown(Closed)
	return nil
}

func (n *Negotiator) shutdown(final State) {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.shutting = true
		media, tr, conn := n.media, n.tr, n.conn
		if n.timer != nil {
			n.timer.Stop()
			n.timer = nil
		}
		n.mu.Unlock()

		if media != nil {
			media.Stop()
		}
		if tr != nil {
			if err := tr.Close(); err != nil {
				util.LogDebug("peer connection close", "error", err)
			}
		}
		if conn != nil {
			conn.Close()
		}

		n.setState(final)
		close(n.closed)
	})
}

// SendChat sends a chat line through the relay, which persists it and
// echoes it back to every member.
func (n *Negotiator) SendChat(text string) error {
	n.mu.Lock()
	conn, shutting := n.conn, n.shutting
	n.mu.Unlock()

	if shutting {
		return ErrClosed
	}
	if conn == nil {
		return fmt.Errorf("not connected to relay")
	}
	return conn.SendChat(text)
}

// resetTransport replaces the peer connection with a fresh one carrying the
// same local tracks.
func (n *Negotiator) resetTransport() error {
	n.mu.Lock()
	media := n.media
	n.mu.Unlock()

	tr, err := transport.NewTransport(n.cfg.ICEServers, media.Tracks())
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		n.mu.Lock()
		conn := n.conn
		n.mu.Unlock()
		if err := conn.SendCandidate(c.ToJSON()); err != nil {
			util.LogDebug("failed to send candidate", "error", err)
		}
	})

	tr.OnTrack(func(track *webrtc.TrackRemote) {
		if n.current() != tr {
			return
		}
		util.LogInfo("remote track received", "kind", track.Kind().String(), "stream", track.StreamID())
		if n.cfg.OnRemoteStream != nil {
			n.cfg.OnRemoteStream(track)
		}
	})

	retired := make(chan struct{})

	n.mu.Lock()
	if n.shutting {
		n.mu.Unlock()
		tr.Close()
		return ErrClosed
	}
	old, oldRetired := n.tr, n.retired
	n.tr, n.retired = tr, retired
	n.mu.Unlock()

	if old != nil {
		close(oldRetired)
		old.Close()
	}

	go n.watch(tr, retired)
	return nil
}

// current returns the live transport.
func (n *Negotiator) current() *transport.Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tr
}

// watch follows one transport until it is replaced. It marks the call
// connected when media can flow. When the connection ends underneath it, the
// other side has usually hung up: a fresh transport is prepared for whoever
// joins next, and only a failure that no peer-left explains is terminal.
func (n *Negotiator) watch(tr *transport.Transport, retired <-chan struct{}) {
	select {
	case <-tr.Ready():
		select {
		case <-retired:
			return
		default:
		}
		n.disarmTimer()
		n.setState(Connected)
		util.LogInfo("call connected", "room", util.RoomTag(n.cfg.Room))
	case <-tr.Done():
	case <-retired:
		return
	case <-n.closed:
		return
	}

	select {
	case <-tr.Done():
	case <-retired:
		return
	case <-n.closed:
		return
	}
	select {
	case <-retired:
		return
	case <-n.closed:
		return
	default:
	}

	state := tr.ConnectionState()
	if state != webrtc.PeerConnectionStateFailed {
		util.LogInfo("peer connection closed by remote", "room", util.RoomTag(n.cfg.Room), "state", state.String())
		n.queue.submit(n.ctx, func() { n.restart(tr) })
		return
	}

	grace := time.NewTimer(hangupGrace)
	defer grace.Stop()
	select {
	case <-retired:
	case <-n.closed:
	case <-grace.C:
		n.raise(fmt.Errorf("%w (state %s)", ErrPeerConnectionFailed, state))
	}
}

func (n *Negotiator) armTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil || n.shutting || n.State() == Connected {
		return
	}
	timeout := n.cfg.Timeout
	n.timer = time.AfterFunc(timeout, func() {
		n.raise(fmt.Errorf("%w after %s", ErrNegotiationTimeout, timeout))
	})
}

func (n *Negotiator) disarmTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// receive reads relay envelopes until the connection ends.
func (n *Negotiator) receive(conn *signaling.Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			select {
			case <-n.closed:
				return
			default:
			}
			if n.State() == Connected {
				if signaling.IsClosed(err) {
					util.LogDebug("relay closed the connection, call continues")
				} else {
					util.LogWarning("relay connection lost, call continues", "error", err)
				}
				return
			}
			n.raise(fmt.Errorf("%w: %w", ErrRelayLost, err))
			return
		}
		n.handle(msg)
	}
}

func (n *Negotiator) handle(msg signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypeJoined:
		util.LogDebug("room joined", "role", msg.Role, "peers", msg.Peers, "initiator", msg.Initiator)
		if msg.Initiator {
			n.armTimer()
			n.queue.submit(n.ctx, n.offer)
		}

	case signaling.MsgTypePeerJoined:
		util.LogInfo("peer joined", "role", msg.Role)
		n.armTimer()
		n.notifyPeer(PeerEvent{Joined: true, Role: msg.Role})

	case signaling.MsgTypePeerLeft:
		util.LogInfo("peer left", "role", msg.Role)
		n.notifyPeer(PeerEvent{Joined: false, Role: msg.Role})
		tr := n.current()
		n.queue.submit(n.ctx, func() { n.restart(tr) })

	case signaling.MsgTypeOffer:
		if msg.Offer == nil {
			return
		}
		offer := *msg.Offer
		n.armTimer()
		n.queue.submit(n.ctx, func() { n.answer(offer) })

	case signaling.MsgTypeAnswer:
		if msg.Answer == nil {
			return
		}
		answer := *msg.Answer
		n.queue.submit(n.ctx, func() {
			if err := n.current().SetRemoteDescription(answer); err != nil {
				util.LogWarning("failed to apply answer", "error", err)
			}
		})

	case signaling.MsgTypeCandidate:
		if msg.Candidate == nil {
			return
		}
		candidate := *msg.Candidate
		n.queue.submit(n.ctx, func() {
			if err := n.current().AddICECandidate(candidate); err != nil {
				util.LogDebug("failed to add candidate", "error", err)
			}
		})

	case signaling.MsgTypeChat:
		if msg.Message != nil {
			n.notifyChat(*msg.Message)
		}

	case signaling.MsgTypeHistory:
		for _, m := range msg.Messages {
			n.notifyChat(m)
		}
	}
}

func (n *Negotiator) notifyChat(m transcript.ChatMessage) {
	if n.cfg.OnChat != nil {
		n.cfg.OnChat(m)
	}
}

func (n *Negotiator) notifyPeer(ev PeerEvent) {
	if n.cfg.OnPeer != nil {
		n.cfg.OnPeer(ev)
	}
}

// offer runs on the op queue.
func (n *Negotiator) offer() {
	tr := n.current()
	sd, err := tr.CreateOffer()
	if err != nil {
		util.LogWarning("failed to create offer", "error", err)
		return
	}
	if err := tr.SetLocalDescription(sd); err != nil {
		util.LogWarning("failed to apply offer", "error", err)
		return
	}
	if err := n.relay().SendOffer(sd); err != nil {
		util.LogWarning("failed to send offer", "error", err)
	}
}

// answer runs on the op queue.
func (n *Negotiator) answer(offer webrtc.SessionDescription) {
	tr := n.current()
	if err := tr.SetRemoteDescription(offer); err != nil {
		util.LogWarning("failed to apply offer", "error", err)
		return
	}
	sd, err := tr.CreateAnswer()
	if err != nil {
		util.LogWarning("failed to create answer", "error", err)
		return
	}
	if err := tr.SetLocalDescription(sd); err != nil {
		util.LogWarning("failed to apply answer", "error", err)
		return
	}
	if err := n.relay().SendAnswer(sd); err != nil {
		util.LogWarning("failed to send answer", "error", err)
	}
}

// restart runs on the op queue after the other member left or hung up. It
// replaces tr with a fresh peer connection, unless tr was already replaced.
// The next joiner becomes the initiator and offers to it.
func (n *Negotiator) restart(tr *transport.Transport) {
	if n.current() != tr {
		return
	}
	n.disarmTimer()
	if err := n.resetTransport(); err != nil {
		if !errors.Is(err, ErrClosed) {
			n.raise(err)
		}
		return
	}
	if n.state.CompareAndSwap(int32(Connected), int32(Negotiating)) && n.cfg.OnState != nil {
		n.cfg.OnState(Negotiating)
	}
}

func (n *Negotiator) relay() *signaling.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn
}
