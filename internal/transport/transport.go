// Package transport wraps the WebRTC PeerConnection that carries a
// consultation's audio and video.
package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/consultrelay/internal/util"
)

// Transport wraps a single PeerConnection with its local tracks attached.
//
// Ready is closed once ICE and DTLS complete; Done once the connection
// fails or is closed. After Done, ConnectionState tells the two apart.
type Transport struct {
	pc *webrtc.PeerConnection

	readySignal chan struct{}
	doneSignal  chan struct{}
	readyOnce   sync.Once
	doneOnce    sync.Once

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewTransport creates a Transport using iceServers and sends every track in
// tracks.
func NewTransport(iceServers []string, tracks []webrtc.TrackLocal) (*Transport, error) {
	pc, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		pc:          pc,
		readySignal: make(chan struct{}),
		doneSignal:  make(chan struct{}),
		pcState:     webrtc.PeerConnectionStateNew,
	}

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, err
		}
		go drainRTCP(sender)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer connection state", "state", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			t.readyOnce.Do(func() { close(t.readySignal) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.doneOnce.Do(func() { close(t.doneSignal) })
		}
	})

	return t, nil
}

// drainRTCP reads incoming RTCP so interceptors such as NACK keep working.
// It returns when the sender is closed.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when media can flow.
func (t *Transport) Ready() <-chan struct{} {
	return t.readySignal
}

// Done returns a channel that is closed when the connection has failed or
// been closed.
func (t *Transport) Done() <-chan struct{} {
	return t.doneSignal
}

// Close shuts down the PeerConnection.
func (t *Transport) Close() error {
	err := t.pc.Close()
	t.doneOnce.Do(func() {
		t.mu.Lock()
		if t.pcState != webrtc.PeerConnectionStateFailed {
			t.pcState = webrtc.PeerConnectionStateClosed
		}
		t.mu.Unlock()
		close(t.doneSignal)
	})
	return err
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// OnTrack registers a callback invoked for every remote track.
func (t *Transport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}
