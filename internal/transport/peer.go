package transport

import (
	"github.com/pion/webrtc/v4"
)

// newPeerConnection creates a PeerConnection using the given STUN/TURN URLs.
// An empty list gathers host candidates only, which is enough on one machine.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: iceServers},
		}
	}
	return webrtc.NewPeerConnection(config)
}
