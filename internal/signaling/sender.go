package signaling

import (
	"github.com/pion/webrtc/v4"
)

// send writes an envelope to the relay, guarded by a mutex.
func (c *Conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// SendOffer relays a local offer to the other member of the room.
func (c *Conn) SendOffer(sd webrtc.SessionDescription) error {
	return c.send(Message{Type: MsgTypeOffer, Offer: &sd})
}

// SendAnswer relays a local answer.
func (c *Conn) SendAnswer(sd webrtc.SessionDescription) error {
	return c.send(Message{Type: MsgTypeAnswer, Answer: &sd})
}

// SendCandidate relays a gathered ICE candidate.
func (c *Conn) SendCandidate(candidate webrtc.ICECandidateInit) error {
	return c.send(Message{Type: MsgTypeCandidate, Candidate: &candidate})
}

// SendChat asks the relay to persist and broadcast a chat line.
func (c *Conn) SendChat(text string) error {
	return c.send(Message{Type: MsgTypeChat, Text: text})
}
