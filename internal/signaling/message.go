// Package signaling is the client side of the relay: it dials a room and
// exchanges handshake and chat envelopes over the websocket.
package signaling

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/transcript"
)

// MessageType identifies the kind of envelope.
type MessageType string

const (
	MsgTypeOffer      MessageType = "offer"
	MsgTypeAnswer     MessageType = "answer"
	MsgTypeCandidate  MessageType = "candidate"
	MsgTypeChat       MessageType = "chat"
	MsgTypeJoined     MessageType = "joined"
	MsgTypeHistory    MessageType = "history"
	MsgTypePeerJoined MessageType = "peer-joined"
	MsgTypePeerLeft   MessageType = "peer-left"
)

// Message is any envelope the relay carries. Only the fields matching Type
// are set. Offer, Answer and Candidate use the browser's JSON shapes, so the
// Go client interoperates with web peers.
type Message struct {
	Type MessageType `json:"type"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	// Text is the outbound chat body; Message the relayed chat line.
	Text     string                   `json:"text,omitempty"`
	Message  *transcript.ChatMessage  `json:"message,omitempty"`
	Messages []transcript.ChatMessage `json:"messages,omitempty"`

	Room      string      `json:"room,omitempty"`
	Role      config.Role `json:"role,omitempty"`
	Initiator bool        `json:"initiator,omitempty"`
	Peers     int         `json:"peers,omitempty"`
}
