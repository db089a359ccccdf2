package relay

import (
	"encoding/json"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/transcript"
)

// Frame types understood or produced by the relay.
const (
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeCandidate  = "candidate"
	TypeChat       = "chat"
	TypeJoined     = "joined"
	TypeHistory    = "history"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
)

// inbound is the only part of a client frame the relay reads before routing.
// Handshake frames are forwarded as received, whatever else they hold.
type inbound struct {
	Type string `json:"type"`
}

// chatFrame is a client chat line. It is decoded only for chat frames.
type chatFrame struct {
	Text *string `json:"text"`
}

// ChatEnvelope carries a persisted chat line to every room member.
type ChatEnvelope struct {
	Type    string                 `json:"type"`
	Message transcript.ChatMessage `json:"message"`
}

// JoinedEnvelope tells a newly admitted peer its role and whether it should
// start the handshake.
type JoinedEnvelope struct {
	Type      string      `json:"type"`
	Room      string      `json:"room"`
	Role      config.Role `json:"role"`
	Initiator bool        `json:"initiator"`
	Peers     int         `json:"peers"`
}

// HistoryEnvelope replays the stored transcript to a newly admitted peer.
type HistoryEnvelope struct {
	Type     string                   `json:"type"`
	Messages []transcript.ChatMessage `json:"messages"`
}

// PresenceEnvelope announces another member arriving or leaving.
type PresenceEnvelope struct {
	Type string      `json:"type"`
	Role config.Role `json:"role"`
}

func isHandshake(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

// mustEncode marshals relay-built envelopes, which only hold strings,
// booleans and integers and cannot fail to encode.
func mustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
