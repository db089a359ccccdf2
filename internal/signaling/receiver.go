package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/consultrelay/internal/util"
)

// Receive blocks until the next well-formed envelope arrives. Frames that do
// not decode are skipped. The returned error is the connection's read error.
func (c *Conn) Receive() (Message, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return Message{}, fmt.Errorf("failed to read from relay: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogDebug("undecodable relay frame skipped", "error", err)
			continue
		}
		return msg, nil
	}
}

// IsClosed reports whether err marks a normal end of the relay connection.
func IsClosed(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}
