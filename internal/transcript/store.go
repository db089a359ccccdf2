// Package transcript persists the chat exchanged during a consultation,
// keyed by room id, in the order messages were accepted.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/consultrelay/internal/config"
)

// TimestampLayout matches JavaScript's Date.toISOString, which is what the
// browser side of the portal renders.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrEmptyRoom is returned when a store operation is given no room id.
var ErrEmptyRoom = errors.New("transcript: empty room id")

// ChatMessage is one line of a consultation chat. ID and Timestamp are
// assigned by the relay, never taken from the client.
type ChatMessage struct {
	ID        string      `json:"id"`
	Sender    config.Role `json:"sender"`
	Text      string      `json:"text"`
	Timestamp string      `json:"timestamp"`
}

// NewChatMessage stamps a fresh id and the given time onto a chat line.
func NewChatMessage(sender config.Role, text string, now time.Time) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: now.UTC().Format(TimestampLayout),
	}
}

// Store is an append-only, per-room chat history.
type Store interface {
	// Append adds msg to the end of room's transcript, creating it if needed.
	Append(ctx context.Context, room string, msg ChatMessage) error
	// Read returns room's transcript in append order. Unknown rooms yield an
	// empty slice.
	Read(ctx context.Context, room string) ([]ChatMessage, error)
	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreFile:
		return NewFileStore(cfg.Path), nil
	case config.StoreSQLite:
		return OpenSQLStore(cfg.Path)
	default:
		return nil, fmt.Errorf("transcript: unknown backend %q", cfg.Backend)
	}
}
