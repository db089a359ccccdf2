package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/1ureka/consultrelay/internal/util"
)

// historyKey is the top-level key of the shared document that holds chat.
const historyKey = "chatHistory"

// FileStore keeps every transcript in one JSON document shaped like
//
//	{"chatHistory": {"<room>": [ChatMessage, ...]}, ...other keys}
//
// The document is shared with the rest of the portal, so each operation
// re-reads it from disk, and Append writes the whole document back. Keys other
// than chatHistory are carried through untouched. A single mutex serializes
// the read-modify-write cycle for all rooms; the write itself goes through a
// temp file and rename so readers never see a torn document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the document at path. The file is
// not touched until the first operation.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// document is the decoded shared file.
type document struct {
	history map[string][]ChatMessage
	rest    map[string]json.RawMessage
}

// load reads the document. A missing or unparsable file yields an empty
// document; the caller keeps going rather than failing the chat.
func (s *FileStore) load() *document {
	doc := &document{
		history: make(map[string][]ChatMessage),
		rest:    make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			util.LogWarning("transcript document unreadable, starting empty", "path", s.path, "error", err)
		}
		return doc
	}

	if err := json.Unmarshal(data, &doc.rest); err != nil {
		util.LogWarning("transcript document corrupt, starting empty", "path", s.path, "error", err)
		doc.rest = make(map[string]json.RawMessage)
		return doc
	}

	if raw, ok := doc.rest[historyKey]; ok {
		if err := json.Unmarshal(raw, &doc.history); err != nil || doc.history == nil {
			util.LogWarning("chat history section corrupt, starting empty", "path", s.path, "error", err)
			doc.history = make(map[string][]ChatMessage)
		}
		delete(doc.rest, historyKey)
	}
	return doc
}

// save writes doc back atomically.
func (s *FileStore) save(doc *document) error {
	history, err := json.Marshal(doc.history)
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}

	out := make(map[string]json.RawMessage, len(doc.rest)+1)
	for k, v := range doc.rest {
		out[k] = v
	}
	out[historyKey] = history

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".transcript-*.json")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, room string, msg ChatMessage) error {
	if room == "" {
		return ErrEmptyRoom
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The wait for the lock may have outlived the caller's deadline.
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := s.load()
	doc.history[room] = append(doc.history[room], msg)
	return s.save(doc)
}

// Read implements Store.
func (s *FileStore) Read(ctx context.Context, room string) ([]ChatMessage, error) {
	if room == "" {
		return nil, ErrEmptyRoom
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs := s.load().history[room]
	if msgs == nil {
		return []ChatMessage{}, nil
	}
	return slices.Clone(msgs), nil
}

// Close implements Store. The file store holds no open handles.
func (s *FileStore) Close() error { return nil }
