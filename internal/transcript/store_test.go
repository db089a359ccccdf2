package transcript

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/consultrelay/internal/config"
)

// backends returns a fresh instance of every store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlStore, err := OpenSQLStore(filepath.Join(dir, "transcript.db"))
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"file":   NewFileStore(filepath.Join(dir, "db.json")),
		"sqlite": sqlStore,
	}
}

func TestNewChatMessage(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 123456789, time.FixedZone("UTC+8", 8*3600))
	msg := NewChatMessage(config.RoleDoctor, "hello", now)

	if msg.ID == "" {
		t.Error("ID is empty")
	}
	if msg.Sender != config.RoleDoctor || msg.Text != "hello" {
		t.Errorf("unexpected message %+v", msg)
	}
	if want := "2024-03-09T06:05:07.123Z"; msg.Timestamp != want {
		t.Errorf("Timestamp = %q, want %q", msg.Timestamp, want)
	}

	other := NewChatMessage(config.RoleDoctor, "hello", now)
	if other.ID == msg.ID {
		t.Error("two messages share an id")
	}
}

func TestAppendAndRead(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Read(ctx, "apt123")
			if err != nil {
				t.Fatalf("Read empty: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Fatalf("Read of unknown room = %#v, want empty non-nil slice", got)
			}

			first := NewChatMessage(config.RolePatient, "hello", now)
			second := NewChatMessage(config.RoleDoctor, "hi there", now.Add(time.Second))
			other := NewChatMessage(config.RolePatient, "elsewhere", now)

			for _, step := range []struct {
				room string
				msg  ChatMessage
			}{{"apt123", first}, {"apt456", other}, {"apt123", second}} {
				if err := s.Append(ctx, step.room, step.msg); err != nil {
					t.Fatalf("Append(%s): %v", step.room, err)
				}
			}

			got, err = s.Read(ctx, "apt123")
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if len(got) != 2 || got[0] != first || got[1] != second {
				t.Fatalf("Read = %+v, want [%+v %+v]", got, first, second)
			}

			got, err = s.Read(ctx, "apt456")
			if err != nil {
				t.Fatalf("Read other: %v", err)
			}
			if len(got) != 1 || got[0] != other {
				t.Fatalf("Read other = %+v", got)
			}
		})
	}
}

func TestEmptyRoomRejected(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			msg := NewChatMessage(config.RolePatient, "x", time.Now())
			if err := s.Append(ctx, "", msg); !errors.Is(err, ErrEmptyRoom) {
				t.Errorf("Append err = %v, want ErrEmptyRoom", err)
			}
			if _, err := s.Read(ctx, ""); !errors.Is(err, ErrEmptyRoom) {
				t.Errorf("Read err = %v, want ErrEmptyRoom", err)
			}
		})
	}
}

func TestConcurrentAppendsKeepEveryMessage(t *testing.T) {
	ctx := context.Background()
	const writers, perWriter = 4, 10

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for w := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					room := fmt.Sprintf("room-%d", w%2)
					for i := range perWriter {
						msg := NewChatMessage(config.RolePatient, fmt.Sprintf("w%d-%d", w, i), time.Now())
						if err := s.Append(ctx, room, msg); err != nil {
							t.Errorf("Append: %v", err)
							return
						}
					}
				}()
			}
			wg.Wait()

			total := 0
			for _, room := range []string{"room-0", "room-1"} {
				got, err := s.Read(ctx, room)
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
				total += len(got)
			}
			if total != writers*perWriter {
				t.Errorf("stored %d messages, want %d", total, writers*perWriter)
			}
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(config.StoreConfig{Backend: config.StoreFile, Path: filepath.Join(dir, "db.json")})
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("Open file returned %T", s)
	}

	s, err = Open(config.StoreConfig{Backend: config.StoreSQLite, Path: filepath.Join(dir, "t.db")})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	if _, ok := s.(*SQLStore); !ok {
		t.Errorf("Open sqlite returned %T", s)
	}
	s.Close()

	if _, err := Open(config.StoreConfig{Backend: "mongo", Path: "x"}); err == nil {
		t.Error("Open with unknown backend succeeded")
	}
}
