package main

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/registry"
	"github.com/1ureka/consultrelay/internal/relay"
	"github.com/1ureka/consultrelay/internal/transcript"
)

func TestRunJoinForwardsStdinAsChat(t *testing.T) {
	store := transcript.NewFileStore(filepath.Join(t.TempDir(), "db.json"))
	r := relay.New(config.RelayConfig{SendBuffer: 16, MaxMessageSize: 64 * 1024}, registry.New[*relay.Peer](), store)
	r.Start()
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer r.Close()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ICE.Servers = nil

	in, stdin := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runJoin(ctx, cfg, srv.URL, "apt77", config.RolePatient, in) }()

	deadline := time.Now().Add(5 * time.Second)
	var msgs []transcript.ChatMessage
	for len(msgs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("chat line never reached the transcript")
		}
		// Lines sent before the relay connection is up are dropped, so keep
		// offering one until it lands.
		if r.Connections() == 1 {
			io.WriteString(stdin, "hello from stdin\n")
		}
		time.Sleep(50 * time.Millisecond)
		msgs, _ = store.Read(context.Background(), "apt77")
	}
	if msgs[0].Text != "hello from stdin" || msgs[0].Sender != config.RolePatient {
		t.Errorf("transcript[0] = %+v", msgs[0])
	}

	cancel()
	stdin.Close()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("runJoin = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runJoin did not return")
	}
}
