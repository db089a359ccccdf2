package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/registry"
	"github.com/1ureka/consultrelay/internal/relay"
	"github.com/1ureka/consultrelay/internal/transcript"
)

func newTestServer(t *testing.T) (*Server, *relay.Relay, transcript.Store, *httptest.Server) {
	t.Helper()
	store := transcript.NewFileStore(filepath.Join(t.TempDir(), "db.json"))
	r := relay.New(config.RelayConfig{SendBuffer: 16, MaxMessageSize: 64 * 1024}, registry.New[*relay.Peer](), store)

	s, err := New(config.HTTPConfig{Addr: "127.0.0.1:0"}, r, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(r.Close)
	return s, r, store, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestBootstrapStartsRelayOnce(t *testing.T) {
	_, r, _, ts := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws?room=apt1&userType=patient"), nil)
	if err == nil {
		t.Fatal("websocket accepted before bootstrap")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("pre-bootstrap response = %v, want 503", resp)
	}

	var first, second bootstrapResponse
	if code := getJSON(t, ts.URL+"/api/socket", &first); code != http.StatusOK {
		t.Fatalf("bootstrap status = %d", code)
	}
	getJSON(t, ts.URL+"/api/socket", &second)
	if first.Status != "started" || second.Status != "running" {
		t.Errorf("bootstrap statuses = %q, %q; want started, running", first.Status, second.Status)
	}
	if !r.Running() {
		t.Fatal("relay not running after bootstrap")
	}

	for _, path := range []string{"/ws", "/"} {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, path+"?room=apt1&userType=patient"), nil)
		if err != nil {
			t.Fatalf("dial %s after bootstrap: %v", path, err)
		}
		conn.Close()
	}
}

func TestHealth(t *testing.T) {
	_, r, _, ts := newTestServer(t)
	r.Start()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws?room=apt1&userType=doctor"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// The joined notice proves admission has completed.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatal(err)
	}

	var h healthResponse
	if code := getJSON(t, ts.URL+"/api/health", &h); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if h.Status != "ok" || h.Relay != "running" || h.Rooms != 1 || h.Connections != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	_, _, store, ts := newTestServer(t)

	msg := transcript.NewChatMessage(config.RolePatient, "hello", time.Now())
	if err := store.Append(context.Background(), "apt123", msg); err != nil {
		t.Fatal(err)
	}

	var got transcriptResponse
	if code := getJSON(t, ts.URL+"/api/rooms/apt123/transcript", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.Room != "apt123" || len(got.Messages) != 1 || got.Messages[0] != msg {
		t.Errorf("transcript = %+v", got)
	}

	var empty transcriptResponse
	getJSON(t, ts.URL+"/api/rooms/unknown/transcript", &empty)
	if empty.Messages == nil || len(empty.Messages) != 0 {
		t.Errorf("unknown room messages = %#v, want []", empty.Messages)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"consultrelay_rooms_active",
		"consultrelay_connections_admitted_total",
		"consultrelay_transcript_failures_total",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s, r, _, _ := newTestServer(t)
	r.Start()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	var h healthResponse
	url := "http://" + ln.Addr().String() + "/api/health"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			json.NewDecoder(resp.Body).Decode(&h)
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if r.Running() {
		t.Error("relay still running after shutdown")
	}
}
