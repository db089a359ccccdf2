package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/1ureka/consultrelay/internal/transcript"
	"github.com/1ureka/consultrelay/internal/util"
)

type bootstrapResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Relay       string `json:"relay"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
	Timestamp   string `json:"timestamp"`
	Uptime      string `json:"uptime"`
}

type transcriptResponse struct {
	Room     string                   `json:"room"`
	Messages []transcript.ChatMessage `json:"messages"`
}

// handleBootstrap starts the relay on first use. Later calls only report
// that it is running.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	status := "running"
	if s.relay.Start() {
		status = "started"
	}
	writeJSON(w, http.StatusOK, bootstrapResponse{Status: status})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	relayState := "stopped"
	if s.relay.Running() {
		relayState = "running"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Relay:       relayState,
		Rooms:       s.relay.Rooms(),
		Connections: s.relay.Connections(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")

	msgs, err := s.store.Read(r.Context(), room)
	if err != nil {
		util.LogError("failed to read transcript", "room", util.RoomTag(room), "error", err)
		writeError(w, http.StatusInternalServerError, "transcript unavailable")
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Room: room, Messages: msgs})
}
