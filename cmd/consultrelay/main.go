// Consultrelay is the CLI entry point: it serves the relay or joins a room as a peer.
//
// `consultrelay serve` runs the signaling relay that pairs a patient and a
// doctor in a consultation room and keeps their chat transcript.
// `consultrelay join` is a headless participant that joins a room, runs the
// WebRTC handshake and lets the user chat from the terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/1ureka/consultrelay/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError(err.Error())
		stop()
		os.Exit(1)
	}
}
