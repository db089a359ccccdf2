package negotiator

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestSyntheticSourceTracks(t *testing.T) {
	m, err := SyntheticSource{StreamID: "apt1"}.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Stop()

	tracks := m.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want audio and video", len(tracks))
	}
	kinds := map[webrtc.RTPCodecType]bool{}
	for _, tr := range tracks {
		kinds[tr.Kind()] = true
		if tr.StreamID() != "apt1" {
			t.Errorf("track %s stream = %q, want apt1", tr.ID(), tr.StreamID())
		}
	}
	if !kinds[webrtc.RTPCodecTypeAudio] || !kinds[webrtc.RTPCodecTypeVideo] {
		t.Errorf("kinds = %v, want audio and video", kinds)
	}

	// Stopping twice is allowed.
	m.Stop()
	m.Stop()
}

func TestSyntheticSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (SyntheticSource{}).Acquire(ctx); err == nil {
		t.Fatal("Acquire succeeded with a cancelled context")
	}
}
