package transport

import (
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func audioTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "test")
	if err != nil {
		t.Fatal(err)
	}
	return track
}

func TestOfferAnswerBetweenTransports(t *testing.T) {
	offerer, err := NewTransport(nil, []webrtc.TrackLocal{audioTrack(t)})
	if err != nil {
		t.Fatal(err)
	}
	defer offerer.Close()

	answerer, err := NewTransport(nil, []webrtc.TrackLocal{audioTrack(t)})
	if err != nil {
		t.Fatal(err)
	}
	defer answerer.Close()

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("offer has no audio section:\n%s", offer.SDP)
	}
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatal(err)
	}

	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatal(err)
	}
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("answer rejected: %v", err)
	}
}

func TestCloseSignalsDone(t *testing.T) {
	tr, err := NewTransport(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.ConnectionState() != webrtc.PeerConnectionStateNew {
		t.Errorf("initial state = %s", tr.ConnectionState())
	}

	tr.Close()
	tr.Close()

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	if got := tr.ConnectionState(); got != webrtc.PeerConnectionStateClosed {
		t.Errorf("state after Close = %s, want closed", got)
	}
	select {
	case <-tr.Ready():
		t.Fatal("Ready closed for a connection that never connected")
	default:
	}
}
