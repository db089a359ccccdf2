package negotiator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/consultrelay/internal/config"
)

// streamingMedia sends audio and video samples so the remote side sees both
// tracks. The video payload is not a decodable picture; only RTP has to flow.
type streamingMedia struct {
	audio, video *webrtc.TrackLocalStaticSample
	stopOnce     sync.Once
	stop         chan struct{}
}

func newStreamingMedia(t *testing.T) *streamingMedia {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "call")
	if err != nil {
		t.Fatal(err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "call")
	if err != nil {
		t.Fatal(err)
	}

	m := &streamingMedia{audio: audio, video: video, stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(audioFrame)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.audio.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrame})
				m.video.WriteSample(media.Sample{Data: []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}, Duration: audioFrame})
			case <-m.stop:
				return
			}
		}
	}()
	t.Cleanup(m.Stop)
	return m
}

func (m *streamingMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

func (m *streamingMedia) Stop() { m.stopOnce.Do(func() { close(m.stop) }) }

func (m *streamingMedia) source() MediaSource {
	return MediaFunc(func(context.Context) (LocalMedia, error) { return m, nil })
}

// joinCall starts a doctor negotiator in room and returns it with its state
// stream and Run result.
func joinCall(t *testing.T, ctx context.Context, base, room string) (*Negotiator, chan State, <-chan error) {
	t.Helper()
	states := make(chan State, 32)
	n := New(Config{
		RelayURL: base, Room: room, Role: config.RoleDoctor,
		Media:    newStreamingMedia(t).source(),
		Handlers: Handlers{OnState: func(s State) { states <- s }},
	})
	return n, states, runAsync(n, ctx)
}

func TestCallSurvivesRemoteHangup(t *testing.T) {
	base, _ := startRelay(t)

	const timeout = 3 * time.Second
	states := make(chan State, 32)
	peers := make(chan PeerEvent, 8)
	kinds := make(chan webrtc.RTPCodecType, 8)
	patient := New(Config{
		RelayURL: base, Room: "apt500", Role: config.RolePatient,
		Media:   newStreamingMedia(t).source(),
		Timeout: timeout,
		Handlers: Handlers{
			OnState: func(s State) { states <- s },
			OnPeer:  func(ev PeerEvent) { peers <- ev },
			OnRemoteStream: func(track *webrtc.TrackRemote) {
				select {
				case kinds <- track.Kind():
				default:
				}
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	patientErr := runAsync(patient, ctx)
	waitState(t, states, Negotiating)

	doctor, doctorStates, doctorErr := joinCall(t, ctx, base, "apt500")
	waitState(t, doctorStates, Connected)
	waitState(t, states, Connected)

	got := map[webrtc.RTPCodecType]bool{}
	deadline := time.After(waitFor)
	for !got[webrtc.RTPCodecTypeAudio] || !got[webrtc.RTPCodecTypeVideo] {
		select {
		case k := <-kinds:
			got[k] = true
		case <-deadline:
			t.Fatalf("remote tracks = %v, want audio and video", got)
		}
	}

	// Staying connected past the handshake timeout must not fail the call.
	time.Sleep(timeout + 500*time.Millisecond)
	if s := patient.State(); s != Connected {
		t.Fatalf("patient state = %s after the timeout elapsed, want connected", s)
	}

	doctor.Close()
	if err := waitRun(t, doctorErr); err != nil {
		t.Fatalf("doctor Run = %v, want nil", err)
	}

	deadline = time.After(waitFor)
	for left := false; !left; {
		select {
		case ev := <-peers:
			left = !ev.Joined && ev.Role == config.RoleDoctor
		case <-deadline:
			t.Fatal("patient never saw the doctor leave")
		}
	}
	waitState(t, states, Negotiating)

	select {
	case err := <-patientErr:
		t.Fatalf("patient Run returned after doctor hung up: %v", err)
	case <-time.After(hangupGrace + 500*time.Millisecond):
	}

	_, rejoinedStates, rejoinedErr := joinCall(t, ctx, base, "apt500")
	waitState(t, rejoinedStates, Connected)
	waitState(t, states, Connected)

	cancel()
	if err := waitRun(t, patientErr); !errors.Is(err, context.Canceled) {
		t.Errorf("patient Run = %v, want context.Canceled", err)
	}
	waitRun(t, rejoinedErr)
}
