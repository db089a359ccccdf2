package negotiator

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// LocalMedia is an acquired set of outgoing tracks.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// Stop releases the capture. It must be safe to call more than once.
	Stop()
}

// MediaSource acquires local audio and video.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// MediaFunc adapts a function to MediaSource.
type MediaFunc func(ctx context.Context) (LocalMedia, error)

func (f MediaFunc) Acquire(ctx context.Context) (LocalMedia, error) { return f(ctx) }

const audioFrame = 20 * time.Millisecond

// opusSilence is a single Opus frame that decodes to 20 ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource produces an Opus audio track carrying silence and an
// empty VP8 video track. It stands in for a camera and microphone on
// machines that have neither, such as servers and CI.
type SyntheticSource struct {
	StreamID string
}

func (s SyntheticSource) Acquire(ctx context.Context) (LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := s.StreamID
	if stream == "" {
		stream = "consultrelay"
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", stream)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", stream)
	if err != nil {
		return nil, err
	}

	m := &syntheticMedia{audio: audio, video: video, stop: make(chan struct{})}
	go m.pumpAudio()
	return m, nil
}

type syntheticMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	stopOnce sync.Once
	stop     chan struct{}
}

func (m *syntheticMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

func (m *syntheticMedia) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// pumpAudio writes one silent frame per audio frame interval until Stop.
// Writes before the track is bound to a connection are discarded by pion.
func (m *syntheticMedia) pumpAudio() {
	ticker := time.NewTicker(audioFrame)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.audio.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrame}); err != nil {
				return
			}
		case <-m.stop:
			return
		}
	}
}
