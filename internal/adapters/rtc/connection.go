package rtc

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/dkeye/voicebot/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

const (
	sampleRate          = 8000
	packetDuration      = 20 * time.Millisecond
	samplesPerPacket    = sampleRate * int(packetDuration/time.Millisecond) / 1000
	DefaultFrameBacklog = 256
	inboundBuffer       = 64
)

var ErrClosed = errors.New("media connection closed")

// Connection is one call's PeerConnection. Caller audio is decoded into
// Frames; reply audio is re-chunked and paced out at 20 ms per packet.
type Connection struct {
	id    domain.CallID
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
	log   zerolog.Logger

	frames chan core.Frame
	out    chan core.Frame
	done   chan struct{}

	closeOnce sync.Once
	startOnce sync.Once
}

var _ core.MediaConnection = (*Connection)(nil)

func newConnection(pc *webrtc.PeerConnection, id domain.CallID, backlog int) (*Connection, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: sampleRate, Channels: 1},
		"audio", "voicebot-"+string(id),
	)
	if err != nil {
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		id:     id,
		pc:     pc,
		track:  track,
		log:    log.With().Str("module", "rtc").Str("call_id", string(id)).Logger(),
		frames: make(chan core.Frame, inboundBuffer),
		out:    make(chan core.Frame, backlog),
		done:   make(chan struct{}),
	}

	// RTCP for the sender has to be read for the interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", remote.Kind().String()).
			Str("codec", remote.Codec().MimeType).
			Msg("remote track")
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go c.readTrack(remote)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.Close()
		}
	})
	return c, nil
}

func (c *Connection) start() {
	c.startOnce.Do(func() { go c.writeLoop() })
}

func (c *Connection) Frames() <-chan core.Frame { return c.frames }

func (c *Connection) Done() <-chan struct{} { return c.done }

// WriteFrame queues reply audio. Frames beyond the backlog are dropped.
func (c *Connection) WriteFrame(f core.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- f.Resample(sampleRate):
	default:
		c.log.Debug().Dur("dropped", f.Duration()).Int("backlog", cap(c.out)).Msg("reply frame dropped, backlog full")
	}
	return nil
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.pc.Close(); err != nil {
			c.log.Error().Err(err).Msg("close error")
		} else {
			c.log.Info().Msg("closed")
		}
	})
}

func (c *Connection) readTrack(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debug().Err(err).Msg("read rtp")
			}
			return
		}
		f := decodePacket(pkt)
		if len(f.Samples) == 0 {
			continue
		}
		select {
		case c.frames <- f:
		case <-c.done:
			return
		default:
			c.log.Trace().Msg("caller frame dropped")
		}
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(packetDuration)
	defer ticker.Stop()

	var pending []int16
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

	fill:
		for len(pending) < samplesPerPacket {
			select {
			case f := <-c.out:
				pending = append(pending, f.Samples...)
			default:
				break fill
			}
		}
		if len(pending) == 0 {
			continue
		}

		n := min(len(pending), samplesPerPacket)
		payload := encodeChunk(pending[:n])
		pending = pending[n:]
		if err := c.track.WriteSample(media.Sample{Data: payload, Duration: packetDuration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			c.log.Debug().Err(err).Msg("write sample")
		}
	}
}

func decodePacket(pkt *rtp.Packet) core.Frame {
	samples := make([]int16, len(pkt.Payload))
	for i, b := range pkt.Payload {
		samples[i] = g711.DecodeUlawFrame(b)
	}
	return core.Frame{SampleRate: sampleRate, Samples: samples}
}

// encodeChunk returns one 20 ms PCMU payload; short chunks are padded
// with silence.
func encodeChunk(samples []int16) []byte {
	payload := make([]byte, samplesPerPacket)
	silence := g711.EncodeUlawFrame(0)
	for i := range payload {
		if i < len(samples) {
			payload[i] = g711.EncodeUlawFrame(samples[i])
		} else {
			payload[i] = silence
		}
	}
	return payload
}
