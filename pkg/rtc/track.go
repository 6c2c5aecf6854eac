// Package rtc publishes the bot's synthesized speech onto the room as a
// single long-lived local track, queueing OGG-Opus sources in order.
package rtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/livekit-examples/kitt/pkg/audio/ogg"
)

// ErrInvalidFormat is returned when a queued source isn't mono Opus.
var ErrInvalidFormat = errors.New("rtc: invalid audio format, expected mono opus")

// opusSilenceFrame is a canonical 20ms SILK silence payload, sent whenever
// no queued source is left so the track never stalls the RTP sender.
var opusSilenceFrame = []byte{
	0xf8, 0xff, 0xfe, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

const opusSilenceFrameDuration = 20 * time.Millisecond

// OutboundTrack is the bot's single published audio track. TTS output is
// queued onto it as OGG-Opus readers, played back to back; when the queue
// runs dry it emits silence so the RTP stream never stalls.
type OutboundTrack struct {
	sampleTrack *lksdk.LocalSampleTrack
	provider    *sampleProvider
}

// NewOutboundTrack creates the track and starts its sample provider; call
// Publish to attach it to a room's local participant.
func NewOutboundTrack() (*OutboundTrack, error) {
	capability := webrtc.RTPCodecCapability{
		Channels:  1,
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
	}

	track, err := lksdk.NewLocalSampleTrack(capability)
	if err != nil {
		return nil, err
	}

	provider := &sampleProvider{}
	if err := track.StartWrite(provider, func() {}); err != nil {
		return nil, err
	}

	return &OutboundTrack{sampleTrack: track, provider: provider}, nil
}

// Publish attaches the track to lp so its samples reach the room.
func (t *OutboundTrack) Publish(lp *lksdk.LocalParticipant) (*lksdk.LocalTrackPublication, error) {
	return lp.PublishTrack(t.sampleTrack, &lksdk.TrackPublicationOptions{})
}

// OnComplete registers a callback, replacing any earlier one, that fires
// every time a queued reader finishes (cleanly or with a read error);
// Agent uses it to count down an answer turn's playback barrier.
func (t *OutboundTrack) OnComplete(f func(err error)) {
	t.provider.setOnComplete(f)
}

// QueueReader validates r as a mono OGG-Opus stream and appends it to the
// playback queue.
func (t *OutboundTrack) QueueReader(r io.Reader) error {
	packetizer, header, err := ogg.NewPacketizer(r)
	if err != nil {
		return err
	}

	// header.SampleRate is not the playback rate; see RFC 7845 §3.
	if header.Channels != 1 {
		return ErrInvalidFormat
	}

	t.provider.queueReader(packetizer)
	return nil
}

// sampleProvider implements lksdk.SampleProvider, pulling from a FIFO
// queue of OGG packetizers and falling back to silence when it's empty.
type sampleProvider struct {
	mu         sync.Mutex
	current    *ogg.Packetizer
	queue      []*ogg.Packetizer
	onComplete func(err error)
}

func (p *sampleProvider) NextSample(ctx context.Context) (media.Sample, error) {
	p.mu.Lock()
	onComplete := p.onComplete
	if p.current == nil && len(p.queue) > 0 {
		p.current = p.queue[0]
		p.queue = p.queue[1:]
	}
	current := p.current
	p.mu.Unlock()

	if current != nil {
		data, err := current.ReadPacket()
		if err != nil {
			if onComplete != nil {
				onComplete(err)
			}

			if err == io.EOF {
				p.mu.Lock()
				if p.current == current {
					p.current = nil
				}
				p.mu.Unlock()
				return p.NextSample(ctx)
			}
			return media.Sample{}, err
		}

		samples, err := ogg.PacketDuration(data)
		if err != nil {
			return media.Sample{}, err
		}

		return media.Sample{
			Data:     data,
			Duration: time.Duration(samples) * time.Second / 48000,
		}, nil
	}

	return media.Sample{
		Data:     opusSilenceFrame,
		Duration: opusSilenceFrameDuration,
	}, nil
}

func (p *sampleProvider) OnBind() error   { return nil }
func (p *sampleProvider) OnUnbind() error { return nil }
func (p *sampleProvider) Close() error    { return nil }

func (p *sampleProvider) setOnComplete(f func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onComplete = f
}

func (p *sampleProvider) queueReader(packetizer *ogg.Packetizer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, packetizer)
}
