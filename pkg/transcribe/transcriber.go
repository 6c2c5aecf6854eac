// Package transcribe turns a remote participant's RTP Opus track into a
// rotating sequence of streaming STT sessions, so a single speaking turn
// can run past any one provider's maximum stream duration.
package transcribe

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/server-sdk-go/v2/pkg/samplebuilder"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"

	"github.com/livekit-examples/kitt/pkg/ai/stt"
	"github.com/livekit-examples/kitt/pkg/meeting"
)

// MaxSessionDuration bounds each streaming recognition session so it
// rotates before the provider's own ~5-minute cap
// (cloud.google.com/go/speech/apiv1's streaming limit).
const MaxSessionDuration = 4 * time.Minute

// Transcriber depacketizes one remote participant's Opus track into OGG
// pages and feeds them to a rotating sequence of STT sessions, forwarding
// every interim and final result onto Results.
type Transcriber struct {
	track   *webrtc.TrackRemote
	backend stt.STT
	cfg     stt.StreamConfig

	results chan meeting.RecognizeResult

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// New builds a Transcriber over track, recognizing speech with backend
// using cfg; each session fills in cfg's SampleRate and NumChannels from
// the track's Opus codec.
func New(track *webrtc.TrackRemote, backend stt.STT, cfg stt.StreamConfig) (*Transcriber, error) {
	rtpCodec := track.Codec()
	if !strings.EqualFold(rtpCodec.MimeType, webrtc.MimeTypeOpus) {
		return nil, errors.New("transcribe: only opus tracks are supported")
	}

	return &Transcriber{
		track:   track,
		backend: backend,
		cfg:     cfg,
		results: make(chan meeting.RecognizeResult, 16),
	}, nil
}

// Results streams every interim and final recognition result until the
// Transcriber is closed or the track ends.
func (t *Transcriber) Results() <-chan meeting.RecognizeResult { return t.results }

// Start runs the rotating recognition loop until Close is called, ctx is
// cancelled, or a session ends with an error (including the track read
// failing or the track ending). It must be run in its own goroutine.
func (t *Transcriber) Start(ctx context.Context) {
	defer close(t.results)

	rtpCodec := t.track.Codec()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sessionCtx, cancel := context.WithTimeout(ctx, MaxSessionDuration)
		t.mu.Lock()
		t.cancel = cancel
		closed := t.closed
		t.mu.Unlock()
		if closed {
			cancel()
			return
		}

		if err := t.runSession(sessionCtx, rtpCodec); err != nil {
			cancel()
			logger.Errorw("transcription session ended", err)
			return
		}
		cancel()

		if ctx.Err() != nil {
			return
		}
	}
}

// Close stops the current session and the rotation loop.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// runSession builds one OGG-encoded recognition session: RTP packets are
// reassembled into Opus samples, written into an OGG container over a
// pipe, and streamed to the STT backend until sessionCtx expires or the
// track read fails.
func (t *Transcriber) runSession(sessionCtx context.Context, rtpCodec webrtc.RTPCodecParameters) error {
	sampleBuilder := samplebuilder.New(200, &codecs.OpusPacket{}, rtpCodec.ClockRate)

	pr, pw := io.Pipe()
	writer, err := oggwriter.NewWith(bufio.NewWriter(pw), rtpCodec.ClockRate, rtpCodec.Channels)
	if err != nil {
		return err
	}

	cfg := t.cfg
	cfg.SampleRate = int(rtpCodec.ClockRate)
	cfg.NumChannels = int(rtpCodec.Channels)

	stream, err := t.backend.NewStream(sessionCtx, cfg)
	if err != nil {
		pr.Close()
		pw.Close()
		return err
	}

	var mu sync.Mutex
	var sessionErr error
	setErr := func(err error) {
		mu.Lock()
		if sessionErr == nil {
			sessionErr = err
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		defer pw.Close()

		for {
			pkt, _, err := t.track.ReadRTP()
			if err != nil {
				// io.EOF included: the track has ended, so Start must
				// stop rather than open another session.
				setErr(err)
				return
			}

			sampleBuilder.Push(pkt)
			for _, p := range sampleBuilder.PopPackets() {
				writer.WriteRTP(p)
			}

			select {
			case <-sessionCtx.Done():
				return
			default:
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer stream.Close()

		buf := make([]byte, 1024)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				if err := stream.Write(buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()

		for result := range stream.Results() {
			if result.Error != nil {
				setErr(result.Error)
			}
			select {
			case t.results <- result:
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return sessionErr
}
