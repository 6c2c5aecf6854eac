// Package stt defines the streaming speech-to-text contract Transcriber
// sessions are built on.
package stt

import (
	"context"

	"github.com/livekit-examples/kitt/pkg/ai"
	"github.com/livekit-examples/kitt/pkg/meeting"
)

// Re-exported for callers that only need to classify an STT failure.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// StreamConfig configures one streaming recognition session.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Language    *meeting.Language
	// AdaptationPhrases boosts recognition of these phrases — the wake
	// words the ActivationController matches against (§4.3).
	AdaptationPhrases []string
}

// STT creates streaming recognition sessions against one provider.
type STT interface {
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)
	Name() string
}

// Stream is one open streaming recognition session. The provider is
// expected to accept OGG-Opus bytes and emit results until the session's
// deadline or the context is cancelled.
type Stream interface {
	// Write forwards a chunk of OGG-Opus bytes produced since the last call.
	Write(oggBytes []byte) error
	// Results receives one RecognizeResult per provider response; the
	// channel is closed when the stream ends (cleanly or with error).
	Results() <-chan meeting.RecognizeResult
	// Close ends the session, cancelling any in-flight request.
	Close() error
}
