// Package tts defines the Synthesizer contract: a stateless
// text-plus-language request that returns OGG-Opus bytes (§4.4).
package tts

import (
	"context"

	"github.com/livekit-examples/kitt/pkg/ai"
	"github.com/livekit-examples/kitt/pkg/meeting"
)

var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// TTS synthesizes OGG-Opus audio for a text fragment. Implementations
// must be safe for concurrent use; Synthesizer itself keeps no state.
type TTS interface {
	// Synthesize returns the OGG-Opus byte blob for text spoken in
	// language's configured voice.
	Synthesize(ctx context.Context, text string, language *meeting.Language) ([]byte, error)
	Name() string
}
