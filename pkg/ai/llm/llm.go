// Package llm defines the streaming chat-completion contract
// ChatCompleter is built on, plus the sentence-boundary chunker shared
// by every provider.
package llm

import (
	"context"
	"io"
	"strings"

	"github.com/livekit-examples/kitt/pkg/meeting"
)

// MessageRole mirrors the roles a chat-completion provider accepts.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one line of the prompt ChatCompleter builds.
type Message struct {
	Role    MessageRole
	Content string
}

// LLM opens a streaming chat-completion session.
type LLM interface {
	ChatStream(ctx context.Context, messages []Message) (DeltaStream, error)
	Name() string
}

// DeltaStream yields raw token deltas from the provider as they arrive.
// SentenceStream wraps one of these to release sentence-sized chunks.
type DeltaStream interface {
	Recv() (delta string, err error)
	Close() error
}

// SentenceStream accumulates raw deltas from a DeltaStream and releases
// a chunk whenever the buffer's trimmed tail ends in a sentence
// terminator, per §4.5. The final partial chunk, if non-empty, is
// returned once on end-of-stream.
type SentenceStream struct {
	inner DeltaStream
	buf   strings.Builder
	done  bool
}

// NewSentenceStream wraps a provider's raw delta stream.
func NewSentenceStream(inner DeltaStream) *SentenceStream {
	return &SentenceStream{inner: inner}
}

// Recv returns the next sentence-terminated chunk, or io.EOF once the
// underlying stream and any buffered remainder are exhausted.
func (s *SentenceStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		delta, err := s.inner.Recv()
		if err != nil {
			s.done = true
			remainder := s.buf.String()
			s.buf.Reset()
			if err == io.EOF && strings.TrimSpace(remainder) != "" {
				return remainder, nil
			}
			return "", err
		}

		s.buf.WriteString(delta)
		if isSentenceTerminated(delta) {
			chunk := s.buf.String()
			s.buf.Reset()
			return chunk, nil
		}
	}
}

// Close releases the underlying provider stream.
func (s *SentenceStream) Close() error {
	return s.inner.Close()
}

func isSentenceTerminated(delta string) bool {
	trimmed := strings.TrimSpace(delta)
	return strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "!")
}

// ParseLanguagePrefix strips an optional leading "<lang-code>" or bare
// "lang-code" prefix from a sentence chunk and reports the language it
// names, or fallback if none matched (§4.5).
func ParseLanguagePrefix(chunk string, fallback *meeting.Language) (trimmed string, language *meeting.Language) {
	trimmed = strings.TrimSpace(chunk)
	lower := strings.ToLower(trimmed)

	for code, lang := range meeting.Languages {
		bracketed := strings.ToLower("<" + code + ">")
		bare := strings.ToLower(code)

		switch {
		case strings.HasPrefix(lower, bracketed):
			return strings.TrimSpace(trimmed[len(bracketed):]), lang
		case strings.HasPrefix(lower, bare):
			return strings.TrimSpace(trimmed[len(bare):]), lang
		}
	}

	return trimmed, fallback
}
