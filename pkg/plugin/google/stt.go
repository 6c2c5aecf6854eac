// Package google provides Google Cloud Speech-to-Text and Text-to-Speech
// providers for the ai/stt, ai/tts and plugin registries.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/livekit-examples/kitt/pkg/ai/stt"
	"github.com/livekit-examples/kitt/pkg/meeting"
	"github.com/livekit-examples/kitt/pkg/plugin"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SpeechSTT implements stt.STT using Google Cloud Speech's streaming
// recognition API, fed OGG-Opus bytes produced from a room track.
type SpeechSTT struct {
	client *speech.Client
}

// NewSpeechSTT dials a Google Cloud Speech client from the given
// credentials options (a credentials file path or inline JSON body).
func NewSpeechSTT(ctx context.Context, opts ...option.ClientOption) (*SpeechSTT, error) {
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: speech client: %w", err)
	}
	return &SpeechSTT{client: client}, nil
}

// Name identifies this provider in logs and registry listings.
func (s *SpeechSTT) Name() string { return "google" }

// Close releases the underlying gRPC client.
func (s *SpeechSTT) Close() error { return s.client.Close() }

// NewStream opens a streaming recognition session scoped to ctx's
// deadline (the caller, Transcriber, bounds ctx to the session's
// rotation window so the ~5-minute provider cap is never hit).
func (s *SpeechSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	rpc, err := s.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: streaming recognize: %w", err)
	}

	language := meeting.DefaultLanguage
	if cfg.Language != nil {
		language = cfg.Language
	}

	if err := rpc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				SingleUtterance: true,
				InterimResults:  true,
				Config: &speechpb.RecognitionConfig{
					Model:                      "command_and_search",
					UseEnhanced:                true,
					Encoding:                   speechpb.RecognitionConfig_OGG_OPUS,
					SampleRateHertz:            int32(cfg.SampleRate),
					AudioChannelCount:          int32(cfg.NumChannels),
					LanguageCode:               language.STTCode,
					SpeechContexts:             adaptationContexts(cfg.AdaptationPhrases),
				},
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("google: send streaming config: %w", err)
	}

	st := &speechStream{rpc: rpc, results: make(chan meeting.RecognizeResult, 8)}
	go st.recvLoop()
	return st, nil
}

func adaptationContexts(phrases []string) []*speechpb.SpeechContext {
	if len(phrases) == 0 {
		return nil
	}
	return []*speechpb.SpeechContext{{Phrases: phrases, Boost: 15}}
}

// speechStream adapts Google's bidi streaming RPC to stt.Stream.
type speechStream struct {
	rpc     speechpb.Speech_StreamingRecognizeClient
	results chan meeting.RecognizeResult

	mu     sync.Mutex
	closed bool
}

func (s *speechStream) Write(oggBytes []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("google: stream closed")
	}

	return s.rpc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: oggBytes,
		},
	})
}

func (s *speechStream) Results() <-chan meeting.RecognizeResult { return s.results }

func (s *speechStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.rpc.CloseSend()
}

func (s *speechStream) recvLoop() {
	defer close(s.results)

	for {
		resp, err := s.rpc.Recv()
		if err != nil {
			if err != io.EOF && !isExpectedStreamEnd(err) {
				s.results <- meeting.RecognizeResult{Error: err}
			}
			return
		}

		// One result per response: the first final transcript if any,
		// otherwise the interim transcripts concatenated.
		text, isFinal := "", false
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			if result.IsFinal {
				text, isFinal = result.Alternatives[0].Transcript, true
				break
			}
			text += result.Alternatives[0].Transcript
		}
		if text != "" || isFinal {
			s.results <- meeting.RecognizeResult{Text: text, IsFinal: isFinal}
		}
	}
}

// isExpectedStreamEnd reports whether err is a normal internal end to the
// stream rather than a failure worth surfacing to the user: OutOfRange is
// Google's signal that the session hit its duration cap (Transcriber
// rotates to a fresh stream), and Canceled/DeadlineExceeded come from the
// session's own rotation timeout or a clean shutdown.
func isExpectedStreamEnd(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.OutOfRange, codes.Canceled, codes.DeadlineExceeded:
			return true
		}
	}
	return false
}

// newSpeechSTT is the registry factory for the "google" STT plugin.
// Credentials are resolved by the caller (cmd/kitt) and threaded
// through cfg as an option.ClientOption built from
// GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_APPLICATION_CREDENTIALS_BODY.
func newSpeechSTT(cfg map[string]any) (any, error) {
	opts, ok := cfg["client_options"].([]option.ClientOption)
	if !ok {
		return nil, fmt.Errorf("google: stt plugin requires client_options in config")
	}
	return NewSpeechSTT(context.Background(), opts...)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "stt",
		Name:        "google",
		Factory:     newSpeechSTT,
		Description: "Google Cloud Speech-to-Text streaming recognition",
		Version:     "1.0.0",
	})
}
