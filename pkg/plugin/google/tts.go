package google

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"github.com/livekit-examples/kitt/pkg/meeting"
	"github.com/livekit-examples/kitt/pkg/plugin"
)

// SpeechTTS implements tts.TTS using Google Cloud Text-to-Speech, asking
// for OGG-Opus output so the result can feed straight into an
// OutboundTrack without re-encoding.
type SpeechTTS struct {
	client *texttospeech.Client
}

// NewSpeechTTS dials a Google Cloud Text-to-Speech client.
func NewSpeechTTS(ctx context.Context, opts ...option.ClientOption) (*SpeechTTS, error) {
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: texttospeech client: %w", err)
	}
	return &SpeechTTS{client: client}, nil
}

// Name identifies this provider in logs and registry listings.
func (s *SpeechTTS) Name() string { return "google" }

// Close releases the underlying gRPC client.
func (s *SpeechTTS) Close() error { return s.client.Close() }

// Synthesize renders plain text to OGG-Opus audio in language's
// configured voice.
func (s *SpeechTTS) Synthesize(ctx context.Context, text string, language *meeting.Language) ([]byte, error) {
	if language == nil {
		language = meeting.DefaultLanguage
	}

	resp, err := s.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language.Code,
			Name:         language.SynthesizerVoice,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_MALE,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_OGG_OPUS,
			SampleRateHertz: 48000,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google: synthesize speech: %w", err)
	}

	return resp.AudioContent, nil
}

func newSpeechTTS(cfg map[string]any) (any, error) {
	opts, ok := cfg["client_options"].([]option.ClientOption)
	if !ok {
		return nil, fmt.Errorf("google: tts plugin requires client_options in config")
	}
	return NewSpeechTTS(context.Background(), opts...)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "tts",
		Name:        "google",
		Factory:     newSpeechTTS,
		Description: "Google Cloud Text-to-Speech synthesis",
		Version:     "1.0.0",
	})
}
