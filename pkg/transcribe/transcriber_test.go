package transcribe

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/livekit-examples/kitt/pkg/ai/stt"
	"github.com/livekit-examples/kitt/pkg/meeting"
)

type fakeSTT struct{}

func (fakeSTT) Name() string { return "fake" }
func (fakeSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	return &fakeStream{results: make(chan meeting.RecognizeResult, 1)}, nil
}

type fakeStream struct {
	results chan meeting.RecognizeResult
}

func (f *fakeStream) Write(oggBytes []byte) error                      { return nil }
func (f *fakeStream) Results() <-chan meeting.RecognizeResult          { return f.results }
func (f *fakeStream) Close() error                                     { close(f.results); return nil }

func TestFakeSTTSatisfiesInterface(t *testing.T) {
	is := is.New(t)

	var backend stt.STT = fakeSTT{}
	stream, err := backend.NewStream(context.Background(), stt.StreamConfig{})
	is.NoErr(err)
	is.NoErr(stream.Close())
}
