package llm

import (
	"io"
	"testing"

	"github.com/livekit-examples/kitt/pkg/meeting"
	"github.com/matryer/is"
)

type fakeDeltaStream struct {
	deltas []string
	i      int
}

func (f *fakeDeltaStream) Recv() (string, error) {
	if f.i >= len(f.deltas) {
		return "", io.EOF
	}
	d := f.deltas[f.i]
	f.i++
	return d, nil
}

func (f *fakeDeltaStream) Close() error { return nil }

func TestSentenceStreamSplitsOnTerminator(t *testing.T) {
	is := is.New(t)
	stream := NewSentenceStream(&fakeDeltaStream{deltas: []string{"Hello", " world.", " Second", " sentence."}})

	s1, err := stream.Recv()
	is.NoErr(err)
	is.Equal(s1, "Hello world.")

	s2, err := stream.Recv()
	is.NoErr(err)
	is.Equal(s2, " Second sentence.")

	_, err = stream.Recv()
	is.Equal(err, io.EOF)
}

func TestSentenceStreamFlushesPartialOnEOF(t *testing.T) {
	is := is.New(t)
	stream := NewSentenceStream(&fakeDeltaStream{deltas: []string{"no terminator here"}})

	s1, err := stream.Recv()
	is.NoErr(err)
	is.Equal(s1, "no terminator here")

	_, err = stream.Recv()
	is.Equal(err, io.EOF)
}

func TestParseLanguagePrefix(t *testing.T) {
	is := is.New(t)

	text, lang := ParseLanguagePrefix("<fr-FR>Bonjour.", meeting.DefaultLanguage)
	is.Equal(text, "Bonjour.")
	is.Equal(lang.Code, "fr-FR")

	text, lang = ParseLanguagePrefix("Ça va?", meeting.DefaultLanguage)
	is.Equal(text, "Ça va?")
	is.Equal(lang.Code, meeting.DefaultLanguage.Code)
}
