package rtc

import (
	"context"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestSampleProviderEmitsSilenceWhenQueueEmpty(t *testing.T) {
	is := is.New(t)

	p := &sampleProvider{}
	sample, err := p.NextSample(context.Background())
	is.NoErr(err)
	is.Equal(sample.Data, opusSilenceFrame)
	is.Equal(sample.Duration, opusSilenceFrameDuration)
}

func TestQueueReaderRejectsNonOggInput(t *testing.T) {
	is := is.New(t)

	track := &OutboundTrack{provider: &sampleProvider{}}
	err := track.QueueReader(strings.NewReader("definitely not an ogg stream"))
	is.True(err != nil)
}
