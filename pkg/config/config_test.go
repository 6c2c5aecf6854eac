package config

import (
	"testing"

	"github.com/matryer/is"
)

func TestNewAppliesProviderDefaults(t *testing.T) {
	is := is.New(t)

	conf, err := New(`
livekit:
  url: wss://example.livekit.cloud
  api_key: key
  secret_key: secret
port: 8080
`)
	is.NoErr(err)
	is.Equal(conf.LiveKit.URL, "wss://example.livekit.cloud")
	is.Equal(conf.Port, 8080)
	is.Equal(conf.DefaultSTTProvider, "google")
	is.Equal(conf.DefaultTTSProvider, "google")
	is.Equal(conf.DefaultLLMProvider, "openai")
}

func TestNewEmptyContent(t *testing.T) {
	is := is.New(t)

	conf, err := New("")
	is.NoErr(err)
	is.Equal(conf.Port, 0)
	is.Equal(conf.DefaultSTTProvider, "google")
}

func TestNewRejectsInvalidYAML(t *testing.T) {
	is := is.New(t)

	_, err := New("not: valid: yaml: [")
	is.True(err != nil)
}
