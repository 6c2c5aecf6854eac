// Package config loads KITT's YAML configuration, following the same
// shape and loading convention as the original livegpt service.
package config

import (
	"fmt"

	"github.com/livekit/protocol/logger"
	"gopkg.in/yaml.v3"
)

// LiveKitConfig holds the credentials used both to mint bot join tokens
// and to verify inbound room webhooks.
type LiveKitConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
}

// Config is KITT's top-level configuration, loaded from a single YAML
// document named by LIVEGPT_CONFIG_FILE or passed inline via
// LIVEGPT_CONFIG_BODY.
type Config struct {
	Logger  logger.Config `yaml:"logging"`
	LiveKit LiveKitConfig `yaml:"livekit"`
	Port    int           `yaml:"port"`

	// DefaultSTTProvider and DefaultTTSProvider and DefaultLLMProvider
	// select the plugin registry entry each kind resolves to, once for
	// the whole process; "google" and "openai" are registered by
	// pkg/plugin/google and pkg/plugin/openai respectively.
	DefaultSTTProvider string `yaml:"default_stt_provider"`
	DefaultTTSProvider string `yaml:"default_tts_provider"`
	DefaultLLMProvider string `yaml:"default_llm_provider"`
}

// New parses content as YAML into a Config and fills in the default
// provider names left empty. An empty content yields a Config holding
// only those defaults rather than an error.
func New(content string) (*Config, error) {
	conf := &Config{}

	if content != "" {
		if err := yaml.Unmarshal([]byte(content), conf); err != nil {
			return nil, fmt.Errorf("config: could not parse config: %w", err)
		}
	}

	if conf.DefaultSTTProvider == "" {
		conf.DefaultSTTProvider = "google"
	}
	if conf.DefaultTTSProvider == "" {
		conf.DefaultTTSProvider = "google"
	}
	if conf.DefaultLLMProvider == "" {
		conf.DefaultLLMProvider = "openai"
	}

	return conf, nil
}
