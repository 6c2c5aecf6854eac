// Package openai provides an OpenAI-backed ChatCompleter implementation.
package openai

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/livekit-examples/kitt/pkg/ai/llm"
	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = openai.GPT3Dot5Turbo

// ChatLLM implements llm.LLM using OpenAI's chat-completion API.
type ChatLLM struct {
	client *openai.Client
	model  string
}

// Config holds the OpenAI LLM provider's configuration.
type Config struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"` // default: gpt-3.5-turbo
}

// NewChatLLM creates a new OpenAI chat-completion provider.
func NewChatLLM(cfg Config) (*ChatLLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &ChatLLM{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
	}, nil
}

// newChatLLM is the registry factory for the "openai" LLM plugin.
func newChatLLM(cfg map[string]any) (any, error) {
	config := Config{APIKey: os.Getenv("OPENAI_API_KEY")}

	if apiKey, ok := cfg["api_key"].(string); ok && apiKey != "" {
		config.APIKey = apiKey
	}
	if model, ok := cfg["model"].(string); ok && model != "" {
		config.Model = model
	}

	return NewChatLLM(config)
}

// Name identifies this provider in logs and registry listings.
func (c *ChatLLM) Name() string { return "openai" }

// ChatStream opens a streaming chat-completion request and returns a
// DeltaStream yielding raw token deltas as OpenAI sends them.
func (c *ChatLLM) ChatStream(ctx context.Context, messages []llm.Message) (llm.DeltaStream, error) {
	openaiMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		openaiMessages[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: openaiMessages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion stream: %w", err)
	}

	return &chatDeltaStream{stream: stream}, nil
}

// chatDeltaStream adapts openai.ChatCompletionStream to llm.DeltaStream.
type chatDeltaStream struct {
	stream *openai.ChatCompletionStream
}

func (s *chatDeltaStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", fmt.Errorf("openai: stream recv: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *chatDeltaStream) Close() error {
	s.stream.Close()
	return nil
}
