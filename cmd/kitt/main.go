// Command kitt runs the meeting-assistant bot supervisor: it listens for
// LiveKit room webhooks and direct-join requests, dispatching one agent
// per occupied room.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/livekit/protocol/logger"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/livekit-examples/kitt/pkg/agent"
	"github.com/livekit-examples/kitt/pkg/ai/llm"
	"github.com/livekit-examples/kitt/pkg/ai/stt"
	"github.com/livekit-examples/kitt/pkg/ai/tts"
	"github.com/livekit-examples/kitt/pkg/config"
	"github.com/livekit-examples/kitt/pkg/metrics"
	"github.com/livekit-examples/kitt/pkg/plugin"
	_ "github.com/livekit-examples/kitt/pkg/plugin/google" // registers the google stt/tts providers
	_ "github.com/livekit-examples/kitt/pkg/plugin/openai" // registers the openai llm provider
	"github.com/livekit-examples/kitt/pkg/supervisor"
)

var rootCmd = &cobra.Command{
	Use:   "kitt",
	Short: "KITT is a LiveKit meeting-assistant bot",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook-driven agent supervisor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "KITT yaml config file (env LIVEGPT_CONFIG_FILE)")
	serveCmd.Flags().String("config-body", "", "KITT yaml config body (env LIVEGPT_CONFIG_BODY)")
	serveCmd.Flags().String("gcp-credentials-path", "", "path to GCP credentials file (env GOOGLE_APPLICATION_CREDENTIALS)")
	serveCmd.Flags().String("gcp-credentials-body", "", "GCP credentials JSON body (env GOOGLE_APPLICATION_CREDENTIALS_BODY)")

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile := flagOrEnv(cmd, "config", "LIVEGPT_CONFIG_FILE")
	configBody := flagOrEnv(cmd, "config-body", "LIVEGPT_CONFIG_BODY")
	if configBody == "" {
		if configFile == "" {
			return fmt.Errorf("--config or --config-body (or LIVEGPT_CONFIG_FILE/LIVEGPT_CONFIG_BODY) is required")
		}
		content, err := os.ReadFile(configFile)
		if err != nil {
			return err
		}
		configBody = string(content)
	}

	conf, err := config.New(configBody)
	if err != nil {
		return err
	}

	gcpFile := flagOrEnv(cmd, "gcp-credentials-path", "GOOGLE_APPLICATION_CREDENTIALS")
	gcpBody := flagOrEnv(cmd, "gcp-credentials-body", "GOOGLE_APPLICATION_CREDENTIALS_BODY")
	gcpCred := option.WithCredentialsFile(gcpFile)
	if gcpBody != "" {
		gcpCred = option.WithCredentialsJSON([]byte(gcpBody))
	}

	ctx := context.Background()

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}

	llmBackend, err := resolveLLM(conf, openaiKey)
	if err != nil {
		return err
	}
	sttBackend, ttsBackend, closeGCP, err := resolveGoogleBackends(ctx, conf, gcpCred)
	if err != nil {
		return err
	}
	defer closeGCP()

	logger.InitFromConfig(conf.Logger, "kitt")
	metrics.Register()

	sup := supervisor.New(conf, agent.Backends{STT: sttBackend, TTS: ttsBackend, LLM: llmBackend})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		sup.Stop()
	}()

	return sup.Start()
}

func resolveLLM(conf *config.Config, openaiKey string) (llm.LLM, error) {
	factory, ok := plugin.Get("llm", conf.DefaultLLMProvider)
	if !ok {
		return nil, fmt.Errorf("no llm provider registered under %q", conf.DefaultLLMProvider)
	}
	instance, err := factory(map[string]any{"api_key": openaiKey})
	if err != nil {
		return nil, err
	}
	return instance.(llm.LLM), nil
}

func resolveGoogleBackends(ctx context.Context, conf *config.Config, cred option.ClientOption) (stt.STT, tts.TTS, func(), error) {
	sttFactory, ok := plugin.Get("stt", conf.DefaultSTTProvider)
	if !ok {
		return nil, nil, nil, fmt.Errorf("no stt provider registered under %q", conf.DefaultSTTProvider)
	}
	sttInstance, err := sttFactory(map[string]any{"client_options": []option.ClientOption{cred}})
	if err != nil {
		return nil, nil, nil, err
	}

	ttsFactory, ok := plugin.Get("tts", conf.DefaultTTSProvider)
	if !ok {
		return nil, nil, nil, fmt.Errorf("no tts provider registered under %q", conf.DefaultTTSProvider)
	}
	ttsInstance, err := ttsFactory(map[string]any{"client_options": []option.ClientOption{cred}})
	if err != nil {
		return nil, nil, nil, err
	}

	sttBackend := sttInstance.(stt.STT)
	ttsBackend := ttsInstance.(tts.TTS)

	closer := func() {
		if c, ok := sttInstance.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		if c, ok := ttsInstance.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}

	return sttBackend, ttsBackend, closer, nil
}

func flagOrEnv(cmd *cobra.Command, flag, env string) string {
	value, _ := cmd.Flags().GetString(flag)
	if value != "" {
		return value
	}
	return os.Getenv(env)
}
