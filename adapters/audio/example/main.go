// Command example runs a live voice conversation on the local microphone and
// speaker. Speak, get answered, press Ctrl+C to hang up.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wiryanata/swara/adapters/audio"
	"github.com/wiryanata/swara/adapters/env"
	"github.com/wiryanata/swara/adapters/gemini"
	"github.com/wiryanata/swara/adapters/tools"
	"github.com/wiryanata/swara/domain/entities"
	"github.com/wiryanata/swara/usecase"
)

func main() {
	godotenv.Load()

	// Create logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Check if API key is set
	if os.Getenv(env.EnvAPIKey) == "" {
		logger.Fatal(env.EnvAPIKey + " environment variable is required")
	}

	speaker, err := audio.NewSpeaker(entities.PlaybackSampleRate, logger)
	if err != nil {
		logger.Fatal("Failed to open speaker", zap.Error(err))
	}
	defer speaker.Close()

	registry := tools.NewRegistry(logger)
	registry.Register("get_current_time", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"time": time.Now().Format(time.RFC3339)}, nil
	})

	session, err := usecase.NewSession(
		usecase.SessionConfig{
			SystemPrompt: os.Getenv("SWARA_SYSTEM_PROMPT"),
			Voice:        os.Getenv("SWARA_VOICE"),
		},
		usecase.SessionDeps{
			Credentials: env.NewCredentialProvider(logger),
			Dialer:      gemini.NewDialer(logger),
			Codec:       gemini.NewCodec(),
			Capture:     audio.NewMicrophone(logger),
			Sink:        speaker,
			Executor:    registry,
			Logger:      logger,
		},
		usecase.Callbacks{
			OnStateChange: func(state entities.SessionState) {
				fmt.Printf("-- %s\n", state)
			},
			OnTranscript: func(text string, isInput bool) {
				if isInput {
					fmt.Printf("you: %s\n", text)
				} else {
					fmt.Printf("model: %s\n", text)
				}
			},
			OnError: func(message string) {
				fmt.Fprintf(os.Stderr, "error: %s\n", message)
			},
		},
	)
	if err != nil {
		logger.Fatal("Failed to create session", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect", zap.Error(err))
	}

	fmt.Println("=== Live Voice Session ===")
	fmt.Println("Start speaking (Press Ctrl+C to exit)...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nHanging up...")
	session.Disconnect()
}
