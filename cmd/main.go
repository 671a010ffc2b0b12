package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/wiryanata/swara/adapters/env"
	"github.com/wiryanata/swara/adapters/gemini"
	"github.com/wiryanata/swara/adapters/tools"
	"github.com/wiryanata/swara/domain/repositories"
	"github.com/wiryanata/swara/internal/api"
	"github.com/wiryanata/swara/internal/websocket"
	"github.com/wiryanata/swara/usecase"
)

func main() {
	// Load environment variables from .env if present
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize adapters
	credentials := env.NewCredentialProvider(logger)
	dialer := gemini.NewDialer(logger)
	codec := gemini.NewCodec()

	registry := tools.NewRegistry(logger)
	registry.Register("get_current_time", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"time": time.Now().Format(time.RFC3339)}, nil
	})

	// Each websocket client gets its own session wired to its relayed
	// microphone and speaker.
	factory := func(
		opts websocket.ConnectOptions,
		capture repositories.CaptureDevice,
		sink repositories.PlaybackSink,
		cb usecase.Callbacks,
	) (*usecase.Session, error) {
		return usecase.NewSession(
			usecase.SessionConfig{
				SystemPrompt: opts.SystemPrompt,
				Voice:        opts.Voice,
			},
			usecase.SessionDeps{
				Credentials: credentials,
				Dialer:      dialer,
				Codec:       codec,
				Capture:     capture,
				Sink:        sink,
				Executor:    registry,
				Logger:      logger,
			},
			cb,
		)
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(factory, logger)
	go hub.Run()

	// Initialize API routes
	api.InitRoutes(e, hub, logger)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
