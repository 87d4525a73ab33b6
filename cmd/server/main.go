package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/infrastructure/translation"
	"polyglot-chat/infrastructure/websocket"
	"polyglot-chat/internal"
	"polyglot-chat/moderation"
	"polyglot-chat/repositories"
	"polyglot-chat/runtime"
	"polyglot-chat/runtime/workers"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and owns the server lifecycle, so deferred cleanups always execute.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Message archive (in memory, nothing survives a restart)
	db, err := repositories.OpenInMemory()
	if err != nil {
		return fmt.Errorf("archive opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing archive...")
		_ = db.Close()
	}()
	archive := repositories.NewMessageRepository(db, log, config.ArchiveRetention, config.ArchivePageSize)

	// 3. Optional moderation
	var moderator contract.IModerator
	if words := moderation.ParseWords(config.CensoredWords); len(words) > 0 {
		char, err := internal.CharacterRune(config.CharReplacement)
		if err != nil {
			return err
		}
		m, err := moderation.NewModerator(words, char, log)
		if err != nil {
			return fmt.Errorf("moderator failed to build: %w", err)
		}
		moderator = m
	}

	// 4. Engine
	gateway := translation.NewOllamaGateway(log, config.OllamaURL, config.OllamaModel, config.TranslationTimeout)
	hub := websocket.NewHub(log)
	dispatcher := runtime.NewDispatcher(log,
		workers.NewSupervisor(log, config.RestartInterval),
		runtime.NewRegistry(), gateway, hub, archive, moderator,
		runtime.DispatcherConfig{
			BufferSize:                config.BufferSize,
			DeliveryTimeout:           config.DeliveryTimeout,
			TranslationTimeout:        config.TranslationTimeout,
			MaxConcurrentTranslations: config.MaxConcurrentTranslations,
			HistoryLimit:              config.HistoryLimit,
		})

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	dispatcher.Start(context.WithoutCancel(ctx))

	// 6. HTTP server
	server := &http.Server{
		Addr:              config.Address(),
		Handler:           websocket.Routes(websocket.NewHandler(hub, dispatcher, log, config.ConnectionBufferSize)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting websocket server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		dispatcher.Stop()
		return err
	}

	// 8. Final Cleanup: stop accepting, close sockets while rooms still run their disconnects, then stop rooms
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	hub.CloseAll()
	dispatcher.Stop()
	log.Info("Program stopped cleanly")
	return nil
}
