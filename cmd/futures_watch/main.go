package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"futures_watch/internal/config"
	"futures_watch/internal/dispatch"
	"futures_watch/internal/gateway"
	"futures_watch/internal/logger"
	"futures_watch/internal/poller"
	"futures_watch/internal/store"
	"futures_watch/internal/stream"
)

const LogFile = "futures_watch.log"

// main is the entry point of the application. It owns the lifecycle of the
// reconciliation core: everything is constructed here and injected, and
// shutdown is explicit via context cancellation.
func main() {
	cfg := config.Load()
	logger.Setup(LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wiring: gateway -> poller -> store <- dispatcher <- stream.
	st := store.New()
	provider := gateway.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.FetchTimeout)
	p := poller.New(provider, st, cfg.PollInterval, cfg.FailureThreshold)
	d := dispatch.New(st, p)
	sc := stream.New(cfg.StreamURL, d.HandleMessage, d.HandleConnection)

	// Graceful shutdown on SIGINT/SIGTERM.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("⚠️ Shutting down: system signal received.")
		cancel()
	}()

	if cfg.DefaultAccountID != "" {
		p.SelectAccount(cfg.DefaultAccountID)
	}

	go func() {
		if err := sc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("ERROR: Stream terminated: %v", err)
		}
	}()

	log.Printf("Futures watch initialized (poll interval %s)", cfg.PollInterval)
	p.Run(ctx)

	if err := sc.Close(); err != nil {
		log.Printf("Stream close: %v", err)
	}
	log.Println("🛑 Shutdown complete.")
}
