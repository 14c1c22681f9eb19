package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bridgebot/internal/bus"
	"bridgebot/internal/channel"
	"bridgebot/internal/command"
	"bridgebot/internal/config"
	"bridgebot/internal/domain"
	"bridgebot/internal/relay"
	"bridgebot/internal/server"
	"bridgebot/internal/store"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Long:  "Connects every enabled adapter and relays messages between connected chats. Press Ctrl+C to stop.",
		RunE:  runBridge,
	}
}

// buildAdapters creates the enabled adapters. They are not connected yet.
func buildAdapters(cfg *config.Config, eventBus domain.EventBus, log *slog.Logger) []domain.Provider {
	downloader := channel.NewDownloader(channel.DownloaderConfig{
		Timeout:  cfg.Relay.DownloadTimeout(),
		MaxBytes: cfg.Relay.MaxDownloadBytes(),
		Logger:   log,
	})

	var adapters []domain.Provider
	if cfg.Telegram.Enabled {
		adapters = append(adapters, channel.NewTelegram(channel.TelegramConfig{
			Token:            cfg.Telegram.Token,
			Bus:              eventBus,
			Downloader:       downloader,
			MediaGroupWindow: cfg.Relay.MediaGroupWindow(),
			MaxAlbumSize:     cfg.Relay.MaxAlbumSize,
			SendTimeout:      cfg.Relay.SendTimeout(),
			ForwardDepth:     cfg.Relay.ForwardDepthLimit,
			Logger:           log,
		}))
	}
	if cfg.VK.Enabled {
		adapters = append(adapters, channel.NewVK(channel.VKConfig{
			Token:             cfg.VK.Token,
			GroupID:           cfg.VK.GroupID,
			RequestsPerSecond: cfg.VK.RequestsPerSecond,
			Bus:               eventBus,
			Downloader:        downloader,
			SendTimeout:       cfg.Relay.SendTimeout(),
			ForwardDepth:      cfg.Relay.ForwardDepthLimit,
			Logger:            log,
		}))
	}
	return adapters
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, logCloser, err := newLogger(cfg.General)
	if err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	defer logCloser.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	eventBus := bus.New(cfg.Relay.BusBufferSize, log)
	adapters := buildAdapters(cfg, eventBus, log)
	if len(adapters) == 0 {
		return errors.New("no adapter enabled: set telegram.enabled or vk.enabled")
	}

	router := relay.NewRouter(relay.Config{
		Bus:       eventBus,
		Store:     st,
		Providers: adapters,
		Commands: command.NewHandler(command.Config{
			Store:       st,
			AuthEnabled: cfg.Auth.Enabled,
			Password:    cfg.Auth.Password,
			Logger:      log,
		}),
		SendTimeout: cfg.Relay.SendTimeout(),
		Logger:      log,
	})
	routerCtx, cancelRouter := context.WithCancel(context.Background())
	defer cancelRouter()
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		router.Run(routerCtx)
	}()

	connected := 0
	for _, a := range adapters {
		if err := a.Connect(ctx); err != nil {
			var connErr *domain.ConnectionError
			if errors.As(err, &connErr) {
				log.Error("adapter failed to connect", "provider", connErr.Provider, "err", connErr.Err)
			} else {
				log.Error("adapter failed to connect", "provider", a.Name(), "err", err)
			}
			continue
		}
		connected++
	}
	if connected == 0 {
		eventBus.Close()
		<-routerDone
		return errors.New("no adapter could connect")
	}

	if cfg.HTTP.Enabled {
		srv := server.New(server.Config{
			Addr:     cfg.HTTP.Addr(),
			Adapters: adapters,
			Store:    st,
			Version:  version,
			Logger:   log,
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("http server error", "err", err)
			}
		}()
	}

	log.Info("bridge started. Press Ctrl+C to stop.", "adapters", connected)
	<-ctx.Done()
	log.Info("shutting down bridge...")

	return shutdown(adapters, eventBus, routerDone, cancelRouter, cfg.Relay.ShutdownGrace(), log)
}

// shutdown stops every adapter within grace, then lets the router finish
// the events already received.
func shutdown(adapters []domain.Provider, eventBus domain.EventBus, routerDone <-chan struct{}, cancelRouter context.CancelFunc, grace time.Duration, log *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Disconnect(shutdownCtx); err != nil {
				log.Warn("adapter did not stop in time", "provider", a.Name(), "err", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	eventBus.Close()
	select {
	case <-routerDone:
	case <-shutdownCtx.Done():
		log.Warn("relay did not finish in time, abandoning queued events")
		cancelRouter()
		<-routerDone
		errs = append(errs, errors.New("relay shutdown timed out"))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
