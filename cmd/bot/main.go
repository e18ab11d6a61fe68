package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/nfrelink/telegram-scheduler-bot/internal/config"
	"github.com/nfrelink/telegram-scheduler-bot/internal/janitor"
	"github.com/nfrelink/telegram-scheduler-bot/internal/scheduler"
	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
	"github.com/nfrelink/telegram-scheduler-bot/internal/telegram"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func run(ctx context.Context, cfgPath string, cfg config.Config, log zerolog.Logger) error {
	component := func(name string) zerolog.Logger {
		return log.With().Str("component", name).Logger()
	}

	store, err := storage.Open(storage.Config{
		Path:        cfg.DatabasePath,
		BusyTimeout: cfg.BusyTimeout(),
	}, component("storage"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	bot, err := telegram.New(cfg, store, component("telegram"))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	engine := scheduler.New(scheduler.Config{
		CheckInterval:       cfg.CheckInterval(),
		MinDeliveryInterval: cfg.MinDeliveryInterval(),
		DefaultTimezone:     cfg.DefaultTimezone,
	}, store, bot, bot, component("scheduler"))

	jan := janitor.New(store, component("janitor"))
	if err := jan.Start(ctx); err != nil {
		return fmt.Errorf("janitor: %w", err)
	}
	defer jan.Stop()

	go engine.Run(ctx)
	go bot.Start(ctx)

	// Live-reload the tick interval and log level on config file changes.
	go func() {
		err := config.Watch(ctx, cfgPath, log, func(next config.Config) {
			engine.SetCheckInterval(next.CheckInterval())
			applyLogLevel(next.LogLevel, log)
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify failed")
	} else if sent {
		log.Debug().Msg("notified systemd: ready")
	}

	log.Info().
		Dur("check_interval", cfg.CheckInterval()).
		Str("db", cfg.DatabasePath).
		Msg("bot up")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info().Msg("shutting down")
	return nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	// The level lives in the global filter so the config watcher can adjust
	// it at runtime.
	zerolog.SetGlobalLevel(level)

	if cfg.LogJSON {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
}

func applyLogLevel(name string, log zerolog.Logger) {
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return
	}
	if zerolog.GlobalLevel() != level {
		zerolog.SetGlobalLevel(level)
		log.Info().Str("level", level.String()).Msg("log level changed")
	}
}
