package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nybot/internal/bot"
	"nybot/internal/config"
	"nybot/internal/events"
	rtsup "nybot/internal/runtime/supervisor"
	"nybot/internal/storage"
	kit "nybot/internal/transport"
	"nybot/internal/transport/telegram/adapter"
	logx "nybot/pkg/logx"
	"nybot/pkg/systemd"
)

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml); missing file means env only")
	flag.StringVar(&envPath, "env", ".env", "path to .env file")
	flag.Parse()

	if err := run(cfgPath, envPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath, envPath string) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}
	cm := config.NewConfigManager(cfgPath)
	cfg, err := cm.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateBot(); err != nil {
		return err
	}
	dur, err := cfg.Durations()
	if err != nil {
		return err
	}

	logs, log := logx.New(cfg.Logging.Logx())
	defer logs.Close()
	cm.SetLogger(log.With(logx.String("comp", "config")))
	cm.OnReload(func(_, cur *config.Config) { logs.Apply(cur.Logging.Logx()) })

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: dur.BusyTimeout}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var fwd bot.Forwarder
	if c := events.NewClient(cfg.Backend.URL, cfg.Auth.Secret, log.With(logx.String("comp", "events"))); c != nil {
		fwd = c
	} else {
		log.Info("event forwarding disabled (backend.url not set)")
	}

	ad, err := adapter.New(adapter.Config{Token: cfg.Telegram.Token, PollTimeout: dur.PollTimeout}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	b := bot.New(ad, bot.Options{Store: store, Forwarder: fwd, Logger: log.With(logx.String("comp", "bot"))})

	sup := rtsup.New(ctx, rtsup.WithLogger(log.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(true))
	updates := make(chan kit.Update, 256)
	if err := ad.Start(sup.Context(), updates); err != nil {
		return err
	}
	sup.Go("bot.dispatch", func(c context.Context) error { return b.DispatchLoop(c, updates) })
	sup.Go0("bot.menu", func(c context.Context) {
		mctx, mcancel := context.WithTimeout(c, 15*time.Second)
		defer mcancel()
		if err := b.RegisterMenu(mctx); err != nil {
			log.Warn("failed to set bot commands", logx.Err(err))
		}
	})
	sup.Go("config.watch", cm.Watch)

	sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, log) })
	systemd.Ready()
	log.Info("bot started")

	<-sup.Context().Done()
	systemd.Stopping()
	log.Info("bot stopping")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = ad.Stop(stopCtx)
	sup.Cancel()
	if err := sup.Wait(stopCtx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
