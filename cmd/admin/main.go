package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nybot/internal/adminapi"
	"nybot/internal/broker"
	"nybot/internal/config"
	"nybot/internal/gateway"
	rtsup "nybot/internal/runtime/supervisor"
	"nybot/internal/storage"
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
	if err := cfg.ValidateAdmin(); err != nil {
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

	// The backend stays up without a database; /health reports db "not_ready".
	var reader storage.Reader
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: dur.BusyTimeout}, log.With(logx.String("comp", "storage")))
	if err != nil {
		log.Error("storage unavailable", logx.String("path", cfg.Storage.Path), logx.Err(err))
	} else {
		reader = store
		defer store.Close()
	}

	br := broker.New(broker.WithBuffer(cfg.Gateway.Buffer), broker.WithLogger(log.With(logx.String("comp", "broker"))))
	defer br.Close()

	srv, err := adminapi.New(adminapi.Options{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: dur.ReadHeaderTimeout,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		TrustedProxies:    cfg.HTTP.TrustedProxies,
		Secret:            cfg.Auth.Secret,
		AdminLogin:        cfg.Auth.AdminLogin,
		AdminPassword:     cfg.Auth.AdminPassword,
		CookieSecure:      cfg.Auth.CookieSecure,
		LoginRatePerMin:   cfg.Auth.LoginRatePerMin,
		Broker:            br,
		Store:             reader,
		Gateway: gateway.Options{
			PingInterval:   dur.PingInterval,
			WriteTimeout:   dur.WriteTimeout,
			MaxConnections: cfg.Gateway.MaxConnections,
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	feed, err := adminapi.NewStatsFeed(cfg.Dashboard.StatsSchedule, reader, br, log)
	if err != nil {
		return err
	}

	sup := rtsup.New(ctx, rtsup.WithLogger(log.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(true))
	sup.Go("http", func(c context.Context) error { return srv.Serve(c, dur.ShutdownTimeout) })
	sup.Go("statsfeed", feed.Run)
	sup.Go("config.watch", cm.Watch)

	sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, log) })
	systemd.Ready()
	log.Info("admin backend started", logx.String("addr", cfg.HTTP.Addr))

	<-sup.Context().Done()
	systemd.Stopping()
	log.Info("admin backend stopping")

	// Ends open /ws streams; http.Server.Shutdown does not track hijacked connections.
	br.Close()
	sup.Cancel()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), dur.ShutdownTimeout+5*time.Second)
	defer waitCancel()
	if err := sup.Wait(waitCtx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
