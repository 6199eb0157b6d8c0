package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"focusd/internal/activity"
	"focusd/internal/config"
	"focusd/internal/ipc"
	"focusd/internal/logging"
	"focusd/internal/statedb"
	"focusd/internal/store"
)

func handleDaemon(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	cfg := loadConfig()

	logLevel := cfg.Log.Level
	if *debug {
		logLevel = "debug"
	}
	logging.Init(logging.Config{
		LogDir:       cfg.StateDir,
		Level:        logLevel,
		Format:       cfg.Log.Format,
		MaxSizeMB:    cfg.Log.MaxSizeMB,
		MaxBackups:   cfg.Log.MaxBackups,
		MaxAgeDays:   cfg.Log.MaxAgeDays,
		Compress:     cfg.Log.Compress,
		PprofEnabled: cfg.Log.PprofEnabled,
		Debug:        *debug,
	})
	defer logging.Shutdown()

	log := logging.ForComponent(logging.CompDaemon)

	defer func() {
		if r := recover(); r != nil {
			log.Error("daemon_panic", slog.Any("panic", r))
			dumpPath := filepath.Join(cfg.StateDir, fmt.Sprintf("crash-%d.log", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err == nil {
				fmt.Fprintf(os.Stderr, "focusd: crashed; recent logs dumped to %s\n", dumpPath)
			}
			panic(r)
		}
	}()

	if err := runDaemon(cfg, log); err != nil {
		log.Error("daemon_failed", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "focusd: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cfg *config.Config, log *slog.Logger) error {
	db, err := statedb.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	act, err := activity.NewStore(db, activity.Options{
		Tools:         cfg.Activity.Tools,
		RootMarkers:   cfg.Activity.RootMarkers,
		MaxPerSession: cfg.Activity.MaxPerSession,
	})
	if err != nil {
		return err
	}

	cfgStore := config.NewStore(cfg)
	st, err := store.New(db, act, cfgStore)
	if err != nil {
		return err
	}

	server := ipc.NewServer(cfg.Socket, ipc.NewHandler(st, Version))
	if err := server.Listen(); err != nil {
		return err
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(cfgStore, config.Path())
	if err != nil {
		// A daemon without live reload still works; log and move on.
		log.Warn("config_watcher_failed", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfgStore.Get().SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st.Sweep(gctx, time.Now())
				ticker.Reset(cfgStore.Get().SweepInterval())
			}
		}
	})

	if watcher != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-watcher.Changes():
					fresh := cfgStore.Get()
					st.SetRules(store.RulesFrom(fresh.Transition))
					st.Prober().SetTrustWindow(fresh.TrustWindow())
					act.SetTunables(fresh.Activity.Tools, fresh.Activity.RootMarkers, fresh.Activity.MaxPerSession)
					log.Info("config_reloaded")
				}
			}
		})
	}

	log.Info("daemon_started",
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()),
		slog.String("socket", cfg.Socket))

	err = g.Wait()
	log.Info("daemon_stopped")
	return err
}
