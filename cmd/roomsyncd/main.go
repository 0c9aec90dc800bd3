package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/allocator"
	"github.com/iidesho/roomsync/config"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/membership/badgerlog"
	"github.com/iidesho/roomsync/membership/inmemory"
	"github.com/iidesho/roomsync/membership/streamlog"
	"github.com/iidesho/roomsync/metrics"
	"github.com/iidesho/roomsync/persister"
	"github.com/iidesho/roomsync/rooms"
	"github.com/iidesho/roomsync/storage"
	"github.com/iidesho/roomsync/stream/store/ondisk"
	"github.com/iidesho/roomsync/syncapi"
	"github.com/iidesho/roomsync/webserver"
	"github.com/iidesho/roomsync/webserver/health"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

func main() {
	config.LoadEnv()
	cfg, err := config.FromEnv()
	if log.WithError(err).Error("reading config") {
		os.Exit(1)
	}
	if log.WithError(config.SetupLogging(cfg.Name, cfg.LogDir)).Error("setting up logging") {
		os.Exit(1)
	}
	health.Name = cfg.Name
	instance := uuid.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.Init()
	err = run(ctx, cfg)
	if log.WithError(err).Error("roomsyncd stopped", "instance", instance) {
		os.Exit(1)
	}
	log.Info("roomsyncd stopped", "instance", instance)
}

func openLog(ctx context.Context, cfg config.Config) (membership.Store, error) {
	switch cfg.Backend {
	case config.BackendStream:
		st, err := ondisk.Init(cfg.Path("streams"), "membership", ctx)
		if err != nil {
			return nil, err
		}
		forgotten, err := storage.New[bool](cfg.Path("forgotten"))
		if err != nil {
			return nil, err
		}
		return streamlog.Open(ctx, st, forgotten)
	case config.BackendBadger:
		return badgerlog.Open(cfg.Path("badger"))
	}
	return inmemory.New(), nil
}

func run(ctx context.Context, cfg config.Config) error {
	l, err := openLog(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening %s membership log: %w", cfg.Backend, err)
	}
	defer func() {
		log.WithError(l.Close()).Error("closing membership log")
	}()

	var (
		allocs     []*allocator.Allocator
		persisters []*persister.Persister
	)
	for _, w := range cfg.Writers {
		var opts []allocator.Option
		if cfg.Backend != config.BackendMemory {
			cp, err := storage.NewWPos[struct{}](cfg.Path("watermarks", string(w)), "watermark")
			if err != nil {
				return fmt.Errorf("opening watermark checkpoint for %s: %w", w, err)
			}
			defer cp.Close()
			opts = append(opts, allocator.WithCheckpoint(cp))
		}
		a, err := persister.NewAllocator(ctx, l, w, opts...)
		if err != nil {
			return err
		}
		allocs = append(allocs, a)
		persisters = append(persisters, persister.New(a, l))
	}
	tracker, err := allocator.NewTracker(allocs...)
	if err != nil {
		return err
	}
	go tracker.Monitor(ctx, cfg.StuckAfter/2, cfg.StuckAfter)

	set := persister.NewSet(persister.NewRouter(cfg.Writers...), l, persisters...)
	resolver := rooms.New(l, rooms.WithWriters(tracker.Known))

	serv, err := webserver.Init(cfg.Port, webserver.Options{
		DebugUser: cfg.DebugUser,
		DebugPass: cfg.DebugPassword,
	})
	if err != nil {
		return err
	}
	serv.Health().AddCheck("writers", func() error {
		stuck := tracker.Stuck(cfg.StuckAfter)
		if len(stuck) == 0 {
			return nil
		}
		return stuck[0]
	})
	syncapi.Register(serv.API(), tracker, resolver, set)

	if cfg.MetricsPush != "" {
		go metrics.Push(ctx, cfg.MetricsPush, cfg.Name, cfg.PushInterval)
	}
	go serv.Run()
	log.Info("roomsyncd started", "port", cfg.Port, "backend", cfg.Backend,
		"writers", cfg.Writers, "token", tracker.CurrentToken())

	<-ctx.Done()
	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- serv.Shutdown()
	}()
	select {
	case err = <-shutdownDone:
		log.WithError(err).Warning("shutting down webserver")
	case <-time.After(10 * time.Second):
		log.Warning("webserver did not shut down in time")
	}
	return nil
}
