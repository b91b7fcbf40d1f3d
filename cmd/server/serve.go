package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/manpreetbhatti/trellis/internal/api"
	"github.com/manpreetbhatti/trellis/internal/compaction"
	"github.com/manpreetbhatti/trellis/internal/config"
	"github.com/manpreetbhatti/trellis/internal/metrics"
	"github.com/manpreetbhatti/trellis/internal/room"
	"github.com/manpreetbhatti/trellis/internal/store"
	"github.com/manpreetbhatti/trellis/internal/ws"
)

func run(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	var loader room.Loader
	var persister ws.Persister
	if cfg.DBPath != "" {
		st, err = store.New(cfg.DBPath, log)
		if err != nil {
			return err
		}
		defer st.Close()
		loader = st
		persister = st
	}

	registry := room.NewRegistry(loader, log)
	m := metrics.New(prometheus.DefaultRegisterer, func() float64 {
		return float64(registry.Count())
	})
	hub := ws.NewHub(registry, persister, m, log, ws.Options{
		CloseOnMergeError: cfg.CloseOnMergeError,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
	})

	r := chi.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, w, req)
	})
	r.HandleFunc("/ws/*", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, w, req)
	})
	api.New(hub, registry, st, log).Register(r)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if st != nil {
		g.Go(func() error {
			svc := compaction.New(st, compaction.Config{
				Interval:          cfg.CompactionInterval,
				UpdateThreshold:   cfg.CompactionThreshold,
				KeepRecentUpdates: cfg.KeepRecentUpdates,
			}, log)
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("trellis server starting",
			zap.String("addr", cfg.Addr),
			zap.Bool("persistence", st != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
