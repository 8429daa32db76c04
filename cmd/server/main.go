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

	"go.uber.org/zap"

	"github.com/Simplici0/pricebook/internal/config"
	"github.com/Simplici0/pricebook/internal/db"
	"github.com/Simplici0/pricebook/internal/draftcache"
	"github.com/Simplici0/pricebook/internal/events"
	"github.com/Simplici0/pricebook/internal/logger"
	"github.com/Simplici0/pricebook/internal/migrations"
	"github.com/Simplici0/pricebook/internal/seed"
	"github.com/Simplici0/pricebook/internal/session"
	"github.com/Simplici0/pricebook/internal/store"
)

const (
	evictInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pricebook: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if cfg.MigrateOnStart {
		if err := migrations.Up(ctx, database.DB); err != nil {
			return fmt.Errorf("run database migrations: %w", err)
		}
	}

	stats, err := seed.Run(ctx, database, seed.Config{Demo: cfg.SeedDemo})
	if err != nil {
		return fmt.Errorf("seed database: %w", err)
	}
	log.Info("seed finished", zap.Int("inserts", stats.Inserts), zap.Int("updates", stats.Updates))

	st := store.New(database, log.Named("store"))

	var opts []session.ManagerOption
	if cfg.RedisAddr != "" {
		client, err := draftcache.Connect(ctx, draftcache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			MaxWait:  cfg.RedisConnectWait,
		}, log)
		if err != nil {
			return fmt.Errorf("connect draft cache: %w", err)
		}
		defer client.Close()
		opts = append(opts, session.WithSnapshots(draftcache.New(client, cfg.SessionTTL)))
	} else {
		log.Info("REDIS_ADDR not set, editing sessions live in memory only")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		p, err := events.Connect(cfg.NATSURL, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		publisher = p
	}
	defer publisher.Close()

	manager := session.NewManager(st, st, cfg.SessionTTL, opts...)
	go manager.Run(ctx, evictInterval, func(n int) {
		log.Info("evicted idle sessions", zap.Int("count", n))
	})

	srv := newServer(database, st, manager, publisher, log, cfg.SaveTimeout)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Environment))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}
