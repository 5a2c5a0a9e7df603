package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"feastline/internal/api"
	"feastline/internal/config"
	"feastline/internal/events"
	"feastline/internal/gateway"
	"feastline/internal/lifecycle"
	"feastline/internal/menu"
	"feastline/internal/store"
	"feastline/pkg/logger"
)

func main() {
	log := logger.New("feastline")
	if err := run(log); err != nil {
		log.Action("fatal").Error("service stopped", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	broker, err := events.Connect(cfg.AMQPURL, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	orders := store.NewOrderStore(pool)
	earnings := store.NewEarningStore(pool)
	directory := store.NewDirectory(pool)

	menuSource := menu.NewCachedSource(cfg.RedisAddr, directory, log)
	defer menuSource.Close()

	engine := lifecycle.NewEngine(orders, directory, menuSource, broker, log)

	registry := gateway.NewRegistry(log)
	dispatcher := gateway.NewDispatcher(registry, log)
	wsServer := gateway.NewServer(registry, directory, log)

	handler := api.NewHandler(engine, earnings, directory, wsServer, log)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Action("server_started").Info("HTTP server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return broker.Consume(ctx, dispatcher.Dispatch)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Action("graceful_shutdown_started").Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Action("graceful_shutdown_completed").Info("shutdown complete")
	return nil
}
