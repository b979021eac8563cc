package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/tictactoe-backend/internal/config"
	"github.com/DoyleJ11/tictactoe-backend/internal/httpapi"
	"github.com/DoyleJ11/tictactoe-backend/internal/logging"
	"github.com/DoyleJ11/tictactoe-backend/internal/metrics"
	"github.com/DoyleJ11/tictactoe-backend/internal/registry"
	"github.com/DoyleJ11/tictactoe-backend/internal/session"
	"github.com/DoyleJ11/tictactoe-backend/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	if cfg.CleanupOrphans {
		n, err := st.CleanupOrphans(ctx)
		if err != nil {
			return fmt.Errorf("cleanup orphaned seats: %w", err)
		}
		logger.Info("orphaned seats removed", zap.Int64("count", n))
	}

	// The registry outlives the signal context so disconnect cleanup can
	// still run while connections drain.
	rooms := registry.New(context.Background(), logger)
	defer rooms.Shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := transport.NewHub(logger)
	eng := session.New(session.Deps{
		Store:     st,
		Rooms:     rooms,
		Transport: hub,
		Metrics:   m,
		Logger:    logger,
		Strict:    cfg.StrictMoves,
	})

	// Websocket handlers are hijacked and ignore Shutdown, so they get a
	// context of their own that is cancelled only once the engine has been
	// switched to shutdown mode.
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Store:      st,
			Dispatcher: eng,
			Hub:        hub,
			Metrics:    m,
			Gatherer:   reg,
			WS:         transport.Options{OriginPatterns: cfg.WSOriginPatterns, PingInterval: cfg.WSPingInterval},
			Logger:     logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.Bool("strict_moves", cfg.StrictMoves))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Rooms and boards survive a planned restart; only seats are freed.
		eng.BeginShutdown()
		cancelConns()
		err := srv.Shutdown(shutdownCtx)
		if werr := hub.Wait(shutdownCtx); werr != nil {
			logger.Warn("connections still open at shutdown", zap.Error(werr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited gracefully")
	return nil
}
