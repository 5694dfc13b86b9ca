package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/theaaf/blackmagic-c2/internal/agent"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/config"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/logging"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment.
	port := flag.String("port", cfg.Server.Port, "Server port")
	host := flag.String("host", cfg.Server.Host, "Listen address")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (console logs, debug level)")
	withAgent := flag.Bool("agent", cfg.Agent.Enabled, "Also run an agent connected to this hub")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Server.Host = *host
	cfg.Agent.Enabled = *withAgent
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(cfg, logger)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Run)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Agent.Enabled {
		a, err := agent.New(agent.ConfigFrom(cfg.Agent, cfg.HyperDeck), logger.Component("agent"))
		if err != nil {
			stop()
			g.Wait()
			return fmt.Errorf("create agent: %w", err)
		}
		g.Go(func() error { return a.Run(ctx) })
	}

	return g.Wait()
}
