package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/agent"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/config"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	id := flag.String("id", cfg.Agent.ID, "Agent id (defaults to the host name)")
	hubURL := flag.String("hub", cfg.Agent.HubURL, "Hub URL")
	scan := flag.Bool("scan", cfg.Agent.ScanEnabled, "Scan the LAN for devices")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (console logs, debug level)")
	flag.Parse()

	cfg.Agent.ID = *id
	cfg.Agent.HubURL = *hubURL
	cfg.Agent.ScanEnabled = *scan
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

	a, err := agent.New(agent.ConfigFrom(cfg.Agent, cfg.HyperDeck), logger.Component("agent"))
	if err != nil {
		logger.Fatal("Failed to create agent", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("Agent error", zap.Error(err))
	}
}
