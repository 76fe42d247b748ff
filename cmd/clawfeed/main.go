// clawfeed - live activity feed for a containerized agent runtime.
//
// Usage:
//
//	clawfeed [--config clawfeed.yaml] [--port 8787] [--log-level debug]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sipeed/clawfeed/pkg/api"
	"github.com/sipeed/clawfeed/pkg/bus"
	"github.com/sipeed/clawfeed/pkg/channels"
	"github.com/sipeed/clawfeed/pkg/config"
	"github.com/sipeed/clawfeed/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		host       string
		port       int
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("clawfeed", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "clawfeed.yaml", "path to YAML config file")
	flagSet.StringVar(&host, "host", "", "override gateway.host")
	flagSet.IntVarP(&port, "port", "p", 0, "override gateway.port")
	flagSet.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Gateway.Host = host
	}
	if port != 0 {
		cfg.Gateway.Port = port
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCloser := logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New(bus.DefaultCapacity)

	channelMgr := channels.NewManager(eventBus)
	if cfg.Channels.Telegram.Enabled {
		channelMgr.Register(channels.NewTelegramChannel(cfg.Channels.Telegram, eventBus))
	}
	if cfg.Channels.Discord.Enabled {
		channelMgr.Register(channels.NewDiscordChannel(cfg.Channels.Discord, eventBus))
	}
	if err := channelMgr.StartAll(ctx); err != nil {
		logger.ErrorCF("main", "Some channels failed to start", map[string]interface{}{
			"error": err.Error(),
		})
	}

	server := api.NewServer(cfg, eventBus, channelMgr)
	if err := server.Start(ctx); err != nil {
		channelMgr.StopAll(context.Background())
		return err
	}

	logger.InfoCF("main", "clawfeed ready", map[string]interface{}{
		"addr":     server.Addr(),
		"channels": channelMgr.List(),
		"capacity": eventBus.Capacity(),
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channelMgr.StopAll(shutdownCtx)
	if err := server.Stop(); err != nil {
		logger.WarnCF("main", "Server shutdown incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}
	eventBus.Close()

	logger.InfoC("main", "Stopped")
	return nil
}
