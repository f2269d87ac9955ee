package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teslafi/internal/api"
	"teslafi/internal/config"
	"teslafi/internal/ha"
	"teslafi/internal/integration"
	"teslafi/internal/mqtt"
	"teslafi/internal/registry"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const configReloadInterval = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll every configured vehicle and serve MQTT and HTTP",
	Args:  cobra.NoArgs,
	RunE:  runBridge,
}

func runBridge(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	loader, cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	defer loader.Stop()

	logger.Info("Starting TeslaFi bridge",
		zap.Int("entries", len(cfg.Entries)),
		zap.Bool("mqtt", cfg.MQTT.URL != ""),
		zap.Bool("read_only", cfg.ReadOnly))
	if cfg.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no commands will be sent to TeslaFi")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier integration.Notifier
	if cfg.HA.URL != "" && cfg.HA.Token != "" {
		client := ha.NewClient(cfg.HA.URL, cfg.HA.Token, logger, cfg.ReadOnly)
		defer client.Disconnect()
		notifier = client
	}

	reg := registry.New()
	manager := integration.NewManager(reg, integration.Deps{
		HTTPClient:     &http.Client{},
		Logger:         logger,
		Coordinator:    cfg.Coordinator(),
		PendingTimeout: cfg.PendingTimeout,
		Notifier:       notifier,
	})

	server := api.NewServer(reg, logger, cfg.HTTP.Listen, cfg.ReadOnly)
	if err := server.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MQTT.URL != "" {
		bridge := mqtt.NewBridge(mqtt.Options{
			Config:   cfg.MQTT,
			ReadOnly: cfg.ReadOnly,
			Notifier: notifier,
			Logger:   logger,
		})
		manager.AddListener(bridge)
		g.Go(func() error { return bridge.Run(ctx) })
	}

	g.Go(func() error {
		defer manager.UnloadAll()
		if err := manager.SetupAll(ctx, cfg.Entries); err != nil {
			if reg.Len() == 0 {
				return err
			}
			logger.Warn("Some entries failed to set up", zap.Error(err))
		}

		loader.StartAutoReload(configReloadInterval, func(c *config.Config) {
			manager.ApplyIntervals(c.Polling)
		})

		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Stop(context.Background())
	})

	err = g.Wait()
	logger.Info("Shutting down gracefully...")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
