package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/events"
	"github.com/John-MustangGT/sentinel/internal/metrics"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/John-MustangGT/sentinel/internal/notifications"
	"github.com/John-MustangGT/sentinel/internal/peering"
	"github.com/John-MustangGT/sentinel/internal/scheduler"
	"github.com/John-MustangGT/sentinel/internal/web"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"config_file": configFile,
		"listen":      cfg.Server.Listen,
		"instance":    cfg.Server.InstanceName,
		"version":     web.Version,
	}).Info("Starting Sentinel")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(store)
	broker := events.NewBroker(events.DefaultQueueSize)
	broker.OnSubscriberChange(collector.SetStreamSubscribers)
	clock := monitoring.SystemClock()
	engine := monitoring.NewEngine(store, clock, broker, collector)

	if err := monitoring.SyncConfig(ctx, engine, cfg); err != nil {
		return fmt.Errorf("failed to sync configuration: %w", err)
	}

	dispatcher, err := buildDispatcher(cfg, store, clock, collector)
	if err != nil {
		return err
	}

	peerClient := peering.NewClient(cfg.Peering.RequestTimeout, collector)
	pairing := peering.NewService(store, clock, peerClient, peering.Options{
		SelfURL:                  cfg.Server.PublicURL,
		SelfName:                 cfg.Server.InstanceName,
		TokenTTL:                 cfg.Peering.TokenTTL,
		HeartbeatIntervalSeconds: cfg.Peering.HeartbeatIntervalSeconds,
	})

	runner := scheduler.NewRunner(collector)
	for _, w := range buildWorkers(cfg, engine, store, clock, dispatcher, peerClient, collector) {
		if err := runner.Register(w); err != nil {
			return err
		}
	}

	server := web.NewServer(cfg, web.Deps{
		Engine:     engine,
		Broker:     broker,
		Pairing:    pairing,
		Dispatcher: dispatcher,
		Workers:    runner.Workers(),
		Metrics:    collector,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		runner.Start(gctx)
		<-gctx.Done()
		runner.Stop()
		return nil
	})

	err = g.Wait()
	logrus.Info("Shutdown complete")
	return err
}

func buildDispatcher(cfg *config.Config, store database.Store, clock monitoring.Clock, collector *metrics.Collector) (*notifications.Dispatcher, error) {
	dispatcher := notifications.NewDispatcher(store, clock, cfg.Notifications.Fallback, collector)
	dispatcher.Register(database.ChannelWebhook, notifications.NewWebhookSender(cfg.Notifications.WebhookTimeout))
	dispatcher.Register(database.ChannelLog, notifications.LogSender{})

	if cfg.Notifications.Pushover.APIToken != "" {
		client := &http.Client{Timeout: cfg.Notifications.WebhookTimeout}
		pushover, err := notifications.NewPushoverSender(cfg.Notifications.Pushover, client)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pushover: %w", err)
		}
		dispatcher.Register(database.ChannelPushover, pushover)
	} else {
		logrus.Info("Pushover api_token not set; pushover channels will fail")
	}
	return dispatcher, nil
}

func buildWorkers(cfg *config.Config, engine *monitoring.Engine, store database.Store, clock monitoring.Clock,
	dispatcher *notifications.Dispatcher, peers *peering.Client, collector *metrics.Collector) []scheduler.Worker {
	w := cfg.Workers
	prober := monitoring.NewHTTPProber(nil)
	peerInterval := time.Duration(cfg.Peering.HeartbeatIntervalSeconds) * time.Second

	return []scheduler.Worker{
		scheduler.NewHeartbeatMonitorWorker(engine, w.Heartbeat, collector),
		scheduler.NewHealthCheckWorker(engine, prober, w.HealthCheck, w.HealthCheckConcurrency, collector),
		scheduler.NewAlertDispatchWorker(store, dispatcher, peers, w.AlertDispatch, collector),
		scheduler.NewMetricRetentionWorker(store, clock, w.MetricRetention, collector),
		scheduler.NewEventRetentionWorker(store, clock, w.EventRetention, collector),
		scheduler.NewRollupAggregationWorker(store, clock, w.Rollup, collector),
		scheduler.NewMaintenanceResumeWorker(engine, w.Maintenance, collector),
		scheduler.NewPeerHeartbeatWorker(store, peers, clock, w.PeerHeartbeat, peerInterval, collector),
	}
}
