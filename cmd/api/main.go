package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"finsync/internal/shared/config"
	"finsync/internal/shared/logging"
	"finsync/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("application error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	logger.Info("finsync api starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				logger.WithError(err).Error("telemetry shutdown failed")
			}
		}()
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.Scheduler.Enabled {
		deps.Scheduler.Start()
	} else {
		logger.Info("scheduler is disabled, passes run only on demand")
	}

	handler := SetupRoutes(deps, cfg, logger)
	srv, redirectSrv, serveErr := StartServers(NewServerConfigFromConfig(handler, cfg, logger))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.WithError(err).Error("server failed")
	}

	GracefulShutdown(logger, srv, redirectSrv, deps.Scheduler, shutdownTimeout)
	return nil
}
