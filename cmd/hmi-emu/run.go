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

	"github.com/alunegov/hmi-emu/internal/adapter/config"
	"github.com/alunegov/hmi-emu/internal/adapter/modbus"
	"github.com/alunegov/hmi-emu/internal/adapter/mqtt"
	"github.com/alunegov/hmi-emu/internal/adapter/snapshot"
	"github.com/alunegov/hmi-emu/internal/api"
	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/alunegov/hmi-emu/internal/health"
	"github.com/alunegov/hmi-emu/internal/metrics"
	"github.com/alunegov/hmi-emu/internal/service"
	"github.com/alunegov/hmi-emu/pkg/logging"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// loadConfig applies the positional device address and loads the
// configuration.
func loadConfig(args []string) (*config.Config, error) {
	if len(args) == 1 {
		v.Set("modbus.address", args[0])
	}
	return config.Load(v)
}

// loadParameters reads the specification and coalesces its ranges.
func loadParameters(cfg *config.Config) (*domain.ParameterSet, []domain.RegisterRange, error) {
	specs, err := config.LoadParameters(cfg.Parameters.File)
	if err != nil {
		return nil, nil, err
	}
	params := domain.NewParameterSet(specs)
	ranges := modbus.BuildRanges(params.IDs(), modbus.BatchConfig{
		MaxParametersPerRead: cfg.Modbus.MaxParametersPerRead,
		MaxGap:               cfg.Modbus.MaxGap,
	})
	return params, ranges, nil
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.NewWithConfig(serviceName, serviceVersion, logging.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logCloser.Close()
	logger.Info().Str("address", cfg.Modbus.Address).Msg("Starting hmi-emu")

	params, ranges, err := loadParameters(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.Parameters.File).Msg("Failed to load parameter specification")
	}
	if params.Len() == 0 {
		logger.Warn().Str("file", cfg.Parameters.File).Msg("Parameter specification is empty, nothing will be polled")
	}
	logger.Info().Int("params", params.Len()).Int("ranges", len(ranges)).Msg("Parameter specification loaded")

	metricsRegistry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := modbus.NewDevice(modbus.ClientConfig{
		Address:     cfg.Modbus.Address,
		UnitID:      cfg.Modbus.UnitID,
		Timeout:     cfg.Modbus.Timeout,
		IdleTimeout: cfg.Modbus.IdleTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create modbus client: %w", err)
	}

	// Snapshot log
	var persister service.SnapshotWriter
	var snapshotLog *snapshot.Writer
	if cfg.Snapshot.Enabled {
		snapshotLog, err = snapshot.Create(snapshot.Config{
			Dir:    cfg.Snapshot.Dir,
			Prefix: cfg.Snapshot.Prefix,
			Fsync:  cfg.Snapshot.Fsync,
		}, time.Now())
		if err != nil {
			return err
		}
		defer snapshotLog.Close()
		persister = snapshotLog
		logger.Info().Str("path", snapshotLog.Path()).Msg("Snapshot log opened")
	}

	// UI collaborators
	latest := service.NewLatestSink()
	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewPublisher(mqtt.Config{
			BrokerURL:          cfg.MQTT.BrokerURL,
			ClientID:           cfg.MQTT.ClientID,
			Username:           cfg.MQTT.Username,
			Password:           cfg.MQTT.Password,
			CleanSession:       cfg.MQTT.CleanSession,
			QoS:                cfg.MQTT.QoS,
			KeepAlive:          cfg.MQTT.KeepAlive,
			ConnectTimeout:     cfg.MQTT.ConnectTimeout,
			ReconnectDelay:     cfg.MQTT.ReconnectDelay,
			PublishTimeout:     cfg.MQTT.PublishTimeout,
			TopicPrefix:        cfg.MQTT.TopicPrefix,
			CBFailureThreshold: cfg.MQTT.CBFailureThreshold,
			CBTimeout:          cfg.MQTT.CBTimeout,
		}, logger, metricsRegistry)
		if err := publisher.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("MQTT broker unavailable, retrying in background")
		}
		defer publisher.Disconnect()
	}

	var sink domain.Sink = latest
	if publisher != nil {
		sink = service.NewFanoutSink(latest, publisher)
	}

	poller := service.NewPoller(service.PollerConfig{
		ReconnectDelay: cfg.Modbus.ReconnectDelay,
		PollInterval:   cfg.Modbus.PollInterval,
		Jitter:         cfg.Modbus.Jitter,
	}, device, params, ranges, sink, persister, logger, metricsRegistry)

	commands := service.NewCommands(params, poller, logger, metricsRegistry)

	var cmdHandler *service.CommandHandler
	if publisher != nil {
		cmdHandler = service.NewCommandHandler(publisher, commands, logger)
		if err := cmdHandler.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start command handler (MQTT commands disabled)")
			cmdHandler = nil
		} else {
			defer cmdHandler.Stop()
		}
	}

	// Health checks
	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	})
	healthChecker.AddCheck("poller", poller)
	if snapshotLog != nil {
		healthChecker.AddOptionalCheck("snapshot_log", snapshotLog)
	}
	if publisher != nil {
		healthChecker.AddOptionalCheck("mqtt", publisher)
	}

	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		router := mux.NewRouter()
		router.HandleFunc("/health", healthChecker.HealthHandler)
		router.HandleFunc("/health/live", healthChecker.LivenessHandler)
		router.HandleFunc("/health/ready", healthChecker.ReadinessHandler)
		router.Handle("/metrics", promhttp.Handler())

		apiHandler := api.NewHandler(commands, latest, poller, device, logger)
		if cmdHandler != nil {
			apiHandler.SetSubscriptionProvider(cmdHandler)
		}
		apiHandler.Register(router, api.NewMiddleware(cfg.API, logger))

		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:      router,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}
		go func() {
			logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	logger.Info().
		Str("address", cfg.Modbus.Address).
		Int("http_port", cfg.HTTP.Port).
		Bool("mqtt", publisher != nil).
		Msg("hmi-emu started")

	// Run blocks until a shutdown signal cancels ctx.
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Poll worker stopped")
	}

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown...")
	shutdown(httpServer, logger)
	logger.Info().
		Uint64("cycles", poller.Stats().Cycles.Load()).
		Msg("hmi-emu shutdown complete")
	return nil
}

func shutdown(httpServer *http.Server, logger zerolog.Logger) {
	if httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}
}
