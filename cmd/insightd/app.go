package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/telemetry"
	"go.uber.org/zap"
)

// app holds everything a command needs after configuration is loaded.
type app struct {
	cfg       *config.Config
	loader    *config.Loader
	logCfg    *logging.Config
	logger    *logging.Logger
	telemetry *telemetry.Manager

	// base is the stdout-only logger the manager was built with. It differs
	// from logger once the OTLP bridge is attached.
	base *logging.Logger
}

// newApp loads configuration and builds the logger and telemetry manager.
// The manager never fails to construct; a missing or rejected connection
// string leaves it in degraded mode. When the manager exposes an OTLP log
// provider and logging.output.otel is set, the logger is rebuilt to bridge
// into it.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, loader, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg, err := loadLoggingConfig(loader)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	telCfg, err := loadTelemetryConfig(loader, cfg)
	if err != nil {
		return nil, err
	}
	tm := telemetry.New(ctx, telCfg, logger)
	base := logger

	if lp := tm.LoggerProvider(); lp != nil && logCfg.Output.OTEL {
		bridged, err := logging.NewLogger(logCfg, lp)
		if err != nil {
			logger.Warn(ctx, "failed to bridge logger to telemetry, keeping stdout logger", zap.Error(err))
		} else {
			logger = bridged
		}
	}

	return &app{
		cfg:       cfg,
		loader:    loader,
		logCfg:    logCfg,
		logger:    logger,
		telemetry: tm,
		base:      base,
	}, nil
}

func loadLoggingConfig(loader *config.Loader) (*logging.Config, error) {
	logCfg := logging.NewDefaultConfig()
	if err := loader.Unmarshal("logging", logCfg); err != nil {
		return nil, err
	}
	if err := logCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	return logCfg, nil
}

// loadTelemetryConfig decodes the telemetry section. The application-wide
// environment applies unless telemetry.environment is set explicitly.
// Validation is left to telemetry.New, which degrades instead of failing.
func loadTelemetryConfig(loader *config.Loader, cfg *config.Config) (*telemetry.Config, error) {
	telCfg := telemetry.NewDefaultConfig()
	if err := loader.Unmarshal("telemetry", telCfg); err != nil {
		return nil, err
	}
	if loader.String("telemetry.environment") == "" {
		telCfg.Environment = cfg.Environment
	}
	return telCfg, nil
}

// watchLogLevel reloads logging.level whenever the config file changes.
func (a *app) watchLogLevel(ctx context.Context) {
	path := a.loader.Path()
	if _, err := os.Stat(path); err != nil {
		// The default location is watched even before the file exists, so a
		// config written later is picked up without a restart.
		def, derr := config.DefaultPath()
		if derr != nil || path != def {
			a.logger.Debug(ctx, "config file not present, level reload disabled", zap.String("path", path))
			return
		}
		if err := config.EnsureConfigDir(); err != nil {
			a.logger.Warn(ctx, "config directory unavailable, level reload disabled", zap.Error(err))
			return
		}
	}

	reload := func() {
		loader, err := config.NewLoader(path)
		if err != nil {
			a.logger.Warn(ctx, "config reload failed", zap.Error(err))
			return
		}
		logCfg, err := loadLoggingConfig(loader)
		if err != nil {
			a.logger.Warn(ctx, "config reload failed", zap.Error(err))
			return
		}
		if next := logCfg.Level.Zap(); next != a.logger.Level() {
			a.logger.Info(ctx, "log level changed",
				zap.String("from", logging.LevelName(a.logger.Level())),
				zap.String("to", logging.LevelName(next)))
			a.logger.SetLevel(next)
			a.base.SetLevel(next)
		}
	}
	onErr := func(err error) {
		a.logger.Warn(ctx, "config watcher error", zap.Error(err))
	}

	if err := config.Watch(ctx, path, reload, onErr); err != nil {
		a.logger.Warn(ctx, "failed to watch config file", zap.Error(err))
	}
}

// Close flushes and shuts down telemetry, then syncs the logger.
func (a *app) Close(ctx context.Context) error {
	err := a.telemetry.Shutdown(ctx)
	if syncErr := a.logger.Sync(); syncErr != nil {
		err = errors.Join(err, syncErr)
	}
	if a.base != a.logger {
		if syncErr := a.base.Sync(); syncErr != nil {
			err = errors.Join(err, syncErr)
		}
	}
	return err
}
