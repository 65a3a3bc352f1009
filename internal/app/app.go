package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cloudpico-bridge/internal/board"
	"cloudpico-bridge/internal/config"
	"cloudpico-bridge/internal/httpapi"
	"cloudpico-bridge/internal/sensor"
	"cloudpico-bridge/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// openSensor is replaced in tests.
var openSensor = func(cfg config.Config, bus board.Bus) (sensor.Device, []telemetry.Kind, error) {
	if cfg.SensorDriver == config.SensorDriverSim {
		return &sensor.Sim{}, sensor.SimKinds, nil
	}
	return sensor.OpenBMxx80(bus, cfg.BME280Address)
}

func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()

	bus, err := board.ResolveI2CBus(cfg.Board)
	if err != nil {
		return err
	}

	logger.Info("initializing bridge",
		"board", cfg.Board,
		"i2c_bus", string(bus),
		"sensor_driver", cfg.SensorDriver,
		"sinks", cfg.Sinks,
	)

	out, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer out.shutdown()

	// The sensor stops before any sink.
	if src := startSensor(ctx, cfg, bus, out.fanout, logger); src != nil {
		defer func() {
			if err := src.Stop(); err != nil {
				logger.Warn("sensor stop failed", "err", err)
			}
		}()
	}

	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(out.deps), logger)
		go func() {
			logger.Info("http listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "err", err)
			}
		}()
	}

	<-ctx.Done()

	logger.Info("bridge shutting down")
	return nil
}

// startSensor opens and starts the sensor, forwarding temperature and
// pressure readings to sink. Without a sensor the bridge keeps running
// with its outputs idle, so failures are logged and nil is returned.
func startSensor(ctx context.Context, cfg config.Config, bus board.Bus, sink telemetry.Sink, logger *slog.Logger) sensor.Source {
	dev, kinds, err := openSensor(cfg, bus)
	if err != nil {
		logger.Warn("sensor could not be initialized; bridge continues without readings",
			"driver", cfg.SensorDriver,
			"bus", string(bus),
			"error", err,
		)
		return nil
	}

	src := sensor.NewPoller(dev, kinds, cfg.SensorPollInterval, logger)
	src.OnSensorConnected(func(k telemetry.Kind) {
		if k != telemetry.Temperature && k != telemetry.Pressure {
			return
		}
		src.Listen(k, func(r telemetry.Reading) {
			// Fanout logs per-sink failures itself.
			_ = sink.Publish(ctx, r)
		})
	})

	if err := src.Start(ctx); err != nil {
		logger.Warn("sensor could not be started", "error", err)
		_ = dev.Halt()
		return nil
	}
	return src
}
