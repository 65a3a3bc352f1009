package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"cloudpico-bridge/internal/ble/bluez"
	"cloudpico-bridge/internal/ble/hci"
	"cloudpico-bridge/internal/cloudsync"
	"cloudpico-bridge/internal/config"
	"cloudpico-bridge/internal/db"
	"cloudpico-bridge/internal/db/migrate"
	"cloudpico-bridge/internal/ess"
	"cloudpico-bridge/internal/gattserver"
	"cloudpico-bridge/internal/httpapi"
	"cloudpico-bridge/internal/mqtt"
	"cloudpico-bridge/internal/repository"
	"cloudpico-bridge/internal/telemetry"
)

const cloudSyncQueueSize = 64

// sinks holds every running output. Shutdown order is the reverse of the
// order the stop functions were added in.
type sinks struct {
	logger *slog.Logger
	fanout *telemetry.Fanout
	deps   httpapi.Deps
	stops  []func()
}

func (s *sinks) onStop(fn func()) { s.stops = append(s.stops, fn) }

func (s *sinks) shutdown() {
	for i := len(s.stops) - 1; i >= 0; i-- {
		s.stops[i]()
	}
	s.stops = nil
}

// openSinks starts the outputs selected in cfg. A selected BLE sink without
// a usable controller is fatal, as is a broken cloud store.
func openSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sinks, error) {
	s := &sinks{
		logger: logger,
		fanout: telemetry.NewFanout(logger),
		deps:   httpapi.Deps{Sinks: cfg.Sinks},
	}

	steps := []struct {
		sink string
		open func() error
	}{
		{config.SinkGATT, func() error { return s.openGATT(cfg) }},
		{config.SinkBlueZ, func() error { return s.openBlueZ(cfg) }},
		{config.SinkMQTT, func() error { return s.openMQTT(ctx, cfg) }},
		{config.SinkCloud, func() error { return s.openCloud(ctx, cfg) }},
	}
	for _, step := range steps {
		if !cfg.HasSink(step.sink) {
			continue
		}
		if err := step.open(); err != nil {
			s.shutdown()
			return nil, fmt.Errorf("%s sink: %w", step.sink, err)
		}
		logger.Info("sink ready", "sink", step.sink)
	}
	return s, nil
}

func (s *sinks) openGATT(cfg config.Config) error {
	transport, err := hci.Open(hci.Config{
		Name:     cfg.BLEDeviceName,
		DeviceID: cfg.BLEHCIDevice,
		Mode:     gattserver.AdvertiseModeBalanced,
	}, s.logger)
	if err != nil {
		return err
	}

	server := gattserver.NewServer(transport, gattserver.NewRegistry(), s.logger, ess.WithPressure(cfg.BLEPressure))
	if err := server.Start(); err != nil {
		_ = transport.Shutdown()
		return err
	}
	advertiser := gattserver.NewAdvertiser(transport, ess.ServiceUUID, s.logger)
	advertiser.Start()

	s.onStop(func() {
		if err := transport.Shutdown(); err != nil {
			s.logger.Warn("hci device stop failed", "err", err)
		}
	})
	// The server and the advertiser go down together.
	s.onStop(func() {
		server.Stop()
		advertiser.Stop()
	})

	s.fanout.Add(config.SinkGATT, gattserver.NewNotifier(server, transport, s.logger))
	s.deps.GATT = server
	s.deps.Advertiser = advertiser
	return nil
}

func (s *sinks) openBlueZ(cfg config.Config) error {
	adapter, err := bluez.Open(bluez.Options{Adapter: cfg.BLEAdapter, Name: cfg.BLEDeviceName}, s.logger)
	if err != nil {
		return err
	}
	mirror, err := adapter.Mirror(ess.BuildService(ess.WithPressure(cfg.BLEPressure)))
	if err != nil {
		return err
	}
	advertiser := gattserver.NewAdvertiser(adapter.Advertiser(), ess.ServiceUUID, s.logger)
	advertiser.Start()
	s.onStop(advertiser.Stop)

	s.fanout.Add(config.SinkBlueZ, mirror)
	s.deps.Advertiser = advertiser
	return nil
}

func (s *sinks) openMQTT(ctx context.Context, cfg config.Config) error {
	client, err := mqtt.NewClient(mqtt.Options{
		Broker:     cfg.MQTTBroker,
		Port:       cfg.MQTTPort,
		ClientID:   cfg.MQTTClientID,
		Username:   cfg.MQTTUsername,
		Password:   cfg.MQTTPassword,
		BufferSize: cfg.MQTTBufferSize,
	}, mqtt.Callbacks{}, s.logger)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}

	go func() {
		// Readings are buffered until the broker is reachable.
		if err := client.Connect(ctx); err != nil {
			s.logger.Error("mqtt connect failed", "error", err)
		}
	}()
	s.onStop(client.Disconnect)

	s.fanout.Add(config.SinkMQTT, client)
	s.deps.MQTT = client
	return nil
}

func (s *sinks) openCloud(ctx context.Context, cfg config.Config) error {
	conn, err := db.Open(cfg, s.logger)
	if err != nil {
		return err
	}
	s.onStop(func() { closeDB(conn, s.logger) })

	if _, err := migrate.Run(ctx, conn, s.logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	repo := repository.NewRepository(conn)
	worker := cloudsync.NewWorker(repo, cloudsync.Options{
		QueueSize:   cloudSyncQueueSize,
		MaxAttempts: cfg.CloudSyncMaxAttempts,
		RetryDelay:  cfg.CloudSyncRetryDelay,
	}, s.logger)
	if err := worker.Start(ctx); err != nil {
		return err
	}
	s.onStop(worker.Stop)

	s.fanout.Add(config.SinkCloud, worker)
	s.deps.DB = conn
	s.deps.Cloud = worker
	s.deps.Readings = repo
	return nil
}

func closeDB(conn *sql.DB, logger *slog.Logger) {
	if err := db.Close(conn); err != nil {
		logger.Error("db close", "err", err)
	}
}
