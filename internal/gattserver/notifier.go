package gattserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"cloudpico-bridge/internal/ess"
	"cloudpico-bridge/internal/telemetry"
)

// Notifier encodes readings, caches them for reads and pushes them to every
// subscribed device. It is the BLE telemetry.Sink.
type Notifier struct {
	logger    *slog.Logger
	server    *Server
	transport Transport
}

var _ telemetry.Sink = (*Notifier)(nil)

func NewNotifier(server *Server, t Transport, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger:    logger.With("component", "gatt_notifier"),
		server:    server,
		transport: t,
	}
}

// Encode maps a reading onto its characteristic and wire value.
func Encode(r telemetry.Reading) (uuid.UUID, []byte, error) {
	switch r.Kind {
	case telemetry.Temperature:
		b := ess.EncodeTemperature(r.Value)
		return ess.TemperatureUUID, b[:], nil
	case telemetry.Pressure:
		b := ess.EncodePressure(r.Value)
		return ess.PressureUUID, b[:], nil
	default:
		return uuid.Nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, r.Kind)
	}
}

// Publish never fails because of a single device: send errors are logged
// and delivery continues with the next subscriber.
func (n *Notifier) Publish(ctx context.Context, r telemetry.Reading) error {
	characteristic, value, err := Encode(r)
	if err != nil {
		return err
	}

	devices := n.server.Registry().Publish(characteristic, value)
	if len(devices) == 0 {
		return nil
	}

	svc := n.server.Service()
	if svc == nil || svc.Characteristic(characteristic) == nil {
		return nil
	}

	delivered := 0
	for _, dev := range devices {
		if err := n.transport.NotifyCharacteristicChanged(dev, characteristic, value, false); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ErrNotSubscribed) {
				level = slog.LevelDebug
			}
			n.logger.Log(ctx, level, "notify failed",
				"device", dev.ID(),
				"characteristic", characteristic.String(),
				"err", err,
			)
			continue
		}
		delivered++
	}

	n.logger.Debug("notified subscribers",
		"kind", r.Kind.String(),
		"value", fmt.Sprintf("% x", value),
		"delivered", delivered,
		"subscribers", len(devices),
	)
	return nil
}
