package bluez

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"cloudpico-bridge/internal/gattserver"
	"cloudpico-bridge/internal/telemetry"
)

type valueWriter interface {
	Write(p []byte) (int, error)
}

// Mirror is a telemetry.Sink writing encoded readings into BlueZ-hosted
// characteristics. BlueZ notifies subscribed centrals on each write.
type Mirror struct {
	logger *slog.Logger
	chars  map[uuid.UUID]valueWriter
}

var _ telemetry.Sink = (*Mirror)(nil)

func (m *Mirror) Publish(_ context.Context, r telemetry.Reading) error {
	characteristic, value, err := gattserver.Encode(r)
	if err != nil {
		return err
	}

	w, ok := m.chars[characteristic]
	if !ok {
		return nil
	}
	if _, err := w.Write(value); err != nil {
		return fmt.Errorf("bluez write %s: %w", characteristic, err)
	}

	m.logger.Debug("mirrored value", "kind", r.Kind.String(), "value", fmt.Sprintf("% x", value))
	return nil
}
