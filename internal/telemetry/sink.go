package telemetry

import (
	"context"
	"errors"
	"log/slog"
)

// Sink consumes readings. Implementations: the BLE notifier, the BlueZ
// mirror, the MQTT publisher and the cloud sync queue.
type Sink interface {
	Publish(ctx context.Context, r Reading) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Reading) error

func (f SinkFunc) Publish(ctx context.Context, r Reading) error { return f(ctx, r) }

type namedSink struct {
	name string
	sink Sink
}

// Fanout delivers each reading to every registered sink in order.
// A failing sink is logged and does not stop delivery to the others.
type Fanout struct {
	logger *slog.Logger
	sinks  []namedSink
}

func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{logger: logger}
}

// Add registers a sink under name. Not safe to call concurrently with Publish.
func (f *Fanout) Add(name string, s Sink) {
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
}

func (f *Fanout) Len() int { return len(f.sinks) }

// Publish returns the joined errors of all failing sinks.
func (f *Fanout) Publish(ctx context.Context, r Reading) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.sink.Publish(ctx, r); err != nil {
			f.logger.Warn("sink publish failed",
				"sink", s.name,
				"kind", r.Kind.String(),
				"value", r.Value,
				"err", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
