// Package sensor samples a combined environment sensor on a fixed period
// and hands per-quantity readings to registered listeners.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"cloudpico-bridge/internal/telemetry"
)

var ErrSensorIO = errors.New("sensor i/o error")

// Device is an environment sensor. *bmxx80.Dev satisfies it.
type Device interface {
	Sense(env *physic.Env) error
	Halt() error
}

// Source is what the application consumes from the sensor side.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	OnSensorConnected(fn func(telemetry.Kind))
	Listen(kind telemetry.Kind, fn func(telemetry.Reading))
}

// Poller is a ticker driven Source over a Device.
type Poller struct {
	logger   *slog.Logger
	dev      Device
	kinds    []telemetry.Kind
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	listeners map[telemetry.Kind][]func(telemetry.Reading)
	connected []func(telemetry.Kind)
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Source = (*Poller)(nil)

func NewPoller(dev Device, kinds []telemetry.Kind, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		logger:    logger.With("component", "sensor"),
		dev:       dev,
		kinds:     kinds,
		interval:  interval,
		now:       time.Now,
		listeners: make(map[telemetry.Kind][]func(telemetry.Reading)),
	}
}

// OnSensorConnected registers fn to be told which quantities the device
// provides. It fires once per kind on Start.
func (p *Poller) OnSensorConnected(fn func(telemetry.Kind)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = append(p.connected, fn)
}

func (p *Poller) Listen(kind telemetry.Kind, fn func(telemetry.Reading)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners[kind] = append(p.listeners[kind], fn)
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return errors.New("sensor already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	connected := slices.Clone(p.connected)
	p.mu.Unlock()

	for _, k := range p.kinds {
		for _, fn := range connected {
			fn(k)
		}
	}

	p.logger.Info("sensor polling started", "interval", p.interval.String(), "kinds", len(p.kinds))
	go p.run(ctx)
	return nil
}

// Stop ends polling and halts the device.
func (p *Poller) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	if err := p.dev.Halt(); err != nil {
		return fmt.Errorf("%w: halt: %v", ErrSensorIO, err)
	}
	p.logger.Info("sensor polling stopped")
	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *Poller) sample() {
	var env physic.Env
	if err := p.dev.Sense(&env); err != nil {
		p.logger.Warn("sense failed", "err", fmt.Errorf("%w: %v", ErrSensorIO, err))
		return
	}

	at := p.now()
	for _, k := range p.kinds {
		r := telemetry.Reading{Kind: k, Value: value(k, env), At: at}

		p.mu.Lock()
		fns := slices.Clone(p.listeners[k])
		p.mu.Unlock()

		for _, fn := range fns {
			fn(r)
		}
	}
}

func value(k telemetry.Kind, env physic.Env) float32 {
	switch k {
	case telemetry.Temperature:
		return float32(env.Temperature.Celsius())
	case telemetry.Pressure:
		// physic.Pressure is nano pascal
		return float32(float64(env.Pressure) / float64(100*physic.Pascal))
	case telemetry.Humidity:
		return float32(float64(env.Humidity) / float64(physic.PercentRH))
	default:
		return 0
	}
}
