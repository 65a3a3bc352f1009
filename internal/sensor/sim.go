package sensor

import (
	"sync"

	"periph.io/x/conn/v3/physic"

	"cloudpico-bridge/internal/telemetry"
)

// SimKinds are the quantities produced by Sim.
var SimKinds = []telemetry.Kind{telemetry.Temperature, telemetry.Pressure, telemetry.Humidity}

// Sim is a deterministic Device for development without hardware. Each
// sample steps the values along a short saw tooth.
type Sim struct {
	mu   sync.Mutex
	step int
}

func (s *Sim) Sense(env *physic.Env) error {
	s.mu.Lock()
	n := s.step % 10
	s.step++
	s.mu.Unlock()

	env.Temperature = physic.ZeroCelsius + 21*physic.Celsius + physic.Temperature(n)*50*physic.MilliKelvin
	env.Pressure = 101325*physic.Pascal + physic.Pressure(n)*10*physic.Pascal
	env.Humidity = 40*physic.PercentRH + physic.RelativeHumidity(n)*physic.PercentRH
	return nil
}

func (s *Sim) Halt() error { return nil }
