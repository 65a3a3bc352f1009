package telemetry

import (
	"fmt"
	"time"
)

// Kind identifies the physical quantity a Reading carries.
type Kind int

const (
	Temperature Kind = iota + 1
	Pressure
	Humidity
)

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case Pressure:
		return "pressure"
	case Humidity:
		return "humidity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reading is a single sensor sample. Temperature is in °C, pressure in hPa
// and humidity in %RH.
type Reading struct {
	Kind  Kind      `json:"kind"`
	Value float32   `json:"value"`
	At    time.Time `json:"at"`
}
