package sensor

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"cloudpico-bridge/internal/board"
	"cloudpico-bridge/internal/telemetry"
)

type bmxDevice struct {
	*bmxx80.Dev
	bus i2c.BusCloser
}

func (d *bmxDevice) Halt() error {
	err := d.Dev.Halt()
	if cerr := d.bus.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenBMxx80 opens a BME280 or BMP280 on bus at addr and reports the
// quantities it measures.
func OpenBMxx80(bus board.Bus, addr uint16) (Device, []telemetry.Kind, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("%w: host.Init: %v", ErrSensorIO, err)
	}

	b, err := i2creg.Open(string(bus))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: i2creg.Open(%s): %v", ErrSensorIO, bus, err)
	}

	dev, err := bmxx80.NewI2C(b, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = b.Close()
		return nil, nil, fmt.Errorf("%w: bmxx80.NewI2C(%#x): %v", ErrSensorIO, addr, err)
	}

	kinds := []telemetry.Kind{telemetry.Temperature, telemetry.Pressure}
	if hasHumidity(dev.String()) {
		kinds = append(kinds, telemetry.Humidity)
	}
	return &bmxDevice{Dev: dev, bus: b}, kinds, nil
}

// hasHumidity reports whether a device description such as
// "BME280{playground(118)}" names a chip with a humidity sensor.
func hasHumidity(desc string) bool {
	return strings.HasPrefix(desc, "BME280")
}
