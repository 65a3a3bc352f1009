// Package board maps supported single board computers to the I2C bus the
// environmental sensor is wired to.
package board

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupportedBoard = errors.New("unsupported board")

// Bus is an I2C bus name as registered by periph's i2creg.
type Bus string

const (
	I2C1 Bus = "I2C1"
	I2C2 Bus = "I2C2"
)

var buses = map[string]Bus{
	"rpi3":        I2C1,
	"imx7d_pico":  I2C1,
	"imx6ul_pico": I2C2,
}

// ResolveI2CBus returns the sensor bus for boardID.
func ResolveI2CBus(boardID string) (Bus, error) {
	bus, ok := buses[boardID]
	if !ok {
		return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedBoard, boardID, strings.Join(Supported(), ", "))
	}
	return bus, nil
}

// Supported lists the known board identifiers in sorted order.
func Supported() []string {
	ids := make([]string, 0, len(buses))
	for id := range buses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
