//go:build linux

package hci

import (
	"fmt"
	"log/slog"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"

	"cloudpico-bridge/internal/gattserver"
)

type Config struct {
	Name     string
	DeviceID int // -1 selects the first available controller
	Mode     gattserver.AdvertiseMode
}

// Open opens the HCI controller. Requires CAP_NET_ADMIN and CAP_NET_RAW.
func Open(cfg Config, logger *slog.Logger) (*Transport, error) {
	opts := []ble.Option{ble.OptAdvParams(advParams(cfg.Mode))}
	if cfg.DeviceID >= 0 {
		opts = append(opts, ble.OptDeviceID(cfg.DeviceID))
	}

	dev, err := linux.NewDeviceWithName(cfg.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("open hci device %d: %w", cfg.DeviceID, err)
	}
	return newTransport(cfg.Name, dev, dev.HCI, logger), nil
}

// advParams is a connectable undirected advertising on all three channels
// at the nominal interval of mode.
func advParams(mode gattserver.AdvertiseMode) cmd.LESetAdvertisingParameters {
	// 0.625 ms units
	interval := uint16(mode.Interval().Microseconds() / 625)
	return cmd.LESetAdvertisingParameters{
		AdvertisingIntervalMin:  interval,
		AdvertisingIntervalMax:  interval,
		AdvertisingType:         0x00,
		OwnAddressType:          0x00,
		DirectAddressType:       0x00,
		AdvertisingChannelMap:   0x07,
		AdvertisingFilterPolicy: 0x00,
	}
}
