//go:build !linux

package hci

import (
	"errors"
	"log/slog"

	"cloudpico-bridge/internal/gattserver"
)

var ErrUnsupportedPlatform = errors.New("hci transport requires linux")

type Config struct {
	Name     string
	DeviceID int
	Mode     gattserver.AdvertiseMode
}

func Open(Config, *slog.Logger) (*Transport, error) {
	return nil, ErrUnsupportedPlatform
}
