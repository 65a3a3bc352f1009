//go:build !linux

package bluez

import (
	"errors"
	"log/slog"

	"cloudpico-bridge/internal/ess"
)

var ErrUnsupportedPlatform = errors.New("bluez adapter requires linux")

type Options struct {
	Adapter string
	Name    string
}

type Adapter struct{}

func Open(Options, *slog.Logger) (*Adapter, error) {
	return nil, ErrUnsupportedPlatform
}

func (a *Adapter) Advertiser() *Advertiser { return nil }

func (a *Adapter) Mirror(*ess.Service) (*Mirror, error) {
	return nil, ErrUnsupportedPlatform
}
