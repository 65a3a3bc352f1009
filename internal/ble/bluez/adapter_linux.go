//go:build linux

package bluez

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"cloudpico-bridge/internal/ess"
)

type Options struct {
	Adapter string // "hci0" by default
	Name    string
}

// Adapter is an enabled BlueZ adapter.
type Adapter struct {
	adapter *bluetooth.Adapter
	opts    Options
	logger  *slog.Logger
}

func Open(opts Options, logger *slog.Logger) (*Adapter, error) {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := bluetooth.NewAdapter(opts.Adapter)
	if err := a.Enable(); err != nil {
		return nil, fmt.Errorf("ble enable (%s): %w", opts.Adapter, err)
	}
	logger.Info("ble: adapter enabled", "adapter", opts.Adapter)

	return &Adapter{adapter: a, opts: opts, logger: logger}, nil
}

func (a *Adapter) Advertiser() *Advertiser {
	return newAdvertiser(a.opts.Name, a.adapter.DefaultAdvertisement(), a.logger)
}

// Mirror registers svc with BlueZ and returns the sink that updates it.
func (a *Adapter) Mirror(svc *ess.Service) (*Mirror, error) {
	bs, handles := bluezService(svc)
	if err := a.adapter.AddService(bs); err != nil {
		return nil, fmt.Errorf("bluez add service %s: %w", svc.UUID, err)
	}

	chars := make(map[uuid.UUID]valueWriter, len(handles))
	for u, h := range handles {
		chars[u] = h
	}
	return &Mirror{
		logger: a.logger.With("component", "bluez_mirror"),
		chars:  chars,
	}, nil
}

// bluezService converts svc to the tinygo service definition. The returned
// handles are filled in by AddService.
func bluezService(svc *ess.Service) (*bluetooth.Service, map[uuid.UUID]*bluetooth.Characteristic) {
	handles := make(map[uuid.UUID]*bluetooth.Characteristic, len(svc.Characteristics))
	out := &bluetooth.Service{UUID: bluetooth.NewUUID(svc.UUID)}

	for _, c := range svc.Characteristics {
		h := &bluetooth.Characteristic{}
		handles[c.UUID] = h

		var flags bluetooth.CharacteristicPermissions
		if c.Properties&ess.PropertyRead != 0 {
			flags |= bluetooth.CharacteristicReadPermission
		}
		if c.Notifiable() {
			flags |= bluetooth.CharacteristicNotifyPermission
		}

		out.Characteristics = append(out.Characteristics, bluetooth.CharacteristicConfig{
			Handle: h,
			UUID:   bluetooth.NewUUID(c.UUID),
			Value:  ess.ZeroValue(c.UUID),
			Flags:  flags,
		})
	}
	return out, handles
}
