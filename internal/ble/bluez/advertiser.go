// Package bluez drives a BlueZ adapter through tinygo.org/x/bluetooth.
//
// It provides an LeAdvertiser for the gatt server and a Mirror sink that
// keeps a BlueZ-hosted copy of the Environmental Sensing Service up to
// date. In the mirror deployment BlueZ itself answers reads and manages
// client configuration descriptors.
package bluez

import (
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"cloudpico-bridge/internal/gattserver"
)

type advertisement interface {
	Configure(options bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// Advertiser implements gattserver.LeAdvertiser on a BlueZ advertisement.
type Advertiser struct {
	logger *slog.Logger
	name   string
	adv    advertisement

	mu      sync.Mutex
	started bool
}

var _ gattserver.LeAdvertiser = (*Advertiser)(nil)

func newAdvertiser(name string, adv advertisement, logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{
		logger: logger.With("component", "bluez_advertiser"),
		name:   name,
		adv:    adv,
	}
}

func (a *Advertiser) StartAdvertising(settings gattserver.AdvertiseSettings, data gattserver.AdvertiseData, cb gattserver.AdvertiseCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		cb.OnStartFailure(gattserver.AdvertiseFailedAlreadyStarted)
		return
	}

	if err := a.adv.Configure(advertisementOptions(a.name, settings, data)); err != nil {
		a.logger.Warn("configure advertisement", "err", err)
		cb.OnStartFailure(gattserver.AdvertiseFailedDataTooLarge)
		return
	}
	if err := a.adv.Start(); err != nil {
		a.logger.Warn("start advertisement", "err", err)
		cb.OnStartFailure(gattserver.AdvertiseFailedInternalError)
		return
	}

	a.started = true
	cb.OnStartSuccess(settings)
}

func (a *Advertiser) StopAdvertising(gattserver.AdvertiseCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return
	}
	if err := a.adv.Stop(); err != nil {
		a.logger.Debug("stop advertisement", "err", err)
	}
	a.started = false
}

func advertisementOptions(name string, settings gattserver.AdvertiseSettings, data gattserver.AdvertiseData) bluetooth.AdvertisementOptions {
	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		Interval:          bluetooth.NewDuration(settings.Mode.Interval()),
	}
	if settings.Connectable {
		opts.AdvertisementType = bluetooth.AdvertisingTypeInd
	}
	if data.IncludeDeviceName {
		opts.LocalName = name
	}
	for _, u := range data.ServiceUUIDs {
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, bluetooth.NewUUID(u))
	}
	return opts
}
