package gattserver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type AdvertisingState int

const (
	AdvertisingStopped AdvertisingState = iota
	AdvertisingStarting
	Advertising
	AdvertisingFailed
)

func (s AdvertisingState) String() string {
	switch s {
	case AdvertisingStopped:
		return "stopped"
	case AdvertisingStarting:
		return "starting"
	case Advertising:
		return "advertising"
	case AdvertisingFailed:
		return "failed"
	default:
		return fmt.Sprintf("advertising(%d)", int(s))
	}
}

// Advertiser drives the advertising lifecycle of the service UUID. It is
// independent of the Server and is the AdvertiseCallback it registers.
type Advertiser struct {
	logger      *slog.Logger
	le          LeAdvertiser
	serviceUUID uuid.UUID

	mu      sync.Mutex
	state   AdvertisingState
	failure error
}

var _ AdvertiseCallback = (*Advertiser)(nil)

func NewAdvertiser(le LeAdvertiser, serviceUUID uuid.UUID, logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{
		logger:      logger.With("component", "advertiser"),
		le:          le,
		serviceUUID: serviceUUID,
	}
}

// Settings returns the fixed advertise parameters.
func (a *Advertiser) Settings() (AdvertiseSettings, AdvertiseData) {
	settings := AdvertiseSettings{
		Mode:        AdvertiseModeBalanced,
		Connectable: true,
		Timeout:     0,
		TxPower:     TxPowerMedium,
	}
	data := AdvertiseData{
		IncludeDeviceName:   true,
		IncludeTxPowerLevel: false,
		ServiceUUIDs:        []uuid.UUID{a.serviceUUID},
	}
	return settings, data
}

// Start requests advertising. The outcome arrives through OnStartSuccess
// or OnStartFailure. A start while starting or advertising is ignored.
func (a *Advertiser) Start() {
	a.mu.Lock()
	if a.state == AdvertisingStarting || a.state == Advertising {
		a.mu.Unlock()
		return
	}
	a.state = AdvertisingStarting
	a.failure = nil
	a.mu.Unlock()

	settings, data := a.Settings()
	a.le.StartAdvertising(settings, data, a)
}

// Stop cancels advertising. Safe to call in any state.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	prev := a.state
	a.state = AdvertisingStopped
	a.failure = nil
	a.mu.Unlock()

	if prev == AdvertisingStopped {
		a.logger.Debug("advertising already stopped")
	}
	a.le.StopAdvertising(a)
}

// State returns the current state and, when failed, the failure.
func (a *Advertiser) State() (AdvertisingState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.failure
}

func (a *Advertiser) OnStartSuccess(settingsInEffect AdvertiseSettings) {
	a.mu.Lock()
	if a.state != AdvertisingStarting {
		a.mu.Unlock()
		return
	}
	a.state = Advertising
	a.mu.Unlock()

	a.logger.Info("advertising started",
		"service", a.serviceUUID.String(),
		"mode", settingsInEffect.Mode.String(),
		"tx_power_dbm", settingsInEffect.TxPower.DBm(),
	)
}

// OnStartFailure leaves the advertiser in AdvertisingFailed. There is no
// automatic retry.
func (a *Advertiser) OnStartFailure(errorCode int) {
	err := &AdvertiseError{Code: errorCode}

	a.mu.Lock()
	if a.state != AdvertisingStarting {
		a.mu.Unlock()
		return
	}
	a.state = AdvertisingFailed
	a.failure = err
	a.mu.Unlock()

	a.logger.Error("advertising failed", "code", errorCode, "reason", err.Reason())
}
