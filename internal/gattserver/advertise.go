package gattserver

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AdvertiseMode int

const (
	AdvertiseModeLowPower AdvertiseMode = iota
	AdvertiseModeBalanced
	AdvertiseModeLowLatency
)

// Interval is the nominal advertising interval of the mode.
func (m AdvertiseMode) Interval() time.Duration {
	switch m {
	case AdvertiseModeLowLatency:
		return 100 * time.Millisecond
	case AdvertiseModeBalanced:
		return 250 * time.Millisecond
	default:
		return time.Second
	}
}

func (m AdvertiseMode) String() string {
	switch m {
	case AdvertiseModeLowPower:
		return "low_power"
	case AdvertiseModeBalanced:
		return "balanced"
	case AdvertiseModeLowLatency:
		return "low_latency"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type TxPowerLevel int

const (
	TxPowerUltraLow TxPowerLevel = iota // -21 dBm
	TxPowerLow                          // -15 dBm
	TxPowerMedium                       // -7 dBm
	TxPowerHigh                         // 1 dBm
)

// DBm returns the nominal output power of the level.
func (l TxPowerLevel) DBm() int {
	switch l {
	case TxPowerUltraLow:
		return -21
	case TxPowerLow:
		return -15
	case TxPowerHigh:
		return 1
	default:
		return -7
	}
}

type AdvertiseSettings struct {
	Mode        AdvertiseMode
	Connectable bool
	Timeout     time.Duration // 0 = no timeout
	TxPower     TxPowerLevel
}

type AdvertiseData struct {
	IncludeDeviceName   bool
	IncludeTxPowerLevel bool
	ServiceUUIDs        []uuid.UUID
}

// Advertise failure codes.
const (
	AdvertiseFailedDataTooLarge       = 1
	AdvertiseFailedTooManyAdvertisers = 2
	AdvertiseFailedAlreadyStarted     = 3
	AdvertiseFailedInternalError      = 4
	AdvertiseFailedFeatureUnsupported = 5
)

// AdvertiseError carries the failure code reported by the advertiser.
type AdvertiseError struct {
	Code int
}

func (e *AdvertiseError) Error() string {
	return fmt.Sprintf("advertise failed: %s (code %d)", e.Reason(), e.Code)
}

func (e *AdvertiseError) Reason() string {
	switch e.Code {
	case AdvertiseFailedDataTooLarge:
		return "data too large"
	case AdvertiseFailedTooManyAdvertisers:
		return "too many advertisers"
	case AdvertiseFailedAlreadyStarted:
		return "already started"
	case AdvertiseFailedInternalError:
		return "internal error"
	case AdvertiseFailedFeatureUnsupported:
		return "feature unsupported"
	default:
		return "unknown"
	}
}

// AdvertiseCallback receives the asynchronous outcome of StartAdvertising.
type AdvertiseCallback interface {
	OnStartSuccess(settingsInEffect AdvertiseSettings)
	OnStartFailure(errorCode int)
}

// LeAdvertiser is the advertising half of a BLE stack. StartAdvertising
// returns immediately and reports through cb.
type LeAdvertiser interface {
	StartAdvertising(settings AdvertiseSettings, data AdvertiseData, cb AdvertiseCallback)
	StopAdvertising(cb AdvertiseCallback)
}
