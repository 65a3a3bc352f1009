// Package ess describes the Environmental Sensing Service subset exposed by
// the bridge: UUIDs, the static GATT topology and the characteristic value
// encoding.
package ess

import (
	"github.com/google/uuid"
)

var (
	ServiceUUID      = uuid.MustParse("0000181a-0000-1000-8000-00805f9b34fb")
	TemperatureUUID  = uuid.MustParse("00002a6e-0000-1000-8000-00805f9b34fb")
	PressureUUID     = uuid.MustParse("00002a6d-0000-1000-8000-00805f9b34fb")
	ClientConfigUUID = uuid.MustParse("00002902-0000-1000-8000-00805f9b34fb")
)

// Client Characteristic Configuration values.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)

// Property is a GATT characteristic property bit.
type Property uint8

const (
	PropertyRead   Property = 0x02
	PropertyNotify Property = 0x10
)

// Permission is an attribute access permission bit.
type Permission uint16

const (
	PermissionRead  Permission = 0x01
	PermissionWrite Permission = 0x10
)

type Descriptor struct {
	UUID        uuid.UUID
	Permissions Permission
}

type Characteristic struct {
	UUID        uuid.UUID
	Properties  Property
	Permissions Permission
	Descriptors []*Descriptor
}

// Notifiable reports whether the characteristic supports notifications.
func (c *Characteristic) Notifiable() bool {
	return c.Properties&PropertyNotify != 0
}

// Descriptor returns the descriptor with the given UUID, or nil.
func (c *Characteristic) Descriptor(u uuid.UUID) *Descriptor {
	for _, d := range c.Descriptors {
		if d.UUID == u {
			return d
		}
	}
	return nil
}

// Service is the static description of one primary GATT service.
type Service struct {
	UUID            uuid.UUID
	Primary         bool
	Characteristics []*Characteristic
}

// Characteristic returns the characteristic with the given UUID, or nil.
func (s *Service) Characteristic(u uuid.UUID) *Characteristic {
	for _, c := range s.Characteristics {
		if c.UUID == u {
			return c
		}
	}
	return nil
}

// HasDescriptor reports whether any characteristic carries a descriptor
// with the given UUID.
func (s *Service) HasDescriptor(u uuid.UUID) bool {
	for _, c := range s.Characteristics {
		if c.Descriptor(u) != nil {
			return true
		}
	}
	return false
}

type options struct {
	pressure bool
}

type Option func(*options)

// WithPressure controls whether the Pressure characteristic is part of the
// service. It is included by default; the temperature-only shape is a
// deployment option.
func WithPressure(enabled bool) Option {
	return func(o *options) { o.pressure = enabled }
}

// BuildService returns a fresh descriptor of the Environmental Sensing
// Service. Every call yields a new value with identical shape.
func BuildService(opts ...Option) *Service {
	o := options{pressure: true}
	for _, opt := range opts {
		opt(&o)
	}

	svc := &Service{
		UUID:    ServiceUUID,
		Primary: true,
		Characteristics: []*Characteristic{
			newSensorCharacteristic(TemperatureUUID),
		},
	}
	if o.pressure {
		svc.Characteristics = append(svc.Characteristics, newSensorCharacteristic(PressureUUID))
	}
	return svc
}

func newSensorCharacteristic(u uuid.UUID) *Characteristic {
	return &Characteristic{
		UUID:        u,
		Properties:  PropertyRead | PropertyNotify,
		Permissions: PermissionRead,
		Descriptors: []*Descriptor{
			{UUID: ClientConfigUUID, Permissions: PermissionRead | PermissionWrite},
		},
	}
}

// ZeroValue returns the default cached value of a sensor characteristic
// before any reading has been published.
func ZeroValue(characteristic uuid.UUID) []byte {
	switch characteristic {
	case TemperatureUUID:
		return make([]byte, 2)
	case PressureUUID:
		return make([]byte, 4)
	default:
		return nil
	}
}
