// Package gattserver implements the peripheral side of the Environmental
// Sensing bridge: request handling against the service definition,
// notification subscriptions, value fan-out and advertising lifecycle.
//
// The BLE stack itself is a collaborator reached through Transport and
// LeAdvertiser; events flow back through ServerCallback and
// AdvertiseCallback.
package gattserver

import (
	"github.com/google/uuid"

	"cloudpico-bridge/internal/ess"
)

// RemoteDevice is a connected peer as seen by the transport.
type RemoteDevice interface {
	// ID is stable for the lifetime of the connection.
	ID() string
}

// Status is an ATT response status.
type Status int

const (
	StatusSuccess Status = 0x00
	StatusFailure Status = 0x101
)

// ConnectionState values reported by OnConnectionStateChange.
type ConnectionState int

const (
	StateDisconnected ConnectionState = 0
	StateConnected    ConnectionState = 2
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ServerCallback receives GATT server events from the transport.
type ServerCallback interface {
	OnConnectionStateChange(dev RemoteDevice, status Status, newState ConnectionState)
	OnCharacteristicReadRequest(dev RemoteDevice, requestID, offset int, characteristic uuid.UUID)
	OnDescriptorReadRequest(dev RemoteDevice, requestID, offset int, descriptor uuid.UUID)
	OnDescriptorWriteRequest(dev RemoteDevice, requestID int, descriptor uuid.UUID, preparedWrite, responseNeeded bool, offset int, value []byte)
	OnNotificationSent(dev RemoteDevice, status Status)
	// OnNotifyStateChange is raised by stacks that own the client
	// configuration descriptor themselves and only report its effect.
	OnNotifyStateChange(dev RemoteDevice, characteristic uuid.UUID, enabled bool)
}

// Transport is the GATT server half of a BLE stack.
//
// SendResponse and NotifyCharacteristicChanged must not block on the remote
// peer; completion of a notification is reported via OnNotificationSent.
type Transport interface {
	Open(cb ServerCallback) error
	AddService(svc *ess.Service) error
	RemoveService(svc *ess.Service) error
	Close() error

	SendResponse(dev RemoteDevice, requestID int, status Status, offset int, value []byte) error
	NotifyCharacteristicChanged(dev RemoteDevice, characteristic uuid.UUID, value []byte, confirm bool) error
}
