// Package hci is a Transport and LeAdvertiser over a raw HCI socket using
// github.com/go-ble/ble.
//
// The stack owns the client configuration descriptor: subscription
// changes arrive as OnNotifyStateChange and CCCD reads and writes never
// reach the server. Connections are learned from the first request of a
// peer and dropped when the link reports Disconnected.
package hci

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-ble/ble"
	"github.com/google/uuid"

	"cloudpico-bridge/internal/ess"
	"cloudpico-bridge/internal/gattserver"
)

var (
	ErrNoPendingRequest = errors.New("no pending request")
	ErrNotSubscribed    = gattserver.ErrNotSubscribed
)

// stack is the part of *linux.Device the transport needs.
type stack interface {
	AddService(svc *ble.Service) error
	RemoveAllServices() error
	Stop() error
}

// controller is the part of *hci.HCI used for advertising.
type controller interface {
	AdvertiseNameAndServices(name string, uuids ...ble.UUID) error
	StopAdvertising() error
}

type central struct {
	conn ble.Conn
}

func (c *central) ID() string { return c.conn.RemoteAddr().String() }

type subscriptionKey struct {
	device         string
	characteristic uuid.UUID
}

type Transport struct {
	logger *slog.Logger
	name   string
	stack  stack
	ctrl   controller

	mu        sync.Mutex
	cb        gattserver.ServerCallback
	nextID    int
	pending   map[int]ble.ResponseWriter
	centrals  map[string]*central
	notifiers map[subscriptionKey]ble.Notifier
}

var (
	_ gattserver.Transport    = (*Transport)(nil)
	_ gattserver.LeAdvertiser = (*Transport)(nil)
)

func newTransport(name string, s stack, c controller, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		logger:    logger.With("component", "hci"),
		name:      name,
		stack:     s,
		ctrl:      c,
		pending:   make(map[int]ble.ResponseWriter),
		centrals:  make(map[string]*central),
		notifiers: make(map[subscriptionKey]ble.Notifier),
	}
}

func (t *Transport) Open(cb gattserver.ServerCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = cb
	return nil
}

func (t *Transport) callback() gattserver.ServerCallback {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cb
}

func (t *Transport) AddService(svc *ess.Service) error {
	bs := ble.NewService(toBLE(svc.UUID))
	for _, c := range svc.Characteristics {
		u := c.UUID
		bc := bs.NewCharacteristic(toBLE(u))
		bc.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			t.serveRead(u, req, rsp)
		}))
		if c.Notifiable() {
			bc.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
				t.serveNotify(u, req, n)
			}))
		}
	}
	return t.stack.AddService(bs)
}

func (t *Transport) RemoveService(*ess.Service) error {
	return t.stack.RemoveAllServices()
}

// Close forgets the callback and every tracked peer. The HCI device stays
// open; Shutdown releases it.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = nil
	clear(t.pending)
	clear(t.centrals)
	clear(t.notifiers)
	return nil
}

// Shutdown stops the underlying device.
func (t *Transport) Shutdown() error {
	return t.stack.Stop()
}

func (t *Transport) SendResponse(dev gattserver.RemoteDevice, requestID int, status gattserver.Status, _ int, value []byte) error {
	t.mu.Lock()
	rsp, ok := t.pending[requestID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d from %s", ErrNoPendingRequest, requestID, dev.ID())
	}

	if status != gattserver.StatusSuccess {
		rsp.SetStatus(ble.ErrUnlikely)
		return nil
	}
	if _, err := rsp.Write(value); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// NotifyCharacteristicChanged queues a notification and returns. Delivery
// is reported through OnNotificationSent.
func (t *Transport) NotifyCharacteristicChanged(dev gattserver.RemoteDevice, characteristic uuid.UUID, value []byte, _ bool) error {
	t.mu.Lock()
	n, ok := t.notifiers[subscriptionKey{device: dev.ID(), characteristic: characteristic}]
	cb := t.cb
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotSubscribed, dev.ID(), characteristic)
	}

	payload := append([]byte(nil), value...)
	go func() {
		status := gattserver.StatusSuccess
		if _, err := n.Write(payload); err != nil {
			t.logger.Debug("notification write failed", "device", dev.ID(), "err", err)
			status = gattserver.StatusFailure
		}
		if cb != nil {
			cb.OnNotificationSent(dev, status)
		}
	}()
	return nil
}

func (t *Transport) serveRead(characteristic uuid.UUID, req ble.Request, rsp ble.ResponseWriter) {
	cb := t.callback()
	if cb == nil {
		rsp.SetStatus(ble.ErrUnlikely)
		return
	}
	dev := t.track(req.Conn(), cb)

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.pending[id] = rsp
	t.mu.Unlock()

	cb.OnCharacteristicReadRequest(dev, id, req.Offset(), characteristic)

	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// serveNotify runs for as long as the peer keeps notifications enabled on
// the characteristic.
func (t *Transport) serveNotify(characteristic uuid.UUID, req ble.Request, n ble.Notifier) {
	cb := t.callback()
	if cb == nil {
		return
	}
	dev := t.track(req.Conn(), cb)
	key := subscriptionKey{device: dev.ID(), characteristic: characteristic}

	t.mu.Lock()
	t.notifiers[key] = n
	t.mu.Unlock()

	cb.OnNotifyStateChange(dev, characteristic, true)

	<-n.Context().Done()

	t.mu.Lock()
	delete(t.notifiers, key)
	t.mu.Unlock()

	cb.OnNotifyStateChange(dev, characteristic, false)
}

// track returns the central for conn, announcing it on first sight.
func (t *Transport) track(conn ble.Conn, cb gattserver.ServerCallback) *central {
	id := conn.RemoteAddr().String()

	t.mu.Lock()
	c, ok := t.centrals[id]
	if !ok {
		c = &central{conn: conn}
		t.centrals[id] = c
	}
	t.mu.Unlock()

	if ok {
		return c
	}

	cb.OnConnectionStateChange(c, gattserver.StatusSuccess, gattserver.StateConnected)
	go func() {
		<-conn.Disconnected()

		t.mu.Lock()
		if t.centrals[id] == c {
			delete(t.centrals, id)
		}
		for k := range t.notifiers {
			if k.device == id {
				delete(t.notifiers, k)
			}
		}
		t.mu.Unlock()

		cb.OnConnectionStateChange(c, gattserver.StatusSuccess, gattserver.StateDisconnected)
	}()
	return c
}

// StartAdvertising advertises the device name and the service UUIDs. The
// advertising interval is fixed when the device is opened.
func (t *Transport) StartAdvertising(settings gattserver.AdvertiseSettings, data gattserver.AdvertiseData, cb gattserver.AdvertiseCallback) {
	if !settings.Connectable {
		cb.OnStartFailure(gattserver.AdvertiseFailedFeatureUnsupported)
		return
	}

	name := ""
	if data.IncludeDeviceName {
		name = t.name
	}
	uuids := make([]ble.UUID, 0, len(data.ServiceUUIDs))
	for _, u := range data.ServiceUUIDs {
		uuids = append(uuids, toBLE(u))
	}

	if err := t.ctrl.AdvertiseNameAndServices(name, uuids...); err != nil {
		t.logger.Warn("advertise failed", "err", err)
		cb.OnStartFailure(gattserver.AdvertiseFailedInternalError)
		return
	}
	cb.OnStartSuccess(settings)
}

func (t *Transport) StopAdvertising(gattserver.AdvertiseCallback) {
	if err := t.ctrl.StopAdvertising(); err != nil {
		t.logger.Debug("stop advertising", "err", err)
	}
}

// toBLE converts u to a go-ble UUID, shortening Bluetooth base UUIDs to
// their 16-bit form.
func toBLE(u uuid.UUID) ble.UUID {
	if short, ok := shortUUID(u); ok {
		return ble.UUID16(short)
	}
	return ble.MustParse(u.String())
}

var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

func shortUUID(u uuid.UUID) (uint16, bool) {
	if u[0] != 0 || u[1] != 0 {
		return 0, false
	}
	for i := 4; i < 16; i++ {
		if u[i] != baseUUID[i] {
			return 0, false
		}
	}
	return uint16(u[2])<<8 | uint16(u[3]), true
}
