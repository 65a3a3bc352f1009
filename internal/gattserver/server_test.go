package gattserver

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"cloudpico-bridge/internal/ess"
)

var unknownUUID = uuid.MustParse("00002a19-0000-1000-8000-00805f9b34fb")

func TestServer_StartRegistersService(t *testing.T) {
	s, tr := newRunningServer(t)

	if s.State() != StateRunning {
		t.Fatalf("State() = %s, want running", s.State())
	}
	if tr.opened != 1 || len(tr.added) != 1 {
		t.Fatalf("opened = %d, added = %d, want 1, 1", tr.opened, len(tr.added))
	}
	if tr.added[0].UUID != ess.ServiceUUID {
		t.Errorf("added service = %s, want %s", tr.added[0].UUID, ess.ServiceUUID)
	}
	if tr.cb != s {
		t.Errorf("transport callback is not the server")
	}
	if s.Service() != tr.added[0] {
		t.Errorf("Service() is not the registered descriptor")
	}
}

func TestServer_StartTwice(t *testing.T) {
	s, _ := newRunningServer(t)
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestServer_StartFailure(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		addErr  error
		closed  int
	}{
		{name: "open fails", openErr: errors.New("no adapter")},
		{name: "add service fails", addErr: errors.New("busy"), closed: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			tr.openErr = tt.openErr
			tr.addErr = tt.addErr
			s := NewServer(tr, NewRegistry(), discardLogger())

			if err := s.Start(); err == nil {
				t.Fatalf("Start() error = nil, want non-nil")
			}
			if s.State() != StateStopped {
				t.Errorf("State() = %s, want stopped", s.State())
			}
			if s.Service() != nil {
				t.Errorf("Service() != nil after failed start")
			}
			if tr.closed != tt.closed {
				t.Errorf("closed = %d, want %d", tr.closed, tt.closed)
			}

			// No automatic retry, but a manual one is allowed.
			tr.openErr, tr.addErr = nil, nil
			if err := s.Start(); err != nil {
				t.Errorf("retry Start() error = %v", err)
			}
		})
	}
}

func TestServer_StopDuringStart(t *testing.T) {
	tr := newGatedTransport()
	s := NewServer(tr, NewRegistry(), discardLogger())

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	<-tr.entered
	if s.State() != StateStarting {
		t.Fatalf("State() = %s, want starting", s.State())
	}
	s.Stop()
	close(tr.release)

	if err := <-errc; !errors.Is(err, ErrStartAborted) {
		t.Errorf("Start() error = %v, want ErrStartAborted", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
	if s.Service() != nil {
		t.Errorf("Service() != nil after aborted start")
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.added) != len(tr.removed) {
		t.Errorf("added = %d, removed = %d, service left registered", len(tr.added), len(tr.removed))
	}
	if tr.opened != tr.closed {
		t.Errorf("opened = %d, closed = %d, transport left open", tr.opened, tr.closed)
	}
}

func TestServer_Stop(t *testing.T) {
	s, tr := newRunningServer(t)
	s.Registry().Connect(fakeDevice("a"))
	s.Registry().Subscribe(fakeDevice("a"))

	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
	if len(tr.removed) != 1 || tr.closed != 1 {
		t.Errorf("removed = %d, closed = %d, want 1, 1", len(tr.removed), tr.closed)
	}
	if got := len(s.Registry().Snapshot()); got != 0 {
		t.Errorf("subscribers after Stop = %d, want 0", got)
	}
}

func TestServer_StopWhenNotRunning(t *testing.T) {
	h := &captureHandler{}
	tr := newFakeTransport()
	s := NewServer(tr, NewRegistry(), slog.New(h))

	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
	if len(tr.removed) != 0 || tr.closed != 0 {
		t.Errorf("transport touched by no-op Stop")
	}
	if h.count(slog.LevelWarn, "stop requested while gatt server not running") != 1 {
		t.Errorf("expected one warning for no-op Stop")
	}
}

func TestServer_CharacteristicRead(t *testing.T) {
	s, tr := newRunningServer(t)
	dev := fakeDevice("a")

	s.OnCharacteristicReadRequest(dev, 7, 0, ess.TemperatureUUID)
	got := tr.lastResponse()
	if got.requestID != 7 || got.status != StatusSuccess || got.offset != 0 {
		t.Fatalf("response = %+v, want success for request 7", got)
	}
	if !bytes.Equal(got.value, []byte{0x00, 0x00}) {
		t.Errorf("default temperature = % x, want 00 00", got.value)
	}

	s.OnCharacteristicReadRequest(dev, 8, 0, ess.PressureUUID)
	if got := tr.lastResponse(); got.status != StatusSuccess || len(got.value) != 4 {
		t.Errorf("default pressure response = %+v", got)
	}

	s.Registry().Publish(ess.TemperatureUUID, []byte{0x08, 0x66})
	s.OnCharacteristicReadRequest(dev, 9, 0, ess.TemperatureUUID)
	if got := tr.lastResponse(); !bytes.Equal(got.value, []byte{0x08, 0x66}) {
		t.Errorf("cached temperature = % x, want 08 66", got.value)
	}
}

func TestServer_CharacteristicReadRejected(t *testing.T) {
	tests := []struct {
		name           string
		opts           []ess.Option
		characteristic uuid.UUID
		offset         int
	}{
		{name: "unknown characteristic", characteristic: unknownUUID},
		{name: "nonzero offset", characteristic: ess.TemperatureUUID, offset: 1},
		{name: "pressure in temperature-only service", opts: []ess.Option{ess.WithPressure(false)}, characteristic: ess.PressureUUID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tr := newRunningServer(t, tt.opts...)
			s.OnCharacteristicReadRequest(fakeDevice("a"), 3, tt.offset, tt.characteristic)

			got := tr.lastResponse()
			if got.requestID != 3 || got.status != StatusFailure {
				t.Errorf("response = %+v, want failure for request 3", got)
			}
			if got.value != nil {
				t.Errorf("failure payload = % x, want none", got.value)
			}
		})
	}
}

func TestServer_RequestsWhileStopped(t *testing.T) {
	tr := newFakeTransport()
	s := NewServer(tr, NewRegistry(), discardLogger())
	dev := fakeDevice("a")

	s.OnCharacteristicReadRequest(dev, 1, 0, ess.TemperatureUUID)
	s.OnDescriptorReadRequest(dev, 2, 0, ess.ClientConfigUUID)
	s.OnDescriptorWriteRequest(dev, 3, ess.ClientConfigUUID, false, true, 0, ess.EnableNotificationValue)

	if len(tr.responses) != 3 {
		t.Fatalf("responses = %d, want 3", len(tr.responses))
	}
	for _, r := range tr.responses {
		if r.status != StatusFailure {
			t.Errorf("request %d status = %#x, want failure", r.requestID, r.status)
		}
	}
	if s.Registry().IsSubscribed(dev) {
		t.Errorf("write while stopped subscribed the device")
	}
}

func TestServer_DescriptorWrite(t *testing.T) {
	tests := []struct {
		name           string
		descriptor     uuid.UUID
		prepared       bool
		offset         int
		value          []byte
		wantStatus     Status
		wantSubscribed bool
	}{
		{name: "enable", descriptor: ess.ClientConfigUUID, value: []byte{0x01, 0x00}, wantStatus: StatusSuccess, wantSubscribed: true},
		{name: "disable", descriptor: ess.ClientConfigUUID, value: []byte{0x00, 0x00}, wantStatus: StatusSuccess},
		{name: "invalid value", descriptor: ess.ClientConfigUUID, value: []byte{0x03, 0x00}, wantStatus: StatusFailure},
		{name: "unknown descriptor", descriptor: unknownUUID, value: []byte{0x01, 0x00}, wantStatus: StatusFailure},
		{name: "prepared write", descriptor: ess.ClientConfigUUID, prepared: true, value: []byte{0x01, 0x00}, wantStatus: StatusFailure},
		{name: "nonzero offset", descriptor: ess.ClientConfigUUID, offset: 1, value: []byte{0x00}, wantStatus: StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tr := newRunningServer(t)
			dev := fakeDevice("a")

			s.OnDescriptorWriteRequest(dev, 11, tt.descriptor, tt.prepared, true, tt.offset, tt.value)

			got := tr.lastResponse()
			if got.requestID != 11 || got.status != tt.wantStatus {
				t.Errorf("response = %+v, want status %#x for request 11", got, tt.wantStatus)
			}
			if got.value != nil {
				t.Errorf("write response payload = % x, want none", got.value)
			}
			if s.Registry().IsSubscribed(dev) != tt.wantSubscribed {
				t.Errorf("IsSubscribed() = %v, want %v", !tt.wantSubscribed, tt.wantSubscribed)
			}
		})
	}
}

func TestServer_DescriptorWriteWithoutResponse(t *testing.T) {
	s, tr := newRunningServer(t)
	dev := fakeDevice("a")

	s.OnDescriptorWriteRequest(dev, 1, ess.ClientConfigUUID, false, false, 0, ess.EnableNotificationValue)
	s.OnDescriptorWriteRequest(dev, 2, unknownUUID, false, false, 0, ess.EnableNotificationValue)

	if len(tr.responses) != 0 {
		t.Errorf("responses = %d, want 0", len(tr.responses))
	}
	if !s.Registry().IsSubscribed(dev) {
		t.Errorf("write without response was not applied")
	}
}

func TestServer_DescriptorRead(t *testing.T) {
	s, tr := newRunningServer(t)
	dev := fakeDevice("a")

	s.OnDescriptorReadRequest(dev, 1, 0, ess.ClientConfigUUID)
	if got := tr.lastResponse(); got.status != StatusSuccess || !bytes.Equal(got.value, ess.DisableNotificationValue) {
		t.Errorf("read before enable = %+v", got)
	}

	s.OnDescriptorWriteRequest(dev, 2, ess.ClientConfigUUID, false, true, 0, ess.EnableNotificationValue)
	s.OnDescriptorReadRequest(dev, 3, 0, ess.ClientConfigUUID)
	if got := tr.lastResponse(); got.requestID != 3 || !bytes.Equal(got.value, ess.EnableNotificationValue) {
		t.Errorf("read after enable = %+v", got)
	}

	s.OnDescriptorReadRequest(dev, 4, 0, unknownUUID)
	if got := tr.lastResponse(); got.requestID != 4 || got.status != StatusFailure || got.value != nil {
		t.Errorf("read of unknown descriptor = %+v", got)
	}
}

func TestServer_ConnectionStateChange(t *testing.T) {
	s, _ := newRunningServer(t)
	dev := fakeDevice("a")

	s.OnConnectionStateChange(dev, StatusSuccess, StateConnected)
	if c, sub := s.Registry().Counts(); c != 1 || sub != 0 {
		t.Fatalf("Counts() after connect = %d, %d, want 1, 0", c, sub)
	}

	s.OnDescriptorWriteRequest(dev, 1, ess.ClientConfigUUID, false, true, 0, ess.EnableNotificationValue)
	s.OnConnectionStateChange(dev, StatusSuccess, StateDisconnected)

	if c, sub := s.Registry().Counts(); c != 0 || sub != 0 {
		t.Errorf("Counts() after disconnect = %d, %d, want 0, 0", c, sub)
	}
}

func TestServer_NotifyStateChange(t *testing.T) {
	s, _ := newRunningServer(t)
	dev := fakeDevice("a")

	s.OnNotifyStateChange(dev, ess.TemperatureUUID, true)
	if !s.Registry().IsSubscribed(dev) {
		t.Fatalf("observed enable did not subscribe")
	}
	s.OnNotifyStateChange(dev, unknownUUID, false)
	if !s.Registry().IsSubscribed(dev) {
		t.Fatalf("unknown characteristic changed subscription")
	}
	s.OnNotifyStateChange(dev, ess.PressureUUID, false)
	if s.Registry().IsSubscribed(dev) {
		t.Errorf("observed disable did not unsubscribe")
	}
}
