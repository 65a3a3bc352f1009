package gattserver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"cloudpico-bridge/internal/ess"
)

type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Server is the GATT request state machine. It implements ServerCallback
// and is handed to the transport on Start.
type Server struct {
	logger    *slog.Logger
	transport Transport
	registry  *Registry
	opts      []ess.Option

	mu      sync.Mutex
	state   State
	service *ess.Service
	// attempt counts Start calls so a stale Start cannot claim a newer one.
	attempt uint64
}

var _ ServerCallback = (*Server)(nil)

func NewServer(t Transport, reg *Registry, logger *slog.Logger, opts ...ess.Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:    logger.With("component", "gatt_server"),
		transport: t,
		registry:  reg,
		opts:      opts,
	}
}

// Start builds the service, opens the transport and registers the service.
// On failure the server is back in StateStopped; no retry is attempted.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != StateStopped {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, st)
	}
	s.state = StateStarting
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	svc := ess.BuildService(s.opts...)

	if err := s.transport.Open(s); err != nil {
		s.setState(StateStopped, nil)
		return fmt.Errorf("open gatt server: %w", err)
	}
	if err := s.transport.AddService(svc); err != nil {
		if cerr := s.transport.Close(); cerr != nil {
			s.logger.Warn("close transport after failed registration", "err", cerr)
		}
		s.setState(StateStopped, nil)
		return fmt.Errorf("add service %s: %w", svc.UUID, err)
	}

	s.mu.Lock()
	if s.state != StateStarting || s.attempt != attempt {
		s.mu.Unlock()
		if err := s.transport.RemoveService(svc); err != nil {
			s.logger.Warn("remove service after aborted start", "err", err)
		}
		if err := s.transport.Close(); err != nil {
			s.logger.Warn("close transport after aborted start", "err", err)
		}
		return ErrStartAborted
	}
	s.state = StateRunning
	s.service = svc
	s.mu.Unlock()

	s.logger.Info("gatt server running",
		"service", svc.UUID.String(),
		"characteristics", len(svc.Characteristics),
	)
	return nil
}

// Stop unregisters the service and closes the transport. Calling it while
// not running only logs a warning; a Start still in progress then returns
// ErrStartAborted and undoes its own registration.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		st := s.state
		s.state = StateStopped
		s.mu.Unlock()
		s.logger.Warn("stop requested while gatt server not running", "state", st.String())
		return
	}
	svc := s.service
	s.state = StateStopped
	s.service = nil
	s.mu.Unlock()

	if err := s.transport.RemoveService(svc); err != nil {
		s.logger.Warn("remove service failed", "service", svc.UUID.String(), "err", err)
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("close transport failed", "err", err)
	}
	s.registry.Reset()
	s.logger.Info("gatt server stopped")
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Service returns the bound service, or nil when not running.
func (s *Server) Service() *ess.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) setState(st State, svc *ess.Service) {
	s.mu.Lock()
	s.state = st
	s.service = svc
	s.mu.Unlock()
}

// running returns the bound service if the server is running.
func (s *Server) running() (*ess.Service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service, s.state == StateRunning
}

func (s *Server) OnConnectionStateChange(dev RemoteDevice, status Status, newState ConnectionState) {
	s.logger.Info("connection state changed",
		"device", dev.ID(),
		"status", int(status),
		"state", newState.String(),
	)

	switch newState {
	case StateConnected:
		s.registry.Connect(dev)
	case StateDisconnected:
		s.registry.Disconnect(dev)
	}
}

func (s *Server) OnCharacteristicReadRequest(dev RemoteDevice, requestID, offset int, characteristic uuid.UUID) {
	value, err := s.readCharacteristic(characteristic, offset)
	if err != nil {
		s.logger.Warn("characteristic read rejected",
			"device", dev.ID(),
			"characteristic", characteristic.String(),
			"offset", offset,
			"err", err,
		)
		s.respond(dev, requestID, StatusFailure, offset, nil)
		return
	}
	s.respond(dev, requestID, StatusSuccess, 0, value)
}

func (s *Server) readCharacteristic(characteristic uuid.UUID, offset int) ([]byte, error) {
	svc, ok := s.running()
	if !ok {
		return nil, ErrNotRunning
	}
	if svc.Characteristic(characteristic) == nil {
		return nil, ErrAttributeNotFound
	}
	if offset != 0 {
		return nil, ErrInvalidOffset
	}
	if v, ok := s.registry.Value(characteristic); ok {
		return v, nil
	}
	return ess.ZeroValue(characteristic), nil
}

func (s *Server) OnDescriptorReadRequest(dev RemoteDevice, requestID, offset int, descriptor uuid.UUID) {
	value, err := s.readDescriptor(dev, descriptor, offset)
	if err != nil {
		s.logger.Warn("descriptor read rejected",
			"device", dev.ID(),
			"descriptor", descriptor.String(),
			"err", err,
		)
		s.respond(dev, requestID, StatusFailure, offset, nil)
		return
	}
	s.respond(dev, requestID, StatusSuccess, 0, value)
}

func (s *Server) readDescriptor(dev RemoteDevice, descriptor uuid.UUID, offset int) ([]byte, error) {
	svc, ok := s.running()
	if !ok {
		return nil, ErrNotRunning
	}
	if !svc.HasDescriptor(descriptor) {
		return nil, ErrAttributeNotFound
	}
	if offset != 0 {
		return nil, ErrInvalidOffset
	}
	return s.registry.ReadConfig(dev, descriptor)
}

func (s *Server) OnDescriptorWriteRequest(dev RemoteDevice, requestID int, descriptor uuid.UUID, preparedWrite, responseNeeded bool, offset int, value []byte) {
	err := s.writeDescriptor(dev, descriptor, preparedWrite, offset, value)
	if err != nil {
		s.logger.Warn("descriptor write rejected",
			"device", dev.ID(),
			"descriptor", descriptor.String(),
			"value", fmt.Sprintf("% x", value),
			"err", err,
		)
	} else {
		s.logger.Debug("descriptor write accepted",
			"device", dev.ID(),
			"subscribed", s.registry.IsSubscribed(dev),
		)
	}

	if !responseNeeded {
		return
	}
	if err != nil {
		s.respond(dev, requestID, StatusFailure, offset, nil)
		return
	}
	s.respond(dev, requestID, StatusSuccess, 0, nil)
}

func (s *Server) writeDescriptor(dev RemoteDevice, descriptor uuid.UUID, preparedWrite bool, offset int, value []byte) error {
	svc, ok := s.running()
	if !ok {
		return ErrNotRunning
	}
	if !svc.HasDescriptor(descriptor) {
		return ErrAttributeNotFound
	}
	if preparedWrite {
		return ErrPreparedWrite
	}
	if offset != 0 {
		return ErrInvalidOffset
	}
	return s.registry.WriteConfig(dev, descriptor, value)
}

func (s *Server) OnNotificationSent(dev RemoteDevice, status Status) {
	if status != StatusSuccess {
		s.logger.Debug("notification not delivered", "device", dev.ID(), "status", int(status))
	}
}

// OnNotifyStateChange applies a subscription change observed by the stack.
// Any characteristic of the bound service toggles the device as a whole.
func (s *Server) OnNotifyStateChange(dev RemoteDevice, characteristic uuid.UUID, enabled bool) {
	svc, ok := s.running()
	if !ok || svc.Characteristic(characteristic) == nil {
		s.logger.Warn("notify state change ignored",
			"device", dev.ID(),
			"characteristic", characteristic.String(),
		)
		return
	}

	if enabled {
		s.registry.Subscribe(dev)
	} else {
		s.registry.Unsubscribe(dev)
	}
	s.logger.Info("notify state changed", "device", dev.ID(), "enabled", enabled)
}

func (s *Server) respond(dev RemoteDevice, requestID int, status Status, offset int, value []byte) {
	if err := s.transport.SendResponse(dev, requestID, status, offset, value); err != nil {
		s.logger.Warn("send response failed",
			"device", dev.ID(),
			"request_id", requestID,
			"err", err,
		)
	}
}
