package gattserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"cloudpico-bridge/internal/ess"
)

type fakeDevice string

func (d fakeDevice) ID() string { return string(d) }

type response struct {
	dev       string
	requestID int
	status    Status
	offset    int
	value     []byte
}

type notification struct {
	dev            string
	characteristic uuid.UUID
	value          []byte
	confirm        bool
}

type fakeTransport struct {
	mu sync.Mutex

	openErr   error
	addErr    error
	notifyErr map[string]error

	cb        ServerCallback
	opened    int
	closed    int
	added     []*ess.Service
	removed   []*ess.Service
	responses []response
	notified  []notification
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notifyErr: make(map[string]error)}
}

func (f *fakeTransport) Open(cb ServerCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.cb = cb
	f.opened++
	return nil
}

func (f *fakeTransport) AddService(svc *ess.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, svc)
	return nil
}

func (f *fakeTransport) RemoveService(svc *ess.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, svc)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) SendResponse(dev RemoteDevice, requestID int, status Status, offset int, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, response{
		dev:       dev.ID(),
		requestID: requestID,
		status:    status,
		offset:    offset,
		value:     bytes.Clone(value),
	})
	return nil
}

func (f *fakeTransport) NotifyCharacteristicChanged(dev RemoteDevice, characteristic uuid.UUID, value []byte, confirm bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.notifyErr[dev.ID()]; err != nil {
		return err
	}
	f.notified = append(f.notified, notification{
		dev:            dev.ID(),
		characteristic: characteristic,
		value:          bytes.Clone(value),
		confirm:        confirm,
	})
	return nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.responses) + len(f.notified)
}

func (f *fakeTransport) lastResponse() response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return response{}
	}
	return f.responses[len(f.responses)-1]
}

// gatedTransport holds Open until release is closed.
type gatedTransport struct {
	*fakeTransport
	entered chan struct{}
	release chan struct{}
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		fakeTransport: newFakeTransport(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedTransport) Open(cb ServerCallback) error {
	close(g.entered)
	<-g.release
	return g.fakeTransport.Open(cb)
}

type fakeAdvertiser struct {
	mu       sync.Mutex
	started  int
	stopped  int
	settings AdvertiseSettings
	data     AdvertiseData
	cb       AdvertiseCallback
}

func (f *fakeAdvertiser) StartAdvertising(settings AdvertiseSettings, data AdvertiseData, cb AdvertiseCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.settings = settings
	f.data = data
	f.cb = cb
}

func (f *fakeAdvertiser) StopAdvertising(AdvertiseCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

// captureHandler records log records for assertions.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count(level slog.Level, msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level && r.Message == msg {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errSend = errors.New("stale connection")

func newRunningServer(t testing.TB, opts ...ess.Option) (*Server, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	s := NewServer(tr, NewRegistry(), discardLogger(), opts...)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s, tr
}
