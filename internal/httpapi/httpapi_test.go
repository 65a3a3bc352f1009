package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"cloudpico-bridge/internal/cloudsync"
	"cloudpico-bridge/internal/ess"
	"cloudpico-bridge/internal/gattserver"
	"cloudpico-bridge/internal/repository"
	"cloudpico-bridge/internal/telemetry"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type nopTransport struct{}

func (nopTransport) Open(gattserver.ServerCallback) error { return nil }
func (nopTransport) AddService(*ess.Service) error        { return nil }
func (nopTransport) RemoveService(*ess.Service) error     { return nil }
func (nopTransport) Close() error                         { return nil }
func (nopTransport) SendResponse(gattserver.RemoteDevice, int, gattserver.Status, int, []byte) error {
	return nil
}
func (nopTransport) NotifyCharacteristicChanged(gattserver.RemoteDevice, uuid.UUID, []byte, bool) error {
	return nil
}

type device string

func (d device) ID() string { return string(d) }

type nopAdvertiser struct{}

func (nopAdvertiser) StartAdvertising(s gattserver.AdvertiseSettings, _ gattserver.AdvertiseData, cb gattserver.AdvertiseCallback) {
	cb.OnStartSuccess(s)
}
func (nopAdvertiser) StopAdvertising(gattserver.AdvertiseCallback) {}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type fakeMQTT struct{}

func (fakeMQTT) IsConnected() bool { return true }
func (fakeMQTT) Buffered() int     { return 3 }

type fakeCloud struct{}

func (fakeCloud) Stats() cloudsync.Stats { return cloudsync.Stats{Synced: 7, Dropped: 1} }

func get(t *testing.T, deps Deps, path string, out any) *http.Response {
	t.Helper()
	ts := httptest.NewServer(NewServer(":0", NewMux(deps), quiet).Handler)
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode json: %v", err)
		}
	}
	return resp
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name string
		db   Pinger
		want int
	}{
		{name: "no database", want: http.StatusOK},
		{name: "database up", db: fakePinger{}, want: http.StatusOK},
		{name: "database down", db: fakePinger{err: errors.New("disk I/O error")}, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			resp := get(t, Deps{DB: tt.db}, "/healthz", &body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status=%d want=%d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusOK && body["status"] != "ok" {
				t.Errorf("body.status=%q want=ok", body["status"])
			}
		})
	}
}

func TestStatus_GATT(t *testing.T) {
	srv := gattserver.NewServer(nopTransport{}, gattserver.NewRegistry(), quiet)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	adv := gattserver.NewAdvertiser(nopAdvertiser{}, ess.ServiceUUID, quiet)
	adv.Start()

	srv.Registry().Connect(device("AA:BB"))
	srv.Registry().Subscribe(device("AA:BB"))
	notifier := gattserver.NewNotifier(srv, nopTransport{}, quiet)
	if err := notifier.Publish(context.Background(), telemetry.Reading{Kind: telemetry.Temperature, Value: 21.5}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var st Status
	resp := get(t, Deps{Sinks: []string{"gatt"}, GATT: srv, Advertiser: adv}, "/status", &st)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if st.GATT == nil {
		t.Fatal("gatt section missing")
	}
	if st.GATT.State != "running" {
		t.Errorf("state=%q want running", st.GATT.State)
	}
	if st.Advertising == nil || st.Advertising.State != "advertising" || st.Advertising.Error != "" {
		t.Errorf("advertising = %+v", st.Advertising)
	}
	if st.GATT.Connected != 1 || st.GATT.Subscribed != 1 {
		t.Errorf("connected=%d subscribed=%d", st.GATT.Connected, st.GATT.Subscribed)
	}
	if len(st.GATT.Characteristics) != 2 {
		t.Fatalf("characteristics=%d want 2", len(st.GATT.Characteristics))
	}

	temp := st.GATT.Characteristics[0]
	if temp.UUID != ess.TemperatureUUID.String() || temp.Hex != "0866" || temp.Value == nil || *temp.Value != 21.5 {
		t.Errorf("temperature = %+v", temp)
	}
	if press := st.GATT.Characteristics[1]; press.Hex != "" || press.Value != nil {
		t.Errorf("unpublished pressure = %+v, want empty", press)
	}
	if st.MQTT != nil || st.Cloud != nil {
		t.Errorf("disabled sinks reported: mqtt=%v cloud=%v", st.MQTT, st.Cloud)
	}
}

func TestStatus_MQTTAndCloud(t *testing.T) {
	var st Status
	get(t, Deps{Sinks: []string{"mqtt", "cloud"}, MQTT: fakeMQTT{}, Cloud: fakeCloud{}}, "/status", &st)

	if st.GATT != nil || st.Advertising != nil {
		t.Errorf("ble sections present without a ble sink")
	}
	if st.MQTT == nil || !st.MQTT.Connected || st.MQTT.Buffered != 3 {
		t.Errorf("mqtt = %+v", st.MQTT)
	}
	if st.Cloud == nil || st.Cloud.Synced != 7 || st.Cloud.Dropped != 1 {
		t.Errorf("cloud = %+v", st.Cloud)
	}
	if len(st.Sinks) != 2 {
		t.Errorf("sinks = %v", st.Sinks)
	}
}

type fakeReadings struct {
	latest []repository.Record
	count  int
	err    error
	limit  int
	kind   telemetry.Kind
}

func (f *fakeReadings) GetLatest(_ context.Context, kind telemetry.Kind, limit int) ([]repository.Record, error) {
	f.kind, f.limit = kind, limit
	return f.latest, f.err
}

func (f *fakeReadings) Count(context.Context, telemetry.Kind) (int, error) { return f.count, f.err }

func TestReadings_Latest(t *testing.T) {
	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	store := &fakeReadings{
		latest: []repository.Record{{ID: 42, Value: 1013.25, CreatedAt: at}},
		count:  42,
	}

	var got LatestReadings
	resp := get(t, Deps{Readings: store}, "/readings/pressure?limit=5", &got)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=200", resp.StatusCode)
	}
	if store.kind != telemetry.Pressure || store.limit != 5 {
		t.Errorf("GetLatest(kind=%s, limit=%d), want pressure, 5", store.kind, store.limit)
	}
	if got.Collection != "pressure" || got.Count != 42 {
		t.Errorf("response = %+v", got)
	}
	if len(got.Latest) != 1 || got.Latest[0].Value != 1013.25 || !got.Latest[0].CreatedAt.Equal(at) {
		t.Errorf("latest = %+v", got.Latest)
	}
}

func TestReadings_Errors(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
		path string
		code int
	}{
		{name: "no cloud sink", deps: Deps{}, path: "/readings/temperature", code: http.StatusNotFound},
		{name: "unknown collection", deps: Deps{Readings: &fakeReadings{}}, path: "/readings/humidity", code: http.StatusNotFound},
		{name: "bad limit", deps: Deps{Readings: &fakeReadings{}}, path: "/readings/temperature?limit=0", code: http.StatusBadRequest},
		{name: "limit too large", deps: Deps{Readings: &fakeReadings{}}, path: "/readings/temperature?limit=1000", code: http.StatusBadRequest},
		{name: "store failure", deps: Deps{Readings: &fakeReadings{err: errors.New("locked")}}, path: "/readings/temperature", code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, tt.deps, tt.path, nil)
			if resp.StatusCode != tt.code {
				t.Errorf("status=%d want=%d", resp.StatusCode, tt.code)
			}
		})
	}
}

func TestReadings_DefaultLimitAndEmpty(t *testing.T) {
	store := &fakeReadings{}
	var got LatestReadings
	get(t, Deps{Readings: store}, "/readings/temperature", &got)

	if store.limit != defaultLatestLimit {
		t.Errorf("limit = %d, want %d", store.limit, defaultLatestLimit)
	}
	if got.Latest == nil || len(got.Latest) != 0 {
		t.Errorf("latest = %v, want empty list", got.Latest)
	}
}

func TestUnknownRoute(t *testing.T) {
	resp := get(t, Deps{}, "/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status=%d want=404", resp.StatusCode)
	}
}
