package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"cloudpico-bridge/internal/cloudsync"
	"cloudpico-bridge/internal/ess"
	"cloudpico-bridge/internal/gattserver"
	"cloudpico-bridge/internal/utils"
)

type MQTTStatus interface {
	IsConnected() bool
	Buffered() int
}

type CloudStatus interface {
	Stats() cloudsync.Stats
}

// Deps are the components reported on. Nil fields are omitted from /status.
type Deps struct {
	Sinks      []string
	DB         Pinger
	GATT       *gattserver.Server
	Advertiser *gattserver.Advertiser
	MQTT       MQTTStatus
	Cloud      CloudStatus
	Readings   ReadingsStore
}

type CharacteristicStatus struct {
	UUID  string   `json:"uuid"`
	Hex   string   `json:"hex,omitempty"`
	Value *float32 `json:"value,omitempty"`
}

type GATTStatus struct {
	State           string                 `json:"state"`
	Connected       int                    `json:"connected"`
	Subscribed      int                    `json:"subscribed"`
	Characteristics []CharacteristicStatus `json:"characteristics"`
}

type AdvertisingStatus struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type MQTTState struct {
	Connected bool `json:"connected"`
	Buffered  int  `json:"buffered"`
}

type Status struct {
	Sinks       []string           `json:"sinks"`
	GATT        *GATTStatus        `json:"gatt,omitempty"`
	Advertising *AdvertisingStatus `json:"advertising,omitempty"`
	MQTT        *MQTTState         `json:"mqtt,omitempty"`
	Cloud       *cloudsync.Stats   `json:"cloud,omitempty"`
}

type statusHandler struct {
	deps Deps
}

func (h *statusHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	utils.WriteJSON(w, http.StatusOK, h.snapshot())
}

func (h *statusHandler) snapshot() Status {
	st := Status{Sinks: h.deps.Sinks}
	if st.Sinks == nil {
		st.Sinks = []string{}
	}

	if srv := h.deps.GATT; srv != nil {
		g := &GATTStatus{State: srv.State().String(), Characteristics: []CharacteristicStatus{}}
		g.Connected, g.Subscribed = srv.Registry().Counts()
		if svc := srv.Service(); svc != nil {
			for _, c := range svc.Characteristics {
				g.Characteristics = append(g.Characteristics, characteristicStatus(srv.Registry(), c.UUID))
			}
		}
		st.GATT = g
	}

	if adv := h.deps.Advertiser; adv != nil {
		as, err := adv.State()
		st.Advertising = &AdvertisingStatus{State: as.String()}
		if err != nil {
			st.Advertising.Error = err.Error()
		}
	}
	if m := h.deps.MQTT; m != nil {
		st.MQTT = &MQTTState{Connected: m.IsConnected(), Buffered: m.Buffered()}
	}
	if c := h.deps.Cloud; c != nil {
		stats := c.Stats()
		st.Cloud = &stats
	}
	return st
}

// characteristicStatus reports the last published value of a characteristic,
// decoded back into engineering units.
func characteristicStatus(reg *gattserver.Registry, u uuid.UUID) CharacteristicStatus {
	cs := CharacteristicStatus{UUID: u.String()}
	raw, ok := reg.Value(u)
	if !ok {
		return cs
	}
	cs.Hex = utils.BytesToHex(raw)

	var v float32
	switch u {
	case ess.TemperatureUUID:
		v, ok = ess.DecodeTemperature(raw)
	case ess.PressureUUID:
		v, ok = ess.DecodePressure(raw)
	default:
		ok = false
	}
	if ok {
		cs.Value = &v
	}
	return cs
}

func registerStatus(mux *http.ServeMux, deps Deps) {
	h := &statusHandler{deps: deps}
	mux.HandleFunc("GET /status", h.handleStatus)
}
