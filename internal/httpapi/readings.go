package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"cloudpico-bridge/internal/repository"
	"cloudpico-bridge/internal/telemetry"
	"cloudpico-bridge/internal/utils"
)

const (
	defaultLatestLimit = 10
	maxLatestLimit     = 100
)

// ReadingsStore is the read side of the cloud store.
type ReadingsStore interface {
	GetLatest(ctx context.Context, kind telemetry.Kind, limit int) ([]repository.Record, error)
	Count(ctx context.Context, kind telemetry.Kind) (int, error)
}

type LatestReadings struct {
	Collection string              `json:"collection"`
	Count      int                 `json:"count"`
	Latest     []repository.Record `json:"latest"`
}

type readingsHandler struct {
	store ReadingsStore
}

func (h *readingsHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	kind, ok := kindForCollection(collection)
	if !ok {
		utils.WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown collection %q", collection))
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	latest, err := h.store.GetLatest(r.Context(), kind, limit)
	if err != nil {
		slog.Error("readings: get latest failed", "collection", collection, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	count, err := h.store.Count(r.Context(), kind)
	if err != nil {
		slog.Error("readings: count failed", "collection", collection, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to count readings")
		return
	}

	if latest == nil {
		latest = []repository.Record{}
	}
	utils.WriteJSON(w, http.StatusOK, LatestReadings{Collection: collection, Count: count, Latest: latest})
}

func kindForCollection(name string) (telemetry.Kind, bool) {
	for _, k := range []telemetry.Kind{telemetry.Temperature, telemetry.Pressure} {
		if c, ok := repository.Collection(k); ok && c == name {
			return k, true
		}
	}
	return 0, false
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLatestLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLatestLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLatestLimit)
	}
	return n, nil
}

func registerReadings(mux *http.ServeMux, store ReadingsStore) {
	if store == nil {
		return
	}
	h := &readingsHandler{store: store}
	mux.HandleFunc("GET /readings/{collection}", h.handleLatest)
}
