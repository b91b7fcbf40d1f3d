// Package api exposes the relay's read-only HTTP surface: health,
// stats, and room listings. Rooms are created by websocket admission
// and never deleted, so there is no write surface here.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/trellis/internal/room"
	"github.com/manpreetbhatti/trellis/internal/store"
	"github.com/manpreetbhatti/trellis/internal/ws"
)

type API struct {
	hub      *ws.Hub
	registry *room.Registry
	store    *store.Store // nil when persistence is disabled
	log      *zap.Logger
}

func New(hub *ws.Hub, registry *room.Registry, st *store.Store, log *zap.Logger) *API {
	return &API{hub: hub, registry: registry, store: st, log: log}
}

// Register mounts the API and metrics endpoints on r.
func (a *API) Register(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.Get("/api/stats", a.handleStats)
	r.Get("/api/rooms", a.handleListRooms)
	r.Handle("/metrics", promhttp.Handler())
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error("encoding response failed", zap.Error(err))
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"tracked_rooms":  a.registry.Count(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		if dbStats, err := a.store.GetStats(); err == nil {
			stats["stored_rooms"] = dbStats.RoomCount
			stats["stored_updates"] = dbStats.UpdateCount
		} else {
			a.log.Error("reading store stats failed", zap.Error(err))
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

type RoomResponse struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	ActiveMembers int       `json:"active_members"`
	UpdateCount   int       `json:"update_count"`
}

func (a *API) handleListRooms(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	occupants := a.hub.ActiveRooms()

	ids := a.registry.IDs()
	sort.Strings(ids)
	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}

	response := make([]RoomResponse, 0, end-offset)
	for _, id := range ids[offset:end] {
		rm := a.registry.Get(id)
		if rm == nil {
			continue
		}
		response = append(response, RoomResponse{
			ID:            rm.ID,
			CreatedAt:     rm.CreatedAt,
			ActiveMembers: occupants[id],
			UpdateCount:   rm.UpdateCount(),
		})
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
		"total":  len(ids),
	})
}
