package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/jkbms-bridge/internal/bridges/jkbms"
)

// handleListBatteries returns the latest snapshot of every registered battery.
func (s *Server) handleListBatteries(w http.ResponseWriter, _ *http.Request) {
	snaps := s.bridge.Snapshots()
	writeJSON(w, http.StatusOK, map[string]any{
		"batteries": snaps,
		"count":     len(snaps),
	})
}

// handleGetBattery returns one battery by bus address ("1" or "01").
func (s *Server) handleGetBattery(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		writeBadRequest(w, "address must be a number between 0 and 255")
		return
	}

	snap, ok := s.bridge.Snapshot(jkbms.Address(n))
	if !ok {
		writeNotFound(w, "battery not registered")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleHistory returns every device the recorder has seen.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "device history is disabled")
		return
	}

	devices, err := s.history.Devices(r.Context())
	if err != nil {
		s.logger.Error("listing device history", "error", err)
		writeInternalError(w, "failed to list device history")
		return
	}
	if devices == nil {
		devices = []jkbms.RecordedDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}
