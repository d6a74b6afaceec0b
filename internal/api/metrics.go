package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/nerrad567/jkbms-bridge/internal/bridges/jkbms"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is returned by /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	MQTTConnected bool              `json:"mqtt_connected"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// StatsResponse is returned by /api/v1/stats.
type StatsResponse struct {
	Timestamp        string         `json:"timestamp"`
	Version          string         `json:"version"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	Bridge           jkbms.Stats    `json:"bridge"`
	Batteries        int            `json:"batteries"`
	WebSocketClients int            `json:"websocket_clients"`
	Runtime          RuntimeMetrics `json:"runtime"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleHealth reports "ok" (200) when MQTT is connected and every check
// passes, "degraded" (503) otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		MQTTConnected: s.bridge.Connected(),
	}
	if !resp.MQTTConnected {
		resp.Status = "degraded"
	}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleStats returns bridge counters and runtime statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, http.StatusOK, StatsResponse{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Version:          s.version,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
		Bridge:           s.bridge.Stats(),
		Batteries:        len(s.bridge.Snapshots()),
		WebSocketClients: s.hub.ClientCount(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	})
}
