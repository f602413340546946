package web

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthInfo holds runtime status for the health endpoint.
type HealthInfo struct {
	Providers      []string   // configured provider names
	DefaultModel   string     // model bound to the architect role
	ToolCount      int        // tools exposed by the transports
	TransportCount int        // running tool-server children
	SessionCount   func() int // callback to the session store
}

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	info      HealthInfo
	startTime time.Time
}

// NewHealthHandler creates a health handler recording the server start time.
func NewHealthHandler(info HealthInfo) *HealthHandler {
	return &HealthHandler{info: info, startTime: time.Now()}
}

type healthResponse struct {
	Status     string           `json:"status"`
	UptimeSecs int64            `json:"uptime_seconds"`
	Components healthComponents `json:"components"`
}

type healthComponents struct {
	Providers  healthProviders  `json:"providers"`
	Tools      healthTools      `json:"tools"`
	Transports healthTransports `json:"transports"`
	Sessions   healthSessions   `json:"sessions"`
}

type healthProviders struct {
	Status       string   `json:"status"`
	Names        []string `json:"names"`
	DefaultModel string   `json:"default_model"`
}
type healthTools struct {
	Registered int `json:"registered"`
}
type healthTransports struct {
	Running int `json:"running"`
}
type healthSessions struct {
	Active int `json:"active"`
}

// ServeHTTP handles GET /api/health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	providerStatus := "ok"
	if len(h.info.Providers) == 0 {
		providerStatus = "degraded"
	}

	sessionCount := 0
	if h.info.SessionCount != nil {
		sessionCount = h.info.SessionCount()
	}

	resp := healthResponse{
		Status:     providerStatus,
		UptimeSecs: int64(time.Since(h.startTime).Seconds()),
		Components: healthComponents{
			Providers:  healthProviders{Status: providerStatus, Names: h.info.Providers, DefaultModel: h.info.DefaultModel},
			Tools:      healthTools{Registered: h.info.ToolCount},
			Transports: healthTransports{Running: h.info.TransportCount},
			Sessions:   healthSessions{Active: sessionCount},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
