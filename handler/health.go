package handler

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/payrelay/payrelay/infra/response"
	"github.com/payrelay/payrelay/reconcile"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db             *sql.DB
	paymentService *reconcile.PaymentService
	startTime      time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status    string                    `json:"status"`
	Version   string                    `json:"version"`
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    string                    `json:"uptime"`
	Database  *DatabaseHealth           `json:"database"`
	Gateways  map[string]*GatewayHealth `json:"gateways"`
	System    *SystemHealth             `json:"system"`
}

// DatabaseHealth represents database health status
type DatabaseHealth struct {
	Status       string        `json:"status"`
	Connected    bool          `json:"connected"`
	ResponseTime time.Duration `json:"response_time_ms"`
	OpenConns    int           `json:"open_connections"`
	InUseConns   int           `json:"in_use_connections"`
	IdleConns    int           `json:"idle_connections"`
	Error        string        `json:"error,omitempty"`
}

// GatewayHealth represents payment gateway health
type GatewayHealth struct {
	Configured      bool `json:"configured"`
	RequiresPolling bool `json:"requires_polling"`
}

// SystemHealth represents system resource health
type SystemHealth struct {
	GoRoutines int    `json:"goroutines"`
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	GCRuns     uint32 `json:"gc_runs"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *sql.DB, paymentService *reconcile.PaymentService) *HealthHandler {
	return &HealthHandler{
		db:             db,
		paymentService: paymentService,
		startTime:      time.Now(),
	}
}

// CheckHealth performs health checks on the database and gateway registry
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health := &HealthStatus{
		Version:   "1.0.0",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Database:  h.checkDatabaseHealth(ctx),
		Gateways:  h.checkGatewaysHealth(),
		System:    h.checkSystemHealth(),
	}

	health.Status = "healthy"
	statusCode := http.StatusOK
	if !health.Database.Connected {
		health.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if len(health.Gateways) == 0 {
		health.Status = "degraded"
	}

	_ = response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != "unhealthy",
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

// Liveness is a minimal probe endpoint
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "alive", map[string]string{
		"uptime": time.Since(h.startTime).String(),
	})
}

func (h *HealthHandler) checkDatabaseHealth(ctx context.Context) *DatabaseHealth {
	dbHealth := &DatabaseHealth{Status: "unknown"}

	if h.db == nil {
		dbHealth.Status = "unavailable"
		dbHealth.Error = "database connection not initialized"
		return dbHealth
	}

	start := time.Now()
	err := h.db.PingContext(ctx)
	dbHealth.ResponseTime = time.Since(start) / time.Millisecond

	if err != nil {
		dbHealth.Status = "unhealthy"
		dbHealth.Error = err.Error()
		return dbHealth
	}

	stats := h.db.Stats()
	dbHealth.Status = "healthy"
	dbHealth.Connected = true
	dbHealth.OpenConns = stats.OpenConnections
	dbHealth.InUseConns = stats.InUse
	dbHealth.IdleConns = stats.Idle
	return dbHealth
}

func (h *HealthHandler) checkGatewaysHealth() map[string]*GatewayHealth {
	gateways := make(map[string]*GatewayHealth)
	if h.paymentService == nil {
		return gateways
	}

	for name, gw := range h.paymentService.Gateways() {
		gateways[name] = &GatewayHealth{
			Configured:      true,
			RequiresPolling: gw.RequiresPolling(),
		}
	}
	return gateways
}

func (h *HealthHandler) checkSystemHealth() *SystemHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemHealth{
		GoRoutines: runtime.NumGoroutine(),
		Alloc:      fmt.Sprintf("%.1f MB", float64(m.Alloc)/1024/1024),
		Sys:        fmt.Sprintf("%.1f MB", float64(m.Sys)/1024/1024),
		GCRuns:     m.NumGC,
	}
}
