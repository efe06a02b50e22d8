package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/flashloan-arb-go/internal/models"
)

var startTime = time.Now()

const healthCheckTimeout = 3 * time.Second

// HealthChecker is a dependency that can be pinged.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RPCStatusReader reports the chain endpoint table.
type RPCStatusReader interface {
	RPCStatus() []models.RpcEndpoint
}

type HealthHandler struct {
	db      HealthChecker
	redis   HealthChecker
	rpc     RPCStatusReader
	version string
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// NewHealthHandler creates the health handler. A nil db or redis means the
// dependency is disabled by configuration and does not affect the status.
func NewHealthHandler(db, redis HealthChecker, rpc RPCStatusReader, version string) *HealthHandler {
	return &HealthHandler{
		db:      db,
		redis:   redis,
		rpc:     rpc,
		version: version,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	services := map[string]string{
		"database": checkDependency(ctx, h.db),
		"redis":    checkDependency(ctx, h.redis),
		"rpc":      h.checkRPC(),
	}

	// Determine overall status
	overallStatus := "healthy"
	for _, status := range services {
		if status != "healthy" && status != "disabled" {
			overallStatus = "unhealthy"
			break
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	}

	if overallStatus == "healthy" {
		c.JSON(http.StatusOK, response)
		return
	}
	c.JSON(http.StatusServiceUnavailable, response)
}

func checkDependency(ctx context.Context, dep HealthChecker) string {
	if dep == nil {
		return "disabled"
	}
	if err := dep.HealthCheck(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}

// checkRPC is healthy while at least one endpoint answered its last probe.
// Endpoints that have not been probed yet count as pending, not failed.
func (h *HealthHandler) checkRPC() string {
	if h.rpc == nil {
		return "unhealthy: not configured"
	}
	endpoints := h.rpc.RPCStatus()
	if len(endpoints) == 0 {
		return "unhealthy: no endpoints"
	}
	pending := 0
	for _, ep := range endpoints {
		switch ep.Status {
		case models.EndpointOnline:
			return "healthy"
		case models.EndpointPending:
			pending++
		}
	}
	if pending == len(endpoints) {
		return "healthy"
	}
	return "unhealthy: all endpoints offline"
}
