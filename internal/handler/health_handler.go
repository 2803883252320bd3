package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	database Pinger
	redis    Pinger
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(database, redis Pinger) *HealthHandler {
	return &HealthHandler{
		database: database,
		redis:    redis,
	}
}

// LivenessProbe checks if the application is running.
func (h *HealthHandler) LivenessProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "UP",
		"time":   time.Now(),
	})
}

// ReadinessProbe checks if the application is ready to serve traffic.
func (h *HealthHandler) ReadinessProbe(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	body := gin.H{"status": "UP", "time": time.Now()}
	status := http.StatusOK
	for name, dep := range map[string]Pinger{"database": h.database, "redis": h.redis} {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			body[name] = "unhealthy"
			body[name+"_error"] = err.Error()
			body["status"] = "DOWN"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "healthy"
	}

	c.JSON(status, body)
}
