package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/cuongbtq/labelscan/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// HealthHandler reports whether the backing services answer
type HealthHandler struct {
	logger  *slog.Logger
	service string
	checks  map[string]HealthCheck
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:  deps.Logger,
		service: deps.ServiceName,
		checks:  deps.HealthChecks,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := dto.HealthResponse{
		Status:  "healthy",
		Service: h.service,
		Checks:  make(map[string]string, len(names)),
	}
	code := http.StatusOK

	for _, name := range names {
		if err := h.checks[name](c.Request.Context()); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = err.Error()
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	c.JSON(code, resp)
}
