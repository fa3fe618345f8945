package controller

import (
	"context"
	"net/http"

	"github.com/api-sage/payment-gateway/internal/adapter/http/models"
	"github.com/api-sage/payment-gateway/internal/commons"
)

type HealthService interface {
	Health(ctx context.Context) (commons.Response[models.HealthResponse], error)
}

type HealthController struct {
	service HealthService
}

func NewHealthController(service HealthService) *HealthController {
	return &HealthController{service: service}
}

// RegisterRoutes intentionally skips the auth middleware: liveness probes
// carry no credentials.
func (c *HealthController) RegisterRoutes(mux *http.ServeMux, _ func(http.Handler) http.Handler) {
	mux.Handle("GET /health", http.HandlerFunc(c.health))
}

func (c *HealthController) health(w http.ResponseWriter, r *http.Request) {
	response, err := c.service.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, response)
		return
	}

	status := http.StatusOK
	if response.Data != nil && !response.Data.EngineUp {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}
