package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"kubeware-go/internal/config"
	"kubeware-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	service *service.ProxyService
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, svc *service.ProxyService, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, service: svc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type memberStatus struct {
	Name     string `json:"name"`
	Request  bool   `json:"request"`
	Response bool   `json:"response"`
	FailOpen bool   `json:"fail_open"`
}

type statusResponse struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	BackendURL  string         `json:"backend_url"`
	Middlewares []memberStatus `json:"middlewares"`
}

// Status reports the version, the backend and the chain currently in use.
func (h *HealthHandler) Status(c echo.Context) error {
	members := h.service.Chain().Members()
	out := statusResponse{
		Status:      "ok",
		Version:     string(h.version),
		BackendURL:  h.cfg.Backend.URL,
		Middlewares: make([]memberStatus, 0, len(members)),
	}
	for _, m := range members {
		out.Middlewares = append(out.Middlewares, memberStatus{
			Name:     m.Name(),
			Request:  m.Request,
			Response: m.Response,
			FailOpen: m.FailOpen,
		})
	}
	return c.JSON(http.StatusOK, out)
}
