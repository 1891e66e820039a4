// Package health exposes the worker's read-only status API.
package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/extractor/internal/domain/mapping"
	"github.com/ehr/extractor/internal/domain/tracking"
	"github.com/ehr/extractor/internal/platform/fhir"
)

type Handler struct {
	ledger   tracking.Repository
	mappings *mapping.Store
	started  time.Time
}

func NewHandler(ledger tracking.Repository, mappings *mapping.Store) *Handler {
	return &Handler{ledger: ledger, mappings: mappings, started: time.Now()}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/status/:resourceType", h.Status)
}

type healthResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptimeSeconds"`
	ResourceTypes []string `json:"resourceTypes"`
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		ResourceTypes: h.mappings.ResourceTypes(),
	})
}

type statusResponse struct {
	ResourceType string                 `json:"resourceType"`
	Counts       *tracking.StatusCounts `json:"counts"`
	Recent       []*tracking.Entry      `json:"recentFailures"`
}

func (h *Handler) Status(c echo.Context) error {
	resourceType := c.Param("resourceType")
	if !fhir.IsKnownResourceType(resourceType) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown resource type")
	}

	ctx := c.Request().Context()
	counts, err := h.ledger.CountByStatus(ctx, resourceType)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	recent, err := h.ledger.ListFailedOrPending(ctx, resourceType, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, statusResponse{
		ResourceType: resourceType,
		Counts:       counts,
		Recent:       recent,
	})
}
