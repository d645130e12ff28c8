package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/parkwise/services/iot/internal/core"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	services *core.Services
}

// NewHandlers creates a new handler instance.
func NewHandlers(services *core.Services) *Handlers {
	return &Handlers{services: services}
}

// HealthCheck returns service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "parking-iot-api",
	})
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// respondError maps business errors onto the HTTP taxonomy.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrDeviceNotFound),
		errors.Is(err, core.ErrParkingNotFound),
		errors.Is(err, core.ErrSpotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrSerialNumberUsed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrSpotNotInParking), core.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case core.IsAccessDenied(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// GetKPIs returns fleet health aggregates for the caller.
func (h *Handlers) GetKPIs(c *gin.Context) {
	kpis, err := h.services.Devices.KPIs(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, kpis)
}

// ListDevices returns the caller's devices, filtered and paginated.
func (h *Handlers) ListDevices(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	filter := core.DeviceFilter{
		Type:      c.Query("type"),
		Status:    c.Query("status"),
		ParkingID: c.Query("parking_id"),
		Query:     c.Query("q"),
		Page:      page,
		Size:      size,
	}

	list, err := h.services.Devices.List(c.Request.Context(), userID(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetDevice returns one enriched device.
func (h *Handlers) GetDevice(c *gin.Context) {
	device, err := h.services.Devices.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// CreateDevice provisions a new device.
func (h *Handlers) CreateDevice(c *gin.Context) {
	var req core.CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	device, err := h.services.Devices.Create(c.Request.Context(), userID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

// UpdateDevice applies a partial device update.
func (h *Handlers) UpdateDevice(c *gin.Context) {
	var req core.UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	device, err := h.services.Devices.Update(c.Request.Context(), userID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// DeleteDevice removes a device.
func (h *Handlers) DeleteDevice(c *gin.Context) {
	if err := h.services.Devices.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetMaintenance forces a device into maintenance.
func (h *Handlers) SetMaintenance(c *gin.Context) {
	device, err := h.services.Devices.SetMaintenance(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// RestoreDevice brings a device back online.
func (h *Handlers) RestoreDevice(c *gin.Context) {
	device, err := h.services.Devices.Restore(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// BulkCreateDevices provisions a batch of devices under one parking.
func (h *Handlers) BulkCreateDevices(c *gin.Context) {
	var req core.BulkCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	result, err := h.services.Devices.BulkCreate(c.Request.Context(), userID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ReissueToken rotates a device credential.
func (h *Handlers) ReissueToken(c *gin.Context) {
	creds, err := h.services.Devices.ReissueCredentials(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, creds)
}

// IngestTelemetry receives a device report, addressed by serial
// number. No user token: the serial is the device-level credential.
func (h *Handlers) IngestTelemetry(c *gin.Context) {
	var report core.TelemetryReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telemetry format"})
		return
	}

	if err := h.services.Telemetry.Ingest(c.Request.Context(), c.Param("id"), report); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
