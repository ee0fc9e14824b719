package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// IngestTelemetry 遥测接入
// POST /api/ingest/telemetry
// 非法样本丢弃但不报错（不中断上报端的后续样本）；重复时间戳是幂等 no-op
func (h *Handler) IngestTelemetry(c *gin.Context) {
	var req struct {
		TenantID  int64     `json:"tenant_id" binding:"required"`
		VehicleID int64     `json:"vehicle_id" binding:"required"`
		Timestamp time.Time `json:"timestamp" binding:"required"`
		Latitude  float64   `json:"latitude"`
		Longitude float64   `json:"longitude"`
		Speed     float64   `json:"speed"`
		Heading   int       `json:"heading"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sample := &models.TelemetrySample{
		TenantID:   req.TenantID,
		VehicleID:  req.VehicleID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Speed:      req.Speed,
		Heading:    req.Heading,
		RecordedAt: req.Timestamp,
	}

	status, err := h.fleetService.Ingest(c.Request.Context(), sample)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}
	if status == nil {
		// 样本被丢弃，接入流继续
		c.JSON(http.StatusAccepted, gin.H{"accepted": false, "dropped": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true, "data": status})
}

// ListVehicleTelemetry 获取车辆的遥测历史
// GET /api/tenants/:tid/vehicles/:id/telemetry
func (h *Handler) ListVehicleTelemetry(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	if _, err := h.vehicleRepo.GetByID(c.Request.Context(), tenantID, vehicleID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage

	samples, err := h.telemetryRepo.ListByVehicleID(c.Request.Context(), vehicleID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list telemetry samples", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list telemetry samples"})
		return
	}

	total, _ := h.telemetryRepo.CountByVehicleID(c.Request.Context(), vehicleID)

	c.JSON(http.StatusOK, gin.H{
		"data": samples,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}
