package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// CreateSchedule 创建线路班次计划
// POST /api/tenants/:tid/schedules
func (h *Handler) CreateSchedule(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var req struct {
		Name          string                `json:"name" binding:"required"`
		DepartureTime string                `json:"departure_time" binding:"required"` // "HH:MM"
		Stops         []models.ScheduleStop `json:"stops" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if _, err := time.Parse("15:04", req.DepartureTime); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid departure_time, expected HH:MM"})
		return
	}

	schedule := &models.RouteSchedule{
		TenantID:      tenantID,
		Name:          req.Name,
		DepartureTime: req.DepartureTime,
		Stops:         req.Stops,
	}
	if err := h.scheduleRepo.Create(c.Request.Context(), schedule); err != nil {
		h.logger.Error("Failed to create route schedule", zap.Error(err), zap.Int64("tenant_id", tenantID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create route schedule"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

// ListSchedules 获取租户的班次计划列表
// GET /api/tenants/:tid/schedules
func (h *Handler) ListSchedules(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	schedules, err := h.scheduleRepo.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to list route schedules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list route schedules"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedules})
}
