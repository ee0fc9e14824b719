package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// GetFleetSnapshot 获取租户车队的全量状态快照
// GET /api/tenants/:tid/fleet/snapshot
// 无法维持推送连接的客户端用这个接口轮询，两种读路径共用同一份缓存
func (h *Handler) GetFleetSnapshot(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.fleetService.Snapshot(tenantID)})
}

// ListVehicles 获取租户的车辆列表
// GET /api/tenants/:tid/vehicles
func (h *Handler) ListVehicles(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	vehicles, err := h.vehicleRepo.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to list vehicles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicles})
}

// UpsertVehicle 登记或更新车辆
// POST /api/tenants/:tid/vehicles
// 按 (tenant_id, registration) 幂等，登记系统可以全量重推
func (h *Handler) UpsertVehicle(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var req struct {
		Registration    string `json:"registration" binding:"required"`
		Name            string `json:"name"`
		SeatCapacity    int    `json:"seat_capacity" binding:"required"`
		RouteScheduleID *int64 `json:"route_schedule_id"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	vehicle := &models.Vehicle{
		TenantID:        tenantID,
		Registration:    req.Registration,
		Name:            req.Name,
		SeatCapacity:    req.SeatCapacity,
		RouteScheduleID: req.RouteScheduleID,
	}
	if err := h.vehicleRepo.Upsert(c.Request.Context(), vehicle); err != nil {
		h.logger.Error("Failed to upsert vehicle", zap.Error(err), zap.Int64("tenant_id", tenantID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upsert vehicle"})
		return
	}

	// 新车辆立刻出现在快照里（offline，直到首个样本到达）
	h.fleetService.RegisterVehicle(tenantID, vehicle.ID)

	c.JSON(http.StatusOK, gin.H{"data": vehicle})
}
