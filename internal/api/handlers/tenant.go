package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActivateTenant 激活租户的车队监控
// POST /api/tenants/:tid/activate
// 预热快照缓存并启动离线清扫任务
func (h *Handler) ActivateTenant(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	if err := h.fleetService.ActivateTenant(c.Request.Context(), tenantID); err != nil {
		h.logger.Error("Failed to activate tenant", zap.Error(err), zap.Int64("tenant_id", tenantID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to activate tenant"})
		return
	}

	h.logger.Info("Tenant activated via API", zap.Int64("tenant_id", tenantID))
	c.JSON(http.StatusOK, gin.H{
		"message":   "Tenant activated",
		"tenant_id": tenantID,
	})
}

// DeactivateTenant 停用租户的车队监控
// POST /api/tenants/:tid/deactivate
// 取消清扫任务并断开该租户的全部订阅者
func (h *Handler) DeactivateTenant(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	h.fleetService.DeactivateTenant(tenantID)

	h.logger.Info("Tenant deactivated via API", zap.Int64("tenant_id", tenantID))
	c.JSON(http.StatusOK, gin.H{
		"message":   "Tenant deactivated",
		"tenant_id": tenantID,
	})
}
