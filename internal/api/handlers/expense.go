package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
	"github.com/campusops/fleetwatch/internal/repository"
)

// SubmitExpense 提交费用记录
// POST /api/tenants/:tid/expenses
// 返回异常判定结果；基线存储不可用时整个提交失败，不会静默跳过检测
func (h *Handler) SubmitExpense(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var req struct {
		VehicleID int64   `json:"vehicle_id" binding:"required"`
		Category  string  `json:"category" binding:"required"`
		Amount    float64 `json:"amount" binding:"required"`
		SpentOn   string  `json:"spent_on" binding:"required"` // "YYYY-MM-DD"
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	spentOn, err := time.Parse("2006-01-02", req.SpentOn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid spent_on date"})
		return
	}

	entry, err := h.expenseService.Submit(c.Request.Context(), tenantID, req.VehicleID, req.Category, req.Amount, spentOn)
	if err != nil {
		h.logger.Error("Failed to submit expense", zap.Error(err), zap.Int64("tenant_id", tenantID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accepted":   true,
		"suspicious": entry.AnomalyState != models.AnomalyNotFlagged,
		"reason":     entry.AnomalyReason,
		"data":       entry,
	})
}

// ListExpenses 获取费用列表
// GET /api/tenants/:tid/expenses?vehicle_id=&status=&flagged=
func (h *Handler) ListExpenses(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
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

	vehicleID, _ := strconv.ParseInt(c.DefaultQuery("vehicle_id", "0"), 10, 64)
	flagged, _ := strconv.ParseBool(c.DefaultQuery("flagged", "false"))
	filter := repository.ExpenseFilter{
		VehicleID:    vehicleID,
		ReviewStatus: c.Query("status"),
		FlaggedOnly:  flagged,
	}

	offset := (page - 1) * perPage

	entries, err := h.expenseRepo.ListByTenant(c.Request.Context(), tenantID, filter, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list expenses", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list expenses"})
		return
	}

	total, _ := h.expenseRepo.CountByTenant(c.Request.Context(), tenantID, filter)

	c.JSON(http.StatusOK, gin.H{
		"data": entries,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetExpense 获取费用详情
// GET /api/tenants/:tid/expenses/:id
func (h *Handler) GetExpense(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expense ID"})
		return
	}

	entry, err := h.expenseRepo.GetByID(c.Request.Context(), tenantID, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Expense not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

// ApproveExpense 通过审核
// POST /api/tenants/:tid/expenses/:id/approve
func (h *Handler) ApproveExpense(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expense ID"})
		return
	}

	entry, err := h.expenseService.Approve(c.Request.Context(), tenantID, id)
	if err != nil {
		h.logger.Error("Failed to approve expense", zap.Error(err), zap.Int64("entry_id", id))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

// RejectExpense 驳回费用并触发基线修正
// POST /api/tenants/:tid/expenses/:id/reject
func (h *Handler) RejectExpense(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expense ID"})
		return
	}

	entry, err := h.expenseService.Reject(c.Request.Context(), tenantID, id)
	if err != nil {
		h.logger.Error("Failed to reject expense", zap.Error(err), zap.Int64("entry_id", id))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

// ResolveExpense 处理异常标记
// POST /api/tenants/:tid/expenses/:id/resolve
func (h *Handler) ResolveExpense(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expense ID"})
		return
	}

	var req struct {
		Note string `json:"note" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	entry, err := h.expenseService.Resolve(c.Request.Context(), tenantID, id, req.Note)
	if err != nil {
		h.logger.Error("Failed to resolve anomaly", zap.Error(err), zap.Int64("entry_id", id))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}
