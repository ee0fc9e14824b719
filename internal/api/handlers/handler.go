package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/expense"
	"github.com/campusops/fleetwatch/internal/repository"
	"github.com/campusops/fleetwatch/internal/service"
	"github.com/campusops/fleetwatch/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger         *zap.Logger
	vehicleRepo    *repository.VehicleRepository
	telemetryRepo  *repository.TelemetryRepository
	scheduleRepo   *repository.ScheduleRepository
	expenseRepo    *repository.ExpenseRepository
	fleetService   *service.FleetService
	expenseService *expense.Service
	wsHub          *ws.Hub
	upgrader       websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	vehicleRepo *repository.VehicleRepository,
	telemetryRepo *repository.TelemetryRepository,
	scheduleRepo *repository.ScheduleRepository,
	expenseRepo *repository.ExpenseRepository,
	fleetService *service.FleetService,
	expenseService *expense.Service,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:         logger,
		vehicleRepo:    vehicleRepo,
		telemetryRepo:  telemetryRepo,
		scheduleRepo:   scheduleRepo,
		expenseRepo:    expenseRepo,
		fleetService:   fleetService,
		expenseService: expenseService,
		wsHub:          wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 遥测接入
		api.POST("/ingest/telemetry", h.IngestTelemetry)

		// 车队实时状态
		api.GET("/tenants/:tid/fleet/snapshot", h.GetFleetSnapshot)
		api.GET("/tenants/:tid/vehicles", h.ListVehicles)
		api.POST("/tenants/:tid/vehicles", h.UpsertVehicle)
		api.GET("/tenants/:tid/vehicles/:id/telemetry", h.ListVehicleTelemetry)

		// 班次计划
		api.GET("/tenants/:tid/schedules", h.ListSchedules)
		api.POST("/tenants/:tid/schedules", h.CreateSchedule)

		// 费用与异常处理
		api.POST("/tenants/:tid/expenses", h.SubmitExpense)
		api.GET("/tenants/:tid/expenses", h.ListExpenses)
		api.GET("/tenants/:tid/expenses/:id", h.GetExpense)
		api.POST("/tenants/:tid/expenses/:id/approve", h.ApproveExpense)
		api.POST("/tenants/:tid/expenses/:id/reject", h.RejectExpense)
		api.POST("/tenants/:tid/expenses/:id/resolve", h.ResolveExpense)

		// 租户生命周期
		api.POST("/tenants/:tid/activate", h.ActivateTenant)
		api.POST("/tenants/:tid/deactivate", h.DeactivateTenant)
	}

	// WebSocket
	r.GET("/ws/fleet", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 订阅：入场先收全量快照，之后是增量更新
func (h *Handler) HandleWebSocket(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Query("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant_id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, tenantID)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.TotalClients(),
	})
}

// tenantParam 解析路径中的租户 ID
func tenantParam(c *gin.Context) (int64, bool) {
	tenantID, err := strconv.ParseInt(c.Param("tid"), 10, 64)
	if err != nil || tenantID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant ID"})
		return 0, false
	}
	return tenantID, true
}
