package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campusops/fleetwatch/internal/api/handlers"
	"github.com/campusops/fleetwatch/internal/config"
	"github.com/campusops/fleetwatch/internal/expense"
	"github.com/campusops/fleetwatch/internal/repository"
	"github.com/campusops/fleetwatch/internal/service"
	"github.com/campusops/fleetwatch/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Fleetwatch", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	vehicleRepo := repository.NewVehicleRepository(db)
	telemetryRepo := repository.NewTelemetryRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	statusRepo := repository.NewStatusRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	baselineRepo := repository.NewBaselineRepository(db)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger, cfg.SubscriberQueue)
	go wsHub.Run()

	// 创建车队服务
	fleetService := service.NewFleetService(
		cfg,
		logger,
		vehicleRepo,
		telemetryRepo,
		scheduleRepo,
		statusRepo,
		wsHub,
	)

	// 新订阅者入场时拿到的全量快照
	wsHub.SetSnapshotProvider(func(tenantID int64) interface{} {
		return fleetService.Snapshot(tenantID)
	})

	// 创建费用服务
	anomalyEngine := expense.NewEngine(logger, expense.EngineConfig{
		Sigma:       cfg.AnomalySigma,
		Warmup:      cfg.AnomalyWarmup,
		CeilingBase: cfg.AnomalyCeilingBase,
		RetryCount:  cfg.BaselineRetry,
	}, baselineRepo, expenseRepo)
	expenseService := expense.NewService(logger, anomalyEngine, expenseRepo, vehicleRepo)

	// 启动车队服务（恢复已有租户）
	if err := fleetService.Start(ctx); err != nil {
		logger.Fatal("Failed to start fleet service", zap.Error(err))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		vehicleRepo,
		telemetryRepo,
		scheduleRepo,
		expenseRepo,
		fleetService,
		expenseService,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止服务
	fleetService.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
