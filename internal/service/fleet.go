package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/config"
	"github.com/campusops/fleetwatch/internal/fleet"
	"github.com/campusops/fleetwatch/internal/models"
	"github.com/campusops/fleetwatch/pkg/ws"
)

// VehicleStore 车辆查询接口
type VehicleStore interface {
	GetByID(ctx context.Context, tenantID, id int64) (*models.Vehicle, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]*models.Vehicle, error)
	ListTenantIDs(ctx context.Context) ([]int64, error)
}

// TelemetryStore 遥测样本写入接口
type TelemetryStore interface {
	Create(ctx context.Context, sample *models.TelemetrySample) (bool, error)
}

// ScheduleStore 班次计划查询接口
type ScheduleStore interface {
	GetByID(ctx context.Context, id int64) (*models.RouteSchedule, error)
}

// StatusStore 推导状态回写接口
type StatusStore interface {
	Upsert(ctx context.Context, tenantID int64, status *models.DerivedStatus) error
	ListByTenant(ctx context.Context, tenantID int64) ([]*models.DerivedStatus, error)
}

// FleetService 车队服务：样本接入管道 + 租户生命周期
type FleetService struct {
	cfg       *config.Config
	logger    *zap.Logger
	vehicles  VehicleStore
	telemetry TelemetryStore
	schedules ScheduleStore
	statuses  StatusStore
	cache     *fleet.Cache
	hub       *ws.Hub

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	sweeps  map[int64]chan struct{} // tenantID -> 清扫协程停止信号

	schedMu    sync.RWMutex
	schedCache map[int64]*models.RouteSchedule
}

// NewFleetService 创建车队服务
func NewFleetService(
	cfg *config.Config,
	logger *zap.Logger,
	vehicles VehicleStore,
	telemetry TelemetryStore,
	schedules ScheduleStore,
	statuses StatusStore,
	hub *ws.Hub,
) *FleetService {
	svc := &FleetService{
		cfg:        cfg,
		logger:     logger,
		vehicles:   vehicles,
		telemetry:  telemetry,
		schedules:  schedules,
		statuses:   statuses,
		hub:        hub,
		sweeps:     make(map[int64]chan struct{}),
		schedCache: make(map[int64]*models.RouteSchedule),
	}

	// 创建快照缓存，状态变化统一经 onFleetChange 出站
	svc.cache = fleet.NewCache(logger, fleet.DeriverConfig{
		StalenessWindow: cfg.StalenessWindow,
		IdleSpeedKmh:    cfg.IdleSpeedKmh,
		IdleDuration:    cfg.IdleDuration,
	}, cfg.DelayReportStep, svc.onFleetChange)

	return svc
}

// Start 启动服务：恢复所有已有租户的缓存和清扫任务
func (s *FleetService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Fleet service already running, skipping start")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting fleet service")

	tenantIDs, err := s.vehicles.ListTenantIDs(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("list tenants: %w", err)
	}

	for _, tenantID := range tenantIDs {
		if err := s.ActivateTenant(ctx, tenantID); err != nil {
			s.logger.Error("Failed to activate tenant", zap.Error(err), zap.Int64("tenant_id", tenantID))
		}
	}

	s.logger.Info("Fleet service started", zap.Int("tenants", len(tenantIDs)))
	return nil
}

// Stop 停止服务：取消所有清扫任务并等待退出
func (s *FleetService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for tenantID, stop := range s.sweeps {
		close(stop)
		delete(s.sweeps, tenantID)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Fleet service stopped")
}

// ActivateTenant 激活租户：预热缓存、登记车辆、启动清扫协程
func (s *FleetService) ActivateTenant(ctx context.Context, tenantID int64) error {
	s.cache.EnsureTenant(tenantID)

	// 用落地的状态预热
	statuses, err := s.statuses.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("restore statuses: %w", err)
	}
	for _, status := range statuses {
		s.cache.Restore(tenantID, *status)
	}

	// 登记全部车辆；没有任何样本的车辆定义为 offline
	vehicles, err := s.vehicles.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list vehicles: %w", err)
	}
	for _, v := range vehicles {
		s.cache.EnsureVehicle(tenantID, v.ID)
	}

	s.mu.Lock()
	if _, ok := s.sweeps[tenantID]; !ok {
		stop := make(chan struct{})
		s.sweeps[tenantID] = stop
		s.wg.Add(1)
		go s.sweepLoop(tenantID, stop)
	}
	s.mu.Unlock()

	s.logger.Info("Tenant activated", zap.Int64("tenant_id", tenantID), zap.Int("vehicles", len(vehicles)))
	return nil
}

// DeactivateTenant 停用租户：取消清扫任务、释放缓存、断开全部订阅者
func (s *FleetService) DeactivateTenant(tenantID int64) {
	s.mu.Lock()
	if stop, ok := s.sweeps[tenantID]; ok {
		close(stop)
		delete(s.sweeps, tenantID)
	}
	s.mu.Unlock()

	s.cache.DropTenant(tenantID)
	if s.hub != nil {
		s.hub.DropTenant(tenantID)
	}

	s.logger.Info("Tenant deactivated", zap.Int64("tenant_id", tenantID))
}

// RegisterVehicle 把新登记的车辆加入缓存；出现首个样本前是 offline
func (s *FleetService) RegisterVehicle(tenantID, vehicleID int64) {
	s.cache.EnsureVehicle(tenantID, vehicleID)
}

// Ingest 接入一条遥测样本并返回推导后的状态
// 非法样本丢弃并记日志，返回 (nil, nil)，绝不影响其他车辆的处理；
// 同一车辆相同时间戳的重复样本是幂等 no-op
func (s *FleetService) Ingest(ctx context.Context, sample *models.TelemetrySample) (*models.DerivedStatus, error) {
	vehicle, err := s.vehicles.GetByID(ctx, sample.TenantID, sample.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("unknown vehicle %d: %w", sample.VehicleID, err)
	}

	if err := fleet.ValidateSample(sample); err != nil {
		s.logger.Warn("Dropped malformed telemetry sample",
			zap.Int64("tenant_id", sample.TenantID),
			zap.Int64("vehicle_id", sample.VehicleID),
			zap.Error(err))
		return nil, nil
	}

	// 落地失败不阻塞状态推导，缓存才是读路径的权威
	if _, err := s.telemetry.Create(ctx, sample); err != nil {
		s.logger.Error("Failed to persist telemetry sample",
			zap.Int64("vehicle_id", sample.VehicleID),
			zap.Error(err))
	}

	var schedule *models.RouteSchedule
	if vehicle.RouteScheduleID != nil {
		schedule = s.getSchedule(ctx, *vehicle.RouteScheduleID)
	}

	status, err := s.cache.ApplySample(sample.TenantID, sample, schedule, time.Now())
	if err != nil {
		s.logger.Warn("Dropped telemetry sample",
			zap.Int64("vehicle_id", sample.VehicleID),
			zap.Error(err))
		return nil, nil
	}

	return &status, nil
}

// Snapshot 返回租户当前的全量状态视图（轮询回退路径和推送共用同一份）
func (s *FleetService) Snapshot(tenantID int64) []models.DerivedStatus {
	return s.cache.Snapshot(tenantID)
}

// sweepLoop 租户清扫协程：定期把静默车辆转为 offline
func (s *FleetService) sweepLoop(tenantID int64, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.cache.SweepStale(tenantID, time.Now())
		}
	}
}

// onFleetChange 状态变化出站：回写数据库并推送给订阅者
func (s *FleetService) onFleetChange(ev fleet.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.statuses.Upsert(ctx, ev.TenantID, &ev.Status); err != nil {
		s.logger.Error("Failed to persist derived status",
			zap.Int64("vehicle_id", ev.Status.VehicleID),
			zap.Error(err))
	}

	if s.hub != nil {
		s.hub.BroadcastStatusUpdate(ev.TenantID, ev.Status)
	}
}

// getSchedule 获取班次计划，首次命中后常驻内存
func (s *FleetService) getSchedule(ctx context.Context, id int64) *models.RouteSchedule {
	s.schedMu.RLock()
	schedule, ok := s.schedCache[id]
	s.schedMu.RUnlock()
	if ok {
		return schedule
	}

	schedule, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to load route schedule", zap.Int64("schedule_id", id), zap.Error(err))
		return nil
	}

	s.schedMu.Lock()
	s.schedCache[id] = schedule
	s.schedMu.Unlock()
	return schedule
}
