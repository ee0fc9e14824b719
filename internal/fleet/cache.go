package fleet

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// ChangeEvent 状态变化事件，由缓存在写入后发出
type ChangeEvent struct {
	TenantID int64
	Status   models.DerivedStatus
}

// vehicleEntry 单辆车在缓存中的内部状态
type vehicleEntry struct {
	status       models.DerivedStatus
	lastSample   *models.TelemetrySample
	slowSince    time.Time // 开始低速的时刻，移动中为零值
	reportedStep int       // 上次发出事件时延误所处的步长档位
}

// tenantFleet 单个租户的车队状态
// snapshot 是不可变切片，写入时整体替换，读路径完全无锁
type tenantFleet struct {
	mu       sync.Mutex
	vehicles map[int64]*vehicleEntry
	snapshot atomic.Pointer[[]models.DerivedStatus]
}

// Cache 车队快照缓存：每租户一份，读写的唯一权威
type Cache struct {
	logger    *zap.Logger
	cfg       DeriverConfig
	delayStep int

	mu      sync.RWMutex
	tenants map[int64]*tenantFleet

	// 状态变化回调（在租户锁外调用）
	onChange func(ChangeEvent)
}

// NewCache 创建缓存
func NewCache(logger *zap.Logger, cfg DeriverConfig, delayStep int, onChange func(ChangeEvent)) *Cache {
	if delayStep < 1 {
		delayStep = 1
	}
	return &Cache{
		logger:    logger,
		cfg:       cfg,
		delayStep: delayStep,
		tenants:   make(map[int64]*tenantFleet),
		onChange:  onChange,
	}
}

// EnsureTenant 初始化租户缓存（租户激活时调用）
func (c *Cache) EnsureTenant(tenantID int64) {
	c.getOrCreateTenant(tenantID)
}

// DropTenant 释放租户缓存（租户停用时调用）
func (c *Cache) DropTenant(tenantID int64) {
	c.mu.Lock()
	delete(c.tenants, tenantID)
	c.mu.Unlock()
}

// EnsureVehicle 将车辆登记进缓存；没有任何样本的车辆定义为 offline
func (c *Cache) EnsureVehicle(tenantID, vehicleID int64) {
	tf := c.getOrCreateTenant(tenantID)

	tf.mu.Lock()
	if _, ok := tf.vehicles[vehicleID]; !ok {
		tf.vehicles[vehicleID] = &vehicleEntry{
			status: models.DerivedStatus{VehicleID: vehicleID, Status: models.StatusOffline},
		}
		tf.rebuildSnapshot()
	}
	tf.mu.Unlock()
}

// Restore 用落地的状态预热缓存（进程重启后恢复用，不发事件）
func (c *Cache) Restore(tenantID int64, status models.DerivedStatus) {
	tf := c.getOrCreateTenant(tenantID)

	tf.mu.Lock()
	tf.vehicles[status.VehicleID] = &vehicleEntry{
		status:       status,
		reportedStep: status.DelayMinutes / c.delayStep,
	}
	tf.rebuildSnapshot()
	tf.mu.Unlock()
}

// ApplySample 应用新样本并返回推导后的状态
// 同一车辆相同时间戳的重复样本是 no-op；仅在状态变化或延误跨过上报步长时发事件
func (c *Cache) ApplySample(tenantID int64, sample *models.TelemetrySample, schedule *models.RouteSchedule, now time.Time) (models.DerivedStatus, error) {
	if err := ValidateSample(sample); err != nil {
		return models.DerivedStatus{}, err
	}

	tf := c.getOrCreateTenant(tenantID)

	tf.mu.Lock()
	entry, ok := tf.vehicles[sample.VehicleID]
	if !ok {
		entry = &vehicleEntry{
			status: models.DerivedStatus{VehicleID: sample.VehicleID, Status: models.StatusOffline},
		}
		tf.vehicles[sample.VehicleID] = entry
	}

	// 重复时间戳：幂等 no-op，返回当前状态
	if entry.lastSample != nil && entry.lastSample.RecordedAt.Equal(sample.RecordedAt) {
		status := entry.status
		tf.mu.Unlock()
		return status, nil
	}

	// 维护低速起始时刻，idle 判定要求持续低速
	if sample.Speed < c.cfg.IdleSpeedKmh {
		if entry.slowSince.IsZero() {
			entry.slowSince = sample.RecordedAt
		}
	} else {
		entry.slowSince = time.Time{}
	}

	prev := entry.status
	next := Derive(c.cfg, sample, schedule, entry.slowSince, now)

	step := next.DelayMinutes / c.delayStep
	emit := next.Status != prev.Status || step != entry.reportedStep

	entry.lastSample = sample
	entry.status = next
	if emit {
		entry.reportedStep = step
	}
	tf.rebuildSnapshot()
	tf.mu.Unlock()

	if emit && c.onChange != nil {
		c.onChange(ChangeEvent{TenantID: tenantID, Status: next})
	}

	return next, nil
}

// SweepStale 周期清扫：把静默窗口外的车辆转为 offline 并发事件
// 即使没有任何新样本到达，车辆也能通过清扫转为 offline
func (c *Cache) SweepStale(tenantID int64, now time.Time) {
	c.mu.RLock()
	tf, ok := c.tenants[tenantID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	var events []ChangeEvent

	tf.mu.Lock()
	for vehicleID, entry := range tf.vehicles {
		if entry.status.Status == models.StatusOffline {
			continue
		}
		if entry.lastSample != nil && now.Sub(entry.lastSample.RecordedAt) <= c.cfg.StalenessWindow {
			continue
		}

		entry.status = models.DerivedStatus{
			VehicleID:    vehicleID,
			Status:       models.StatusOffline,
			LastSampleAt: entry.status.LastSampleAt,
		}
		entry.reportedStep = 0
		events = append(events, ChangeEvent{TenantID: tenantID, Status: entry.status})
	}
	if len(events) > 0 {
		tf.rebuildSnapshot()
	}
	tf.mu.Unlock()

	if c.onChange != nil {
		for _, ev := range events {
			c.onChange(ev)
		}
	}

	if len(events) > 0 {
		c.logger.Debug("Swept stale vehicles",
			zap.Int64("tenant_id", tenantID),
			zap.Int("offline_count", len(events)))
	}
}

// Snapshot 返回租户当前的全量状态视图（无锁读）
func (c *Cache) Snapshot(tenantID int64) []models.DerivedStatus {
	c.mu.RLock()
	tf, ok := c.tenants[tenantID]
	c.mu.RUnlock()
	if !ok {
		return []models.DerivedStatus{}
	}

	snap := tf.snapshot.Load()
	if snap == nil {
		return []models.DerivedStatus{}
	}
	return *snap
}

func (c *Cache) getOrCreateTenant(tenantID int64) *tenantFleet {
	c.mu.RLock()
	tf, ok := c.tenants[tenantID]
	c.mu.RUnlock()
	if ok {
		return tf
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tf, ok = c.tenants[tenantID]; ok {
		return tf
	}
	tf = &tenantFleet{vehicles: make(map[int64]*vehicleEntry)}
	empty := []models.DerivedStatus{}
	tf.snapshot.Store(&empty)
	c.tenants[tenantID] = tf
	return tf
}

// rebuildSnapshot 重建不可变快照，调用方必须持有 tf.mu
func (tf *tenantFleet) rebuildSnapshot() {
	snap := make([]models.DerivedStatus, 0, len(tf.vehicles))
	for _, entry := range tf.vehicles {
		snap = append(snap, entry.status)
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].VehicleID < snap[j].VehicleID })
	tf.snapshot.Store(&snap)
}
