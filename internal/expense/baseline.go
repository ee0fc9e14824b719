package expense

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// BaselineStore 基线持久化接口
type BaselineStore interface {
	Get(ctx context.Context, tenantID, vehicleID int64, category string) (*models.CategoryBaseline, error)
	Upsert(ctx context.Context, baseline *models.CategoryBaseline) error
}

// EngineConfig 异常检测参数
type EngineConfig struct {
	Sigma       float64 // 偏离基线多少个标准差判定可疑
	Warmup      int64   // 预热样本数，不足时一律不判可疑
	CeilingBase float64 // 小型车单笔硬上限，按容量等级放大
	RetryCount  int     // 基线重算失败的重试次数
}

// Verdict 异常判定结果
type Verdict struct {
	Suspicious bool   `json:"suspicious"`
	Reason     string `json:"reason,omitempty"`
}

// Engine 异常基线引擎
// 每 (租户, 车辆, 类别) 一把锁，互不相关的键不产生竞争
type Engine struct {
	logger    *zap.Logger
	cfg       EngineConfig
	baselines BaselineStore
	expenses  ExpenseStore

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// NewEngine 创建引擎
func NewEngine(logger *zap.Logger, cfg EngineConfig, baselines BaselineStore, expenses ExpenseStore) *Engine {
	return &Engine{
		logger:    logger,
		cfg:       cfg,
		baselines: baselines,
		expenses:  expenses,
		keyLocks:  make(map[string]*sync.Mutex),
	}
}

// Evaluate 判定一笔费用是否可疑，并把金额并入基线
// 基线存储不可用时返回错误，提交方必须看到失败而不是静默跳过检测
func (e *Engine) Evaluate(ctx context.Context, vehicle *models.Vehicle, category string, amount float64) (Verdict, error) {
	lock := e.keyLock(vehicle.TenantID, vehicle.ID, category)
	lock.Lock()
	defer lock.Unlock()

	baseline, err := e.baselines.Get(ctx, vehicle.TenantID, vehicle.ID, category)
	if err != nil {
		return Verdict{}, fmt.Errorf("load baseline: %w", err)
	}
	if baseline == nil {
		// 首笔费用时惰性创建
		baseline = &models.CategoryBaseline{
			TenantID:  vehicle.TenantID,
			VehicleID: vehicle.ID,
			Category:  category,
		}
	}

	verdict := e.classify(baseline, vehicle, category, amount)

	// 先判定后并入：本笔金额不参与对自己的判定
	baseline.SampleCount, baseline.Mean, baseline.M2 = welfordAdd(baseline.SampleCount, baseline.Mean, baseline.M2, amount)
	if err := e.baselines.Upsert(ctx, baseline); err != nil {
		return Verdict{}, fmt.Errorf("update baseline: %w", err)
	}

	return verdict, nil
}

// classify 对金额做基线判定
func (e *Engine) classify(baseline *models.CategoryBaseline, vehicle *models.Vehicle, category string, amount float64) Verdict {
	// 预热期内历史不足，一律不判可疑
	if baseline.SampleCount < e.cfg.Warmup {
		return Verdict{}
	}

	// 按容量等级的单笔硬上限
	ceiling := e.cfg.CeilingBase * capacityFactor(vehicle.CapacityClass())
	if amount > ceiling {
		return Verdict{
			Suspicious: true,
			Reason: fmt.Sprintf("amount %.2f exceeds the %.2f single-entry ceiling for a %s-capacity vehicle",
				amount, ceiling, vehicle.CapacityClass()),
		}
	}

	stddev := welfordStddev(baseline.SampleCount, baseline.M2)
	if stddev == 0 {
		// 历史完全一致：任何不同金额都可疑，相同金额不可疑
		if amount != baseline.Mean {
			return Verdict{
				Suspicious: true,
				Reason: fmt.Sprintf("amount %.2f differs from this vehicle's invariant %s spend of %.2f",
					amount, category, baseline.Mean),
			}
		}
		return Verdict{}
	}

	deviation := math.Abs(amount-baseline.Mean) / stddev
	if deviation <= e.cfg.Sigma {
		return Verdict{}
	}

	if baseline.Mean > 0 && amount > baseline.Mean {
		return Verdict{
			Suspicious: true,
			Reason: fmt.Sprintf("amount is %.1f× this vehicle's average %s spend",
				amount/baseline.Mean, category),
		}
	}
	return Verdict{
		Suspicious: true,
		Reason: fmt.Sprintf("amount deviates %.1fσ from this vehicle's average %s spend",
			deviation, category),
	}
}

// Recompute 按未被驳回的历史金额重算基线
// 驳回费用后的修正路径，失败时重试而不是留下污染的基线
func (e *Engine) Recompute(ctx context.Context, tenantID, vehicleID int64, category string) error {
	lock := e.keyLock(tenantID, vehicleID, category)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryCount; attempt++ {
		lastErr = e.recomputeOnce(ctx, tenantID, vehicleID, category)
		if lastErr == nil {
			return nil
		}
		e.logger.Warn("Baseline recompute failed, retrying",
			zap.Int64("tenant_id", tenantID),
			zap.Int64("vehicle_id", vehicleID),
			zap.String("category", category),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	return fmt.Errorf("recompute baseline after %d attempts: %w", e.cfg.RetryCount, lastErr)
}

func (e *Engine) recomputeOnce(ctx context.Context, tenantID, vehicleID int64, category string) error {
	amounts, err := e.expenses.ListAmountsForBaseline(ctx, tenantID, vehicleID, category)
	if err != nil {
		return fmt.Errorf("list amounts: %w", err)
	}

	baseline := &models.CategoryBaseline{
		TenantID:  tenantID,
		VehicleID: vehicleID,
		Category:  category,
	}
	for _, amount := range amounts {
		baseline.SampleCount, baseline.Mean, baseline.M2 = welfordAdd(baseline.SampleCount, baseline.Mean, baseline.M2, amount)
	}

	return e.baselines.Upsert(ctx, baseline)
}

// keyLock 获取 (租户, 车辆, 类别) 对应的锁
func (e *Engine) keyLock(tenantID, vehicleID int64, category string) *sync.Mutex {
	key := fmt.Sprintf("%d/%d/%s", tenantID, vehicleID, category)

	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.keyLocks[key] = lock
	}
	return lock
}

// capacityFactor 容量等级对硬上限的放大系数
func capacityFactor(class string) float64 {
	switch class {
	case models.CapacityMedium:
		return 2
	case models.CapacityLarge:
		return 4
	default:
		return 1
	}
}
