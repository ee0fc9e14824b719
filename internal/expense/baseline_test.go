package expense

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// fakeBaselineStore 内存基线存储
type fakeBaselineStore struct {
	baselines map[string]*models.CategoryBaseline
	getErr    error
	upsertErr error
}

func newFakeBaselineStore() *fakeBaselineStore {
	return &fakeBaselineStore{baselines: make(map[string]*models.CategoryBaseline)}
}

func baselineKey(tenantID, vehicleID int64, category string) string {
	return fmt.Sprintf("%d/%d/%s", tenantID, vehicleID, category)
}

func (f *fakeBaselineStore) Get(_ context.Context, tenantID, vehicleID int64, category string) (*models.CategoryBaseline, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	baseline, ok := f.baselines[baselineKey(tenantID, vehicleID, category)]
	if !ok {
		return nil, nil
	}
	copied := *baseline
	return &copied, nil
}

func (f *fakeBaselineStore) Upsert(_ context.Context, baseline *models.CategoryBaseline) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	copied := *baseline
	f.baselines[baselineKey(baseline.TenantID, baseline.VehicleID, baseline.Category)] = &copied
	return nil
}

// fakeExpenseStore 内存费用存储，listFailures 模拟重算时的瞬时失败
type fakeExpenseStore struct {
	entries      map[int64]*models.ExpenseEntry
	nextID       int64
	createErr    error
	listFailures int
}

func newFakeExpenseStore() *fakeExpenseStore {
	return &fakeExpenseStore{entries: make(map[int64]*models.ExpenseEntry)}
}

func (f *fakeExpenseStore) Create(_ context.Context, entry *models.ExpenseEntry) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	entry.ID = f.nextID
	copied := *entry
	f.entries[entry.ID] = &copied
	return nil
}

func (f *fakeExpenseStore) GetByID(_ context.Context, tenantID, id int64) (*models.ExpenseEntry, error) {
	entry, ok := f.entries[id]
	if !ok || entry.TenantID != tenantID {
		return nil, errors.New("expense entry not found")
	}
	copied := *entry
	return &copied, nil
}

func (f *fakeExpenseStore) UpdateReviewStatus(_ context.Context, tenantID, id int64, status string) error {
	entry, ok := f.entries[id]
	if !ok || entry.TenantID != tenantID {
		return errors.New("expense entry not found")
	}
	entry.ReviewStatus = status
	return nil
}

func (f *fakeExpenseStore) UpdateResolution(_ context.Context, tenantID, id int64, note string) error {
	entry, ok := f.entries[id]
	if !ok || entry.TenantID != tenantID {
		return errors.New("expense entry not found")
	}
	entry.AnomalyState = models.AnomalyResolved
	entry.ResolutionNote = note
	now := time.Now()
	entry.ResolvedAt = &now
	return nil
}

func (f *fakeExpenseStore) ListAmountsForBaseline(_ context.Context, tenantID, vehicleID int64, category string) ([]float64, error) {
	if f.listFailures > 0 {
		f.listFailures--
		return nil, errors.New("connection reset")
	}
	var amounts []float64
	for id := int64(1); id <= f.nextID; id++ {
		entry, ok := f.entries[id]
		if !ok {
			continue
		}
		if entry.TenantID != tenantID || entry.VehicleID != vehicleID || entry.Category != category {
			continue
		}
		if entry.ReviewStatus == models.ReviewRejected {
			continue
		}
		amounts = append(amounts, entry.Amount)
	}
	return amounts, nil
}

func testEngineConfig() EngineConfig {
	return EngineConfig{Sigma: 2.5, Warmup: 5, CeilingBase: 50000, RetryCount: 3}
}

func testVehicle(seatCapacity int) *models.Vehicle {
	return &models.Vehicle{ID: 7, TenantID: 1, Registration: "KA-01-F-1234", SeatCapacity: seatCapacity}
}

func TestEngine_WarmupNeverFlags(t *testing.T) {
	// 预热期内即使金额离谱也不判可疑（包括硬上限）
	baselines := newFakeBaselineStore()
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, newFakeExpenseStore())
	vehicle := testVehicle(12)

	for _, amount := range []float64{100, 900000, 3, 480000, 52} {
		verdict, err := engine.Evaluate(context.Background(), vehicle, models.CategoryFuel, amount)
		require.NoError(t, err)
		assert.False(t, verdict.Suspicious, "amount %v flagged during warmup", amount)
	}

	baseline, err := baselines.Get(context.Background(), 1, 7, models.CategoryFuel)
	require.NoError(t, err)
	require.NotNil(t, baseline)
	assert.Equal(t, int64(5), baseline.SampleCount)
}

func TestEngine_FlagsMultipleOfAverage(t *testing.T) {
	// 十笔 1900~2100 的燃油费后提交 7000，判定为均值的 3.5 倍
	baselines := newFakeBaselineStore()
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, newFakeExpenseStore())
	vehicle := testVehicle(12)

	history := []float64{1900, 1950, 2000, 2050, 2100, 2100, 2050, 2000, 1950, 1900}
	for _, amount := range history {
		verdict, err := engine.Evaluate(context.Background(), vehicle, models.CategoryFuel, amount)
		require.NoError(t, err)
		require.False(t, verdict.Suspicious, "normal amount %v flagged", amount)
	}

	verdict, err := engine.Evaluate(context.Background(), vehicle, models.CategoryFuel, 7000)
	require.NoError(t, err)
	assert.True(t, verdict.Suspicious)
	assert.Contains(t, verdict.Reason, "3.5×")
	assert.Contains(t, verdict.Reason, models.CategoryFuel)
}

func TestEngine_CeilingScalesWithCapacity(t *testing.T) {
	seed := &models.CategoryBaseline{
		TenantID: 1, VehicleID: 7, Category: models.CategoryRepair,
		SampleCount: 10, Mean: 48000, M2: 9e9, // 标准差约 31600，60000 不触发 σ 判定
	}

	baselines := newFakeBaselineStore()
	require.NoError(t, baselines.Upsert(context.Background(), seed))
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, newFakeExpenseStore())

	// 小型车上限 50000：60000 触发硬上限
	verdict, err := engine.Evaluate(context.Background(), testVehicle(12), models.CategoryRepair, 60000)
	require.NoError(t, err)
	assert.True(t, verdict.Suspicious)
	assert.Contains(t, verdict.Reason, "ceiling")
	assert.Contains(t, verdict.Reason, "small")

	// 大型车上限 200000：同样的 60000 不触发
	require.NoError(t, baselines.Upsert(context.Background(), seed))
	verdict, err = engine.Evaluate(context.Background(), testVehicle(50), models.CategoryRepair, 60000)
	require.NoError(t, err)
	assert.False(t, verdict.Suspicious)
}

func TestEngine_ZeroVarianceHistory(t *testing.T) {
	// 历史完全一致：相同金额放行，任何不同金额可疑
	baselines := newFakeBaselineStore()
	require.NoError(t, baselines.Upsert(context.Background(), &models.CategoryBaseline{
		TenantID: 1, VehicleID: 7, Category: models.CategoryInsurance,
		SampleCount: 6, Mean: 1500, M2: 0,
	}))
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, newFakeExpenseStore())
	vehicle := testVehicle(12)

	verdict, err := engine.Evaluate(context.Background(), vehicle, models.CategoryInsurance, 1500)
	require.NoError(t, err)
	assert.False(t, verdict.Suspicious)

	verdict, err = engine.Evaluate(context.Background(), vehicle, models.CategoryInsurance, 1501)
	require.NoError(t, err)
	assert.True(t, verdict.Suspicious)
	assert.Contains(t, verdict.Reason, "invariant")
}

func TestEngine_BaselinesAreKeyedPerCategory(t *testing.T) {
	// 不同类别互不影响：燃油的离群值不污染维修基线
	baselines := newFakeBaselineStore()
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, newFakeExpenseStore())
	vehicle := testVehicle(12)

	for i := 0; i < 6; i++ {
		_, err := engine.Evaluate(context.Background(), vehicle, models.CategoryFuel, 2000)
		require.NoError(t, err)
	}

	fuel, err := baselines.Get(context.Background(), 1, 7, models.CategoryFuel)
	require.NoError(t, err)
	require.NotNil(t, fuel)
	assert.Equal(t, int64(6), fuel.SampleCount)

	maintenance, err := baselines.Get(context.Background(), 1, 7, models.CategoryMaintenance)
	require.NoError(t, err)
	assert.Nil(t, maintenance)
}

func TestEngine_StoreFailureSurfaces(t *testing.T) {
	// 基线存储不可用时判定失败必须向上抛，不能静默跳过
	baselines := newFakeBaselineStore()
	baselines.getErr = errors.New("connection refused")
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, newFakeExpenseStore())

	_, err := engine.Evaluate(context.Background(), testVehicle(12), models.CategoryFuel, 2000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load baseline")
}

func TestEngine_RecomputeRetriesTransientFailure(t *testing.T) {
	baselines := newFakeBaselineStore()
	expenses := newFakeExpenseStore()
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, expenses)

	for _, amount := range []float64{1000, 2000, 3000} {
		require.NoError(t, expenses.Create(context.Background(), &models.ExpenseEntry{
			TenantID: 1, VehicleID: 7, Category: models.CategoryFuel,
			Amount: amount, ReviewStatus: models.ReviewPending,
		}))
	}

	// 前两次查询失败，第三次成功
	expenses.listFailures = 2
	require.NoError(t, engine.Recompute(context.Background(), 1, 7, models.CategoryFuel))

	baseline, err := baselines.Get(context.Background(), 1, 7, models.CategoryFuel)
	require.NoError(t, err)
	require.NotNil(t, baseline)
	assert.Equal(t, int64(3), baseline.SampleCount)
	assert.InDelta(t, 2000, baseline.Mean, 1e-9)
}

func TestEngine_RecomputeExhaustsRetries(t *testing.T) {
	baselines := newFakeBaselineStore()
	expenses := newFakeExpenseStore()
	expenses.listFailures = 10
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, expenses)

	err := engine.Recompute(context.Background(), 1, 7, models.CategoryFuel)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}
