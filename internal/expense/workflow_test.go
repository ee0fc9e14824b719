package expense

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// fakeVehicleStore 内存车辆存储
type fakeVehicleStore struct {
	vehicles map[int64]*models.Vehicle
}

func (f *fakeVehicleStore) GetByID(_ context.Context, tenantID, id int64) (*models.Vehicle, error) {
	vehicle, ok := f.vehicles[id]
	if !ok || vehicle.TenantID != tenantID {
		return nil, errors.New("vehicle not found")
	}
	copied := *vehicle
	return &copied, nil
}

func newTestWorkflow() (*Service, *fakeExpenseStore, *fakeBaselineStore) {
	baselines := newFakeBaselineStore()
	expenses := newFakeExpenseStore()
	vehicles := &fakeVehicleStore{vehicles: map[int64]*models.Vehicle{7: testVehicle(12)}}
	engine := NewEngine(zap.NewNop(), testEngineConfig(), baselines, expenses)
	return NewService(zap.NewNop(), engine, expenses, vehicles), expenses, baselines
}

func spentOn() time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

func TestWorkflow_SubmitRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestWorkflow()

	_, err := svc.Submit(context.Background(), 1, 7, "snacks", 100, spentOn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown expense category")

	_, err = svc.Submit(context.Background(), 1, 7, models.CategoryFuel, 0, spentOn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestWorkflow_SubmitUnknownVehicle(t *testing.T) {
	svc, _, _ := newTestWorkflow()

	_, err := svc.Submit(context.Background(), 1, 99, models.CategoryFuel, 100, spentOn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup vehicle")
}

func TestWorkflow_SubmitFlagsAndPersists(t *testing.T) {
	svc, expenses, baselines := newTestWorkflow()
	require.NoError(t, baselines.Upsert(context.Background(), &models.CategoryBaseline{
		TenantID: 1, VehicleID: 7, Category: models.CategoryFuel,
		SampleCount: 6, Mean: 2000, M2: 0,
	}))

	entry, err := svc.Submit(context.Background(), 1, 7, models.CategoryFuel, 9000, spentOn())
	require.NoError(t, err)

	assert.Equal(t, models.ReviewPending, entry.ReviewStatus)
	assert.Equal(t, models.AnomalyFlagged, entry.AnomalyState)
	assert.NotEmpty(t, entry.AnomalyReason)

	// 判定结果随记录一起落库
	stored, err := expenses.GetByID(context.Background(), 1, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyFlagged, stored.AnomalyState)
	assert.Equal(t, entry.AnomalyReason, stored.AnomalyReason)
}

func TestWorkflow_SubmitFailsWhenBaselineUnavailable(t *testing.T) {
	svc, _, baselines := newTestWorkflow()
	baselines.getErr = errors.New("connection refused")

	_, err := svc.Submit(context.Background(), 1, 7, models.CategoryFuel, 100, spentOn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate expense")
}

func TestWorkflow_ApproveOnlyFromPending(t *testing.T) {
	svc, _, _ := newTestWorkflow()

	entry, err := svc.Submit(context.Background(), 1, 7, models.CategoryFuel, 100, spentOn())
	require.NoError(t, err)

	approved, err := svc.Approve(context.Background(), 1, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewApproved, approved.ReviewStatus)

	// 已通过的记录不能再次审核
	_, err = svc.Approve(context.Background(), 1, entry.ID)
	require.Error(t, err)
	_, err = svc.Reject(context.Background(), 1, entry.ID)
	require.Error(t, err)
}

func TestWorkflow_RejectCorrectsBaseline(t *testing.T) {
	// 驳回离群费用后重算基线，其贡献被完全剔除
	svc, _, baselines := newTestWorkflow()

	history := []float64{1900, 1950, 2000, 2050, 2100, 2100, 2050, 2000, 1950, 1900}
	for _, amount := range history {
		_, err := svc.Submit(context.Background(), 1, 7, models.CategoryFuel, amount, spentOn())
		require.NoError(t, err)
	}

	outlier, err := svc.Submit(context.Background(), 1, 7, models.CategoryFuel, 7000, spentOn())
	require.NoError(t, err)
	require.Equal(t, models.AnomalyFlagged, outlier.AnomalyState)

	// 驳回前基线被 7000 拉高
	baseline, err := baselines.Get(context.Background(), 1, 7, models.CategoryFuel)
	require.NoError(t, err)
	require.Equal(t, int64(11), baseline.SampleCount)
	require.Greater(t, baseline.Mean, 2000.0)

	rejected, err := svc.Reject(context.Background(), 1, outlier.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRejected, rejected.ReviewStatus)

	baseline, err = baselines.Get(context.Background(), 1, 7, models.CategoryFuel)
	require.NoError(t, err)
	assert.Equal(t, int64(10), baseline.SampleCount)
	assert.InDelta(t, 2000, baseline.Mean, 1e-9)
}

func TestWorkflow_ResolveRequiresFlaggedEntry(t *testing.T) {
	svc, _, baselines := newTestWorkflow()
	require.NoError(t, baselines.Upsert(context.Background(), &models.CategoryBaseline{
		TenantID: 1, VehicleID: 7, Category: models.CategoryFuel,
		SampleCount: 6, Mean: 2000, M2: 0,
	}))

	normal, err := svc.Submit(context.Background(), 1, 7, models.CategoryFuel, 2000, spentOn())
	require.NoError(t, err)
	_, err = svc.Resolve(context.Background(), 1, normal.ID, "looks fine")
	require.Error(t, err)

	flagged, err := svc.Submit(context.Background(), 1, 7, models.CategoryFuel, 9000, spentOn())
	require.NoError(t, err)
	require.Equal(t, models.AnomalyFlagged, flagged.AnomalyState)

	resolved, err := svc.Resolve(context.Background(), 1, flagged.ID, "engine overhaul, invoice attached")
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyResolved, resolved.AnomalyState)
	assert.Equal(t, "engine overhaul, invoice attached", resolved.ResolutionNote)
	// 处理异常标记不改变审核状态
	assert.Equal(t, models.ReviewPending, resolved.ReviewStatus)

	// 已处理的标记不能再次处理
	_, err = svc.Resolve(context.Background(), 1, flagged.ID, "again")
	require.Error(t, err)
}

func TestWorkflow_TenantScopedLookups(t *testing.T) {
	svc, _, _ := newTestWorkflow()

	entry, err := svc.Submit(context.Background(), 1, 7, models.CategoryFuel, 100, spentOn())
	require.NoError(t, err)

	// 其他租户拿不到也动不了这条记录
	_, err = svc.Approve(context.Background(), 2, entry.ID)
	require.Error(t, err)
}
