package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// eventRecorder 同步收集缓存发出的变化事件
type eventRecorder struct {
	events []ChangeEvent
}

func (r *eventRecorder) record(ev ChangeEvent) {
	r.events = append(r.events, ev)
}

func newTestCache(rec *eventRecorder) *Cache {
	return NewCache(zap.NewNop(), testDeriverConfig(), 5, rec.record)
}

func TestCache_VehicleWithNoSamples_Offline(t *testing.T) {
	rec := &eventRecorder{}
	cache := newTestCache(rec)

	cache.EnsureVehicle(1, 7)

	snap := cache.Snapshot(1)
	require.Len(t, snap, 1)
	assert.Equal(t, models.StatusOffline, snap[0].Status)
	assert.Equal(t, 0, snap[0].DelayMinutes)
}

func TestCache_SweepAloneTransitionsToOffline(t *testing.T) {
	// 没有任何新样本到达时，仅靠清扫也能把静默车辆转为 offline
	rec := &eventRecorder{}
	cache := newTestCache(rec)

	recordedAt := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	_, err := cache.ApplySample(1, sampleAt(recordedAt, 30), nil, recordedAt)
	require.NoError(t, err)

	snap := cache.Snapshot(1)
	require.Len(t, snap, 1)
	assert.Equal(t, models.StatusOnTime, snap[0].Status)

	// 6 分钟后清扫（窗口 5 分钟）
	cache.SweepStale(1, recordedAt.Add(6*time.Minute))

	snap = cache.Snapshot(1)
	require.Len(t, snap, 1)
	assert.Equal(t, models.StatusOffline, snap[0].Status)
	assert.Equal(t, 0, snap[0].DelayMinutes)

	// 清扫也发出变化事件
	require.Len(t, rec.events, 2)
	assert.Equal(t, models.StatusOffline, rec.events[1].Status.Status)
}

func TestCache_SweepIsIdempotent(t *testing.T) {
	rec := &eventRecorder{}
	cache := newTestCache(rec)

	cache.EnsureVehicle(1, 7)
	cache.SweepStale(1, time.Now())
	cache.SweepStale(1, time.Now())

	// 已 offline 的车辆不再重复发事件
	assert.Empty(t, rec.events)
}

func TestCache_DuplicateTimestampIsNoOp(t *testing.T) {
	rec := &eventRecorder{}
	cache := newTestCache(rec)

	recordedAt := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	sample := sampleAt(recordedAt, 30)

	first, err := cache.ApplySample(1, sample, nil, recordedAt)
	require.NoError(t, err)

	second, err := cache.ApplySample(1, sampleAt(recordedAt, 30), nil, recordedAt)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// 两次应用最多发出一次事件
	assert.Len(t, rec.events, 1)
}

func TestCache_DelayJitterDoesNotEmit(t *testing.T) {
	// 延误只有跨过上报步长（5 分钟）才发事件，分钟级抖动被吸收
	rec := &eventRecorder{}
	cache := newTestCache(rec)
	schedule := &models.RouteSchedule{
		DepartureTime: "07:00",
		Stops: models.ScheduleStops{
			{Name: "School Gate", Latitude: 12.9716, Longitude: 77.5946, ExpectedOffsetMin: 0},
		},
	}

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	// 延误 1 分钟：offline -> delayed，发事件
	at := base.Add(1 * time.Minute)
	_, err := cache.ApplySample(1, sampleAt(at, 30), schedule, at)
	require.NoError(t, err)
	require.Len(t, rec.events, 1)

	// 延误 2 分钟：状态不变且未跨步长，不发事件
	at = base.Add(2 * time.Minute)
	_, err = cache.ApplySample(1, sampleAt(at, 30), schedule, at)
	require.NoError(t, err)
	assert.Len(t, rec.events, 1)

	// 延误 7 分钟：跨过步长，发事件
	at = base.Add(7 * time.Minute)
	status, err := cache.ApplySample(1, sampleAt(at, 30), schedule, at)
	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.Equal(t, models.StatusDelayed, status.Status)
	assert.Equal(t, 7, status.DelayMinutes)
}

func TestCache_MalformedSampleRejected(t *testing.T) {
	rec := &eventRecorder{}
	cache := newTestCache(rec)

	recordedAt := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	_, err := cache.ApplySample(1, sampleAt(recordedAt, -5), nil, recordedAt)

	require.Error(t, err)
	assert.Empty(t, rec.events)
	assert.Empty(t, cache.Snapshot(1))
}

func TestCache_TenantsAreIsolated(t *testing.T) {
	rec := &eventRecorder{}
	cache := newTestCache(rec)

	recordedAt := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	_, err := cache.ApplySample(1, sampleAt(recordedAt, 30), nil, recordedAt)
	require.NoError(t, err)

	assert.Len(t, cache.Snapshot(1), 1)
	assert.Empty(t, cache.Snapshot(2))
}

func TestCache_DropTenantReleasesState(t *testing.T) {
	rec := &eventRecorder{}
	cache := newTestCache(rec)

	recordedAt := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	_, err := cache.ApplySample(1, sampleAt(recordedAt, 30), nil, recordedAt)
	require.NoError(t, err)

	cache.DropTenant(1)

	assert.Empty(t, cache.Snapshot(1))
}

func TestCache_FreshSampleRevivesOfflineVehicle(t *testing.T) {
	rec := &eventRecorder{}
	cache := newTestCache(rec)

	recordedAt := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	_, err := cache.ApplySample(1, sampleAt(recordedAt, 30), nil, recordedAt)
	require.NoError(t, err)

	cache.SweepStale(1, recordedAt.Add(6*time.Minute))
	require.Equal(t, models.StatusOffline, cache.Snapshot(1)[0].Status)

	// 新样本到达后恢复在线状态
	at := recordedAt.Add(7 * time.Minute)
	status, err := cache.ApplySample(1, sampleAt(at, 30), nil, at)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnTime, status.Status)
}
