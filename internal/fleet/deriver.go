package fleet

import (
	"fmt"
	"math"
	"time"

	"github.com/campusops/fleetwatch/internal/models"
)

// DeriverConfig 状态推导阈值
type DeriverConfig struct {
	StalenessWindow time.Duration // 超过该窗口无样本 => offline
	IdleSpeedKmh    float64       // 低于该速度视为未移动
	IdleDuration    time.Duration // 持续低速多久判定 idle
}

// ValidateSample 校验遥测样本，非法样本直接丢弃（不影响其他车辆）
func ValidateSample(sample *models.TelemetrySample) error {
	if sample.RecordedAt.IsZero() {
		return fmt.Errorf("sample has no timestamp")
	}
	if math.IsNaN(sample.Speed) || sample.Speed < 0 {
		return fmt.Errorf("invalid speed %v", sample.Speed)
	}
	if math.IsNaN(sample.Latitude) || sample.Latitude < -90 || sample.Latitude > 90 {
		return fmt.Errorf("invalid latitude %v", sample.Latitude)
	}
	if math.IsNaN(sample.Longitude) || sample.Longitude < -180 || sample.Longitude > 180 {
		return fmt.Errorf("invalid longitude %v", sample.Longitude)
	}
	return nil
}

// Derive 由最新样本 + 班次计划推导运行状态
// slowSince 是车辆开始低速的时刻（仍在移动时为零值），由缓存逐样本维护
// 无任何样本的车辆定义为 offline
func Derive(cfg DeriverConfig, sample *models.TelemetrySample, schedule *models.RouteSchedule, slowSince time.Time, now time.Time) models.DerivedStatus {
	if sample == nil {
		return models.DerivedStatus{Status: models.StatusOffline}
	}

	status := models.DerivedStatus{
		VehicleID:    sample.VehicleID,
		LastSampleAt: sample.RecordedAt,
	}

	// 静默窗口内无新样本 => offline，延误清零
	if now.Sub(sample.RecordedAt) > cfg.StalenessWindow {
		status.Status = models.StatusOffline
		return status
	}

	status.DelayMinutes = delayMinutes(sample, schedule, now)

	// 低速需要持续满 IdleDuration 才判 idle，避免路口短暂停车误报
	if sample.Speed < cfg.IdleSpeedKmh && !slowSince.IsZero() && now.Sub(slowSince) >= cfg.IdleDuration {
		status.Status = models.StatusIdle
		return status
	}

	if status.DelayMinutes > 0 {
		status.Status = models.StatusDelayed
	} else {
		status.Status = models.StatusOnTime
	}
	return status
}

// delayMinutes 计算沿线延误：实际进度时间 - 预期进度时间，下限为 0
// 提前到站不计负延误，视为准点
func delayMinutes(sample *models.TelemetrySample, schedule *models.RouteSchedule, now time.Time) int {
	if schedule == nil || len(schedule.Stops) == 0 {
		return 0
	}

	departure := schedule.DepartureAt(sample.RecordedAt)
	if departure.IsZero() {
		return 0
	}

	observed := sample.RecordedAt.Sub(departure)
	if observed <= 0 {
		// 尚未到发车时刻
		return 0
	}

	// 按离当前位置最近的站点确定线路进度
	nearest := schedule.Stops[0]
	nearestDist := haversineKm(sample.Latitude, sample.Longitude, nearest.Latitude, nearest.Longitude)
	for _, stop := range schedule.Stops[1:] {
		d := haversineKm(sample.Latitude, sample.Longitude, stop.Latitude, stop.Longitude)
		if d < nearestDist {
			nearest = stop
			nearestDist = d
		}
	}

	expected := time.Duration(nearest.ExpectedOffsetMin) * time.Minute
	delay := observed - expected
	if delay < 0 {
		return 0
	}
	return int(delay.Round(time.Minute) / time.Minute)
}

// haversineKm 两点间球面距离 (km)
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
