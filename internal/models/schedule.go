package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ScheduleStop 班次计划中的一个站点
type ScheduleStop struct {
	Name              string  `json:"name"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	ExpectedOffsetMin int     `json:"expected_offset_min"` // 距发车时刻的预期到达偏移（分钟）
}

// ScheduleStops 站点序列（按预期到达顺序排列）
type ScheduleStops []ScheduleStop

// Value 实现 driver.Valuer 接口，用于存储到数据库
func (s ScheduleStops) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan 实现 sql.Scanner 接口，用于从数据库读取
func (s *ScheduleStops) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// RouteSchedule 线路班次计划（站点序列 + 发车时刻，由外部排班模块配置）
type RouteSchedule struct {
	ID            int64         `json:"id" db:"id"`
	TenantID      int64         `json:"tenant_id" db:"tenant_id"`
	Name          string        `json:"name" db:"name"`
	DepartureTime string        `json:"departure_time" db:"departure_time"` // 当日发车时刻 "HH:MM"
	Stops         ScheduleStops `json:"stops" db:"stops"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// DepartureAt 计算某一天的发车时间；时刻无法解析时返回零值
func (rs *RouteSchedule) DepartureAt(day time.Time) time.Time {
	t, err := time.Parse("15:04", rs.DepartureTime)
	if err != nil {
		return time.Time{}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location())
}
