package models

import "time"

// 容量等级常量（按座位数划分）
const (
	CapacitySmall  = "small"  // <= 20 座
	CapacityMedium = "medium" // 21-40 座
	CapacityLarge  = "large"  // > 40 座
)

// Vehicle 车辆信息（注册信息由外部车辆登记系统维护，这里只读取核心字段）
type Vehicle struct {
	ID              int64     `json:"id" db:"id"`
	TenantID        int64     `json:"tenant_id" db:"tenant_id"`
	Registration    string    `json:"registration" db:"registration"`
	Name            string    `json:"name" db:"name"`
	SeatCapacity    int       `json:"seat_capacity" db:"seat_capacity"`
	RouteScheduleID *int64    `json:"route_schedule_id,omitempty" db:"route_schedule_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// CapacityClass 按座位数返回容量等级
func (v *Vehicle) CapacityClass() string {
	switch {
	case v.SeatCapacity <= 20:
		return CapacitySmall
	case v.SeatCapacity <= 40:
		return CapacityMedium
	default:
		return CapacityLarge
	}
}
