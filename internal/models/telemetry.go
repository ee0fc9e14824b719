package models

import "time"

// TelemetrySample 遥测样本（一条 = 一个时间点，写入后不可变）
type TelemetrySample struct {
	ID         int64     `json:"id" db:"id"`
	TenantID   int64     `json:"tenant_id" db:"tenant_id"`
	VehicleID  int64     `json:"vehicle_id" db:"vehicle_id"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	Speed      float64   `json:"speed" db:"speed"`     // km/h
	Heading    int       `json:"heading" db:"heading"` // 度 (0-359)
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}
