package models

import "time"

// 运行状态常量
const (
	StatusOnTime  = "on_time"
	StatusDelayed = "delayed"
	StatusIdle    = "idle"
	StatusOffline = "offline"
)

// DerivedStatus 车辆的实时运行状态（由最新样本 + 班次计划推导）
type DerivedStatus struct {
	VehicleID    int64     `json:"vehicle_id" db:"vehicle_id"`
	Status       string    `json:"status" db:"status"` // on_time, delayed, idle, offline
	DelayMinutes int       `json:"delay_minutes" db:"delay_minutes"`
	LastSampleAt time.Time `json:"last_sample_at" db:"last_sample_at"`
}
