package models

import "time"

// 费用类别常量
const (
	CategoryFuel        = "fuel"
	CategoryMaintenance = "maintenance"
	CategoryRepair      = "repair"
	CategoryInsurance   = "insurance"
	CategoryOther       = "other"
)

// 审核状态常量
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// 异常标记状态常量
const (
	AnomalyNotFlagged = "not_flagged"
	AnomalyFlagged    = "flagged"
	AnomalyResolved   = "resolved"
)

// ValidCategory 检查费用类别是否合法
func ValidCategory(category string) bool {
	switch category {
	case CategoryFuel, CategoryMaintenance, CategoryRepair, CategoryInsurance, CategoryOther:
		return true
	}
	return false
}

// ExpenseEntry 车辆费用记录
// 异常标记和原因在创建时由基线引擎写入一次，之后只能通过显式的处理动作变更
type ExpenseEntry struct {
	ID             int64      `json:"id" db:"id"`
	TenantID       int64      `json:"tenant_id" db:"tenant_id"`
	VehicleID      int64      `json:"vehicle_id" db:"vehicle_id"`
	Category       string     `json:"category" db:"category"`
	Amount         float64    `json:"amount" db:"amount"`
	SpentOn        time.Time  `json:"spent_on" db:"spent_on"`
	ReviewStatus   string     `json:"review_status" db:"review_status"` // pending, approved, rejected
	AnomalyState   string     `json:"anomaly_state" db:"anomaly_state"` // not_flagged, flagged, resolved
	AnomalyReason  string     `json:"anomaly_reason,omitempty" db:"anomaly_reason"`
	ResolutionNote string     `json:"resolution_note,omitempty" db:"resolution_note"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// CategoryBaseline 每 (车辆, 类别) 的消费基线（Welford 增量统计）
type CategoryBaseline struct {
	ID          int64     `json:"id" db:"id"`
	TenantID    int64     `json:"tenant_id" db:"tenant_id"`
	VehicleID   int64     `json:"vehicle_id" db:"vehicle_id"`
	Category    string    `json:"category" db:"category"`
	SampleCount int64     `json:"sample_count" db:"sample_count"`
	Mean        float64   `json:"mean" db:"mean"`
	M2          float64   `json:"m2" db:"m2"` // 偏差平方和，方差 = m2 / (n-1)
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
