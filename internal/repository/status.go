package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/campusops/fleetwatch/internal/models"
)

// StatusRepository 推导状态回写仓库
// 快照缓存是唯一的状态权威，这里仅在状态变化时落地最新值
type StatusRepository struct {
	db *DB
}

// NewStatusRepository 创建状态仓库
func NewStatusRepository(db *DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// Upsert 写入车辆最新的推导状态
func (r *StatusRepository) Upsert(ctx context.Context, tenantID int64, status *models.DerivedStatus) error {
	query := `
		INSERT INTO vehicle_statuses (vehicle_id, tenant_id, status, delay_minutes, last_sample_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			status = EXCLUDED.status,
			delay_minutes = EXCLUDED.delay_minutes,
			last_sample_at = EXCLUDED.last_sample_at,
			updated_at = EXCLUDED.updated_at
	`
	var lastSampleAt *time.Time
	if !status.LastSampleAt.IsZero() {
		lastSampleAt = &status.LastSampleAt
	}

	_, err := r.db.Pool.Exec(ctx, query,
		status.VehicleID,
		tenantID,
		status.Status,
		status.DelayMinutes,
		lastSampleAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert vehicle status: %w", err)
	}
	return nil
}

// ListByTenant 获取租户所有车辆的落地状态（重启后恢复缓存用）
func (r *StatusRepository) ListByTenant(ctx context.Context, tenantID int64) ([]*models.DerivedStatus, error) {
	query := `
		SELECT vehicle_id, status, delay_minutes, last_sample_at
		FROM vehicle_statuses WHERE tenant_id = $1 ORDER BY vehicle_id
	`
	rows, err := r.db.Pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list vehicle statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*models.DerivedStatus
	for rows.Next() {
		status := &models.DerivedStatus{}
		var lastSampleAt *time.Time
		err := rows.Scan(
			&status.VehicleID,
			&status.Status,
			&status.DelayMinutes,
			&lastSampleAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle status: %w", err)
		}
		if lastSampleAt != nil {
			status.LastSampleAt = *lastSampleAt
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}
