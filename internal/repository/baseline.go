package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/campusops/fleetwatch/internal/models"
)

// BaselineRepository 消费基线仓库
type BaselineRepository struct {
	db *DB
}

// NewBaselineRepository 创建基线仓库
func NewBaselineRepository(db *DB) *BaselineRepository {
	return &BaselineRepository{db: db}
}

// Get 获取 (租户, 车辆, 类别) 的基线；不存在时返回 nil
func (r *BaselineRepository) Get(ctx context.Context, tenantID, vehicleID int64, category string) (*models.CategoryBaseline, error) {
	query := `
		SELECT id, tenant_id, vehicle_id, category, sample_count, mean, m2, updated_at
		FROM category_baselines
		WHERE tenant_id = $1 AND vehicle_id = $2 AND category = $3
	`
	baseline := &models.CategoryBaseline{}
	err := r.db.Pool.QueryRow(ctx, query, tenantID, vehicleID, category).Scan(
		&baseline.ID,
		&baseline.TenantID,
		&baseline.VehicleID,
		&baseline.Category,
		&baseline.SampleCount,
		&baseline.Mean,
		&baseline.M2,
		&baseline.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category baseline: %w", err)
	}
	return baseline, nil
}

// Upsert 写入基线统计量
func (r *BaselineRepository) Upsert(ctx context.Context, baseline *models.CategoryBaseline) error {
	query := `
		INSERT INTO category_baselines (tenant_id, vehicle_id, category, sample_count, mean, m2, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, vehicle_id, category) DO UPDATE SET
			sample_count = EXCLUDED.sample_count,
			mean = EXCLUDED.mean,
			m2 = EXCLUDED.m2,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		baseline.TenantID,
		baseline.VehicleID,
		baseline.Category,
		baseline.SampleCount,
		baseline.Mean,
		baseline.M2,
		now,
	).Scan(&baseline.ID)

	if err != nil {
		return fmt.Errorf("upsert category baseline: %w", err)
	}

	baseline.UpdatedAt = now
	return nil
}
