package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campusops/fleetwatch/internal/models"
)

// TelemetryRepository 遥测数据仓库
type TelemetryRepository struct {
	db *DB
}

// NewTelemetryRepository 创建遥测仓库
func NewTelemetryRepository(db *DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// Create 写入遥测样本
// 返回是否真正插入：同一车辆相同时间戳的重复样本是幂等 no-op
func (r *TelemetryRepository) Create(ctx context.Context, sample *models.TelemetrySample) (bool, error) {
	query := `
		INSERT INTO telemetry_samples (tenant_id, vehicle_id, latitude, longitude, speed, heading, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (vehicle_id, recorded_at) DO NOTHING
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		sample.TenantID,
		sample.VehicleID,
		sample.Latitude,
		sample.Longitude,
		sample.Speed,
		sample.Heading,
		sample.RecordedAt,
	).Scan(&sample.ID)

	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert telemetry sample: %w", err)
	}
	return true, nil
}

// ListByVehicleID 获取车辆的遥测历史（按时间倒序分页）
func (r *TelemetryRepository) ListByVehicleID(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.TelemetrySample, error) {
	query := `
		SELECT id, tenant_id, vehicle_id, latitude, longitude, speed, heading, recorded_at
		FROM telemetry_samples WHERE vehicle_id = $1
		ORDER BY recorded_at DESC LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, vehicleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list telemetry samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.TelemetrySample
	for rows.Next() {
		sample := &models.TelemetrySample{}
		err := rows.Scan(
			&sample.ID,
			&sample.TenantID,
			&sample.VehicleID,
			&sample.Latitude,
			&sample.Longitude,
			&sample.Speed,
			&sample.Heading,
			&sample.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan telemetry sample: %w", err)
		}
		samples = append(samples, sample)
	}

	return samples, nil
}

// CountByVehicleID 统计车辆的样本数
func (r *TelemetryRepository) CountByVehicleID(ctx context.Context, vehicleID int64) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM telemetry_samples WHERE vehicle_id = $1`, vehicleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count telemetry samples: %w", err)
	}
	return count, nil
}
