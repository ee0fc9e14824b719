package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/campusops/fleetwatch/internal/models"
)

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	db *DB
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db *DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// Upsert 按 (tenant_id, registration) 创建或更新车辆
func (r *VehicleRepository) Upsert(ctx context.Context, v *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (tenant_id, registration, name, seat_capacity, route_schedule_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (tenant_id, registration) DO UPDATE SET
			name = EXCLUDED.name,
			seat_capacity = EXCLUDED.seat_capacity,
			route_schedule_id = EXCLUDED.route_schedule_id,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		v.TenantID,
		v.Registration,
		v.Name,
		v.SeatCapacity,
		v.RouteScheduleID,
		now,
	).Scan(&v.ID, &v.CreatedAt)

	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}

	v.UpdatedAt = now
	return nil
}

// GetByID 通过 ID 获取车辆（带租户校验）
func (r *VehicleRepository) GetByID(ctx context.Context, tenantID, id int64) (*models.Vehicle, error) {
	query := `
		SELECT id, tenant_id, registration, name, seat_capacity, route_schedule_id, created_at, updated_at
		FROM vehicles WHERE id = $1 AND tenant_id = $2
	`
	v := &models.Vehicle{}
	err := r.db.Pool.QueryRow(ctx, query, id, tenantID).Scan(
		&v.ID,
		&v.TenantID,
		&v.Registration,
		&v.Name,
		&v.SeatCapacity,
		&v.RouteScheduleID,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get vehicle by id: %w", err)
	}
	return v, nil
}

// ListByTenant 获取租户的车辆列表
func (r *VehicleRepository) ListByTenant(ctx context.Context, tenantID int64) ([]*models.Vehicle, error) {
	query := `
		SELECT id, tenant_id, registration, name, seat_capacity, route_schedule_id, created_at, updated_at
		FROM vehicles WHERE tenant_id = $1 ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		v := &models.Vehicle{}
		err := rows.Scan(
			&v.ID,
			&v.TenantID,
			&v.Registration,
			&v.Name,
			&v.SeatCapacity,
			&v.RouteScheduleID,
			&v.CreatedAt,
			&v.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}

	return vehicles, nil
}

// ListTenantIDs 获取所有有车辆的租户 ID（启动时恢复各租户缓存用）
func (r *VehicleRepository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	query := `SELECT DISTINCT tenant_id FROM vehicles ORDER BY tenant_id`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenant ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}
