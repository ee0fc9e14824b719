package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/campusops/fleetwatch/internal/models"
)

// ScheduleRepository 班次计划仓库
type ScheduleRepository struct {
	db *DB
}

// NewScheduleRepository 创建班次仓库
func NewScheduleRepository(db *DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create 创建班次计划
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.RouteSchedule) error {
	query := `
		INSERT INTO route_schedules (tenant_id, name, departure_time, stops, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		schedule.TenantID,
		schedule.Name,
		schedule.DepartureTime,
		schedule.Stops,
		now,
	).Scan(&schedule.ID)

	if err != nil {
		return fmt.Errorf("insert route schedule: %w", err)
	}

	schedule.CreatedAt = now
	return nil
}

// GetByID 通过 ID 获取班次计划
func (r *ScheduleRepository) GetByID(ctx context.Context, id int64) (*models.RouteSchedule, error) {
	query := `
		SELECT id, tenant_id, name, departure_time, stops, created_at
		FROM route_schedules WHERE id = $1
	`
	schedule := &models.RouteSchedule{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&schedule.ID,
		&schedule.TenantID,
		&schedule.Name,
		&schedule.DepartureTime,
		&schedule.Stops,
		&schedule.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get route schedule: %w", err)
	}
	return schedule, nil
}

// ListByTenant 获取租户的班次计划列表
func (r *ScheduleRepository) ListByTenant(ctx context.Context, tenantID int64) ([]*models.RouteSchedule, error) {
	query := `
		SELECT id, tenant_id, name, departure_time, stops, created_at
		FROM route_schedules WHERE tenant_id = $1 ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list route schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.RouteSchedule
	for rows.Next() {
		schedule := &models.RouteSchedule{}
		err := rows.Scan(
			&schedule.ID,
			&schedule.TenantID,
			&schedule.Name,
			&schedule.DepartureTime,
			&schedule.Stops,
			&schedule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan route schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	return schedules, nil
}
