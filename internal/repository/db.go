package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateVehicles,
		migrationCreateRouteSchedules,
		migrationCreateTelemetrySamples,
		migrationCreateVehicleStatuses,
		migrationCreateExpenseEntries,
		migrationCreateCategoryBaselines,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    id BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL,
    registration VARCHAR(20) NOT NULL,
    name VARCHAR(255),
    seat_capacity INT NOT NULL DEFAULT 0,
    route_schedule_id BIGINT,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    UNIQUE (tenant_id, registration)
);
CREATE INDEX IF NOT EXISTS idx_vehicles_tenant_id ON vehicles(tenant_id);
`

const migrationCreateRouteSchedules = `
CREATE TABLE IF NOT EXISTS route_schedules (
    id BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL,
    name VARCHAR(255) NOT NULL,
    departure_time VARCHAR(5) NOT NULL,
    stops JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_route_schedules_tenant_id ON route_schedules(tenant_id);
`

const migrationCreateTelemetrySamples = `
CREATE TABLE IF NOT EXISTS telemetry_samples (
    id BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    speed DOUBLE PRECISION NOT NULL,
    heading INT NOT NULL DEFAULT 0,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
    UNIQUE (vehicle_id, recorded_at)
);
CREATE INDEX IF NOT EXISTS idx_telemetry_samples_vehicle_id ON telemetry_samples(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_telemetry_samples_recorded_at ON telemetry_samples(recorded_at);
`

// 每辆车最新的推导状态回写（缓存是权威，这里仅做持久化落地）
const migrationCreateVehicleStatuses = `
CREATE TABLE IF NOT EXISTS vehicle_statuses (
    vehicle_id BIGINT PRIMARY KEY REFERENCES vehicles(id),
    tenant_id BIGINT NOT NULL,
    status VARCHAR(20) NOT NULL,
    delay_minutes INT NOT NULL DEFAULT 0,
    last_sample_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_vehicle_statuses_tenant_id ON vehicle_statuses(tenant_id);
`

const migrationCreateExpenseEntries = `
CREATE TABLE IF NOT EXISTS expense_entries (
    id BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
    category VARCHAR(20) NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    spent_on DATE NOT NULL,
    review_status VARCHAR(20) NOT NULL DEFAULT 'pending',
    anomaly_state VARCHAR(20) NOT NULL DEFAULT 'not_flagged',
    anomaly_reason TEXT,
    resolution_note TEXT,
    resolved_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_expense_entries_tenant_id ON expense_entries(tenant_id);
CREATE INDEX IF NOT EXISTS idx_expense_entries_vehicle_id ON expense_entries(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_expense_entries_anomaly_state ON expense_entries(anomaly_state);
`

const migrationCreateCategoryBaselines = `
CREATE TABLE IF NOT EXISTS category_baselines (
    id BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
    category VARCHAR(20) NOT NULL,
    sample_count BIGINT NOT NULL DEFAULT 0,
    mean DOUBLE PRECISION NOT NULL DEFAULT 0,
    m2 DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    UNIQUE (tenant_id, vehicle_id, category)
);
`
