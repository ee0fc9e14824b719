package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/campusops/fleetwatch/internal/models"
)

// ExpenseRepository 费用记录仓库
type ExpenseRepository struct {
	db *DB
}

// NewExpenseRepository 创建费用仓库
func NewExpenseRepository(db *DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

// Create 创建费用记录（异常判定结果随记录一次性写入）
func (r *ExpenseRepository) Create(ctx context.Context, entry *models.ExpenseEntry) error {
	query := `
		INSERT INTO expense_entries (tenant_id, vehicle_id, category, amount, spent_on, review_status, anomaly_state, anomaly_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		entry.TenantID,
		entry.VehicleID,
		entry.Category,
		entry.Amount,
		entry.SpentOn,
		entry.ReviewStatus,
		entry.AnomalyState,
		entry.AnomalyReason,
		now,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("insert expense entry: %w", err)
	}

	entry.CreatedAt = now
	entry.UpdatedAt = now
	return nil
}

// GetByID 通过 ID 获取费用记录（带租户校验）
func (r *ExpenseRepository) GetByID(ctx context.Context, tenantID, id int64) (*models.ExpenseEntry, error) {
	query := `
		SELECT id, tenant_id, vehicle_id, category, amount, spent_on, review_status, anomaly_state,
		       COALESCE(anomaly_reason, ''), COALESCE(resolution_note, ''), resolved_at, created_at, updated_at
		FROM expense_entries WHERE id = $1 AND tenant_id = $2
	`
	entry := &models.ExpenseEntry{}
	err := r.db.Pool.QueryRow(ctx, query, id, tenantID).Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.VehicleID,
		&entry.Category,
		&entry.Amount,
		&entry.SpentOn,
		&entry.ReviewStatus,
		&entry.AnomalyState,
		&entry.AnomalyReason,
		&entry.ResolutionNote,
		&entry.ResolvedAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get expense entry: %w", err)
	}
	return entry, nil
}

// ExpenseFilter 费用列表过滤条件
type ExpenseFilter struct {
	VehicleID    int64  // 0 = 不过滤
	ReviewStatus string // "" = 不过滤
	FlaggedOnly  bool
}

// ListByTenant 获取租户的费用列表（按创建时间倒序分页）
func (r *ExpenseRepository) ListByTenant(ctx context.Context, tenantID int64, filter ExpenseFilter, limit, offset int) ([]*models.ExpenseEntry, error) {
	query := `
		SELECT id, tenant_id, vehicle_id, category, amount, spent_on, review_status, anomaly_state,
		       COALESCE(anomaly_reason, ''), COALESCE(resolution_note, ''), resolved_at, created_at, updated_at
		FROM expense_entries
		WHERE tenant_id = $1
		  AND ($2::bigint = 0 OR vehicle_id = $2)
		  AND ($3::text = '' OR review_status = $3)
		  AND (NOT $4::boolean OR anomaly_state <> 'not_flagged')
		ORDER BY created_at DESC LIMIT $5 OFFSET $6
	`
	rows, err := r.db.Pool.Query(ctx, query, tenantID, filter.VehicleID, filter.ReviewStatus, filter.FlaggedOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list expense entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.ExpenseEntry
	for rows.Next() {
		entry := &models.ExpenseEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.VehicleID,
			&entry.Category,
			&entry.Amount,
			&entry.SpentOn,
			&entry.ReviewStatus,
			&entry.AnomalyState,
			&entry.AnomalyReason,
			&entry.ResolutionNote,
			&entry.ResolvedAt,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan expense entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// CountByTenant 统计租户的费用记录数
func (r *ExpenseRepository) CountByTenant(ctx context.Context, tenantID int64, filter ExpenseFilter) (int64, error) {
	query := `
		SELECT COUNT(*) FROM expense_entries
		WHERE tenant_id = $1
		  AND ($2::bigint = 0 OR vehicle_id = $2)
		  AND ($3::text = '' OR review_status = $3)
		  AND (NOT $4::boolean OR anomaly_state <> 'not_flagged')
	`
	var count int64
	err := r.db.Pool.QueryRow(ctx, query, tenantID, filter.VehicleID, filter.ReviewStatus, filter.FlaggedOnly).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count expense entries: %w", err)
	}
	return count, nil
}

// UpdateReviewStatus 更新审核状态
func (r *ExpenseRepository) UpdateReviewStatus(ctx context.Context, tenantID, id int64, status string) error {
	query := `UPDATE expense_entries SET review_status = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`
	_, err := r.db.Pool.Exec(ctx, query, status, time.Now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	return nil
}

// UpdateResolution 写入异常处理结论
func (r *ExpenseRepository) UpdateResolution(ctx context.Context, tenantID, id int64, note string) error {
	now := time.Now()
	query := `
		UPDATE expense_entries
		SET anomaly_state = 'resolved', resolution_note = $1, resolved_at = $2, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
	`
	_, err := r.db.Pool.Exec(ctx, query, note, now, id, tenantID)
	if err != nil {
		return fmt.Errorf("update resolution: %w", err)
	}
	return nil
}

// ListAmountsForBaseline 获取某 (车辆, 类别) 所有未被驳回的金额
// 仅用于驳回后的基线重算，这是唯一允许回放历史的路径
func (r *ExpenseRepository) ListAmountsForBaseline(ctx context.Context, tenantID, vehicleID int64, category string) ([]float64, error) {
	query := `
		SELECT amount FROM expense_entries
		WHERE tenant_id = $1 AND vehicle_id = $2 AND category = $3 AND review_status <> 'rejected'
		ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query, tenantID, vehicleID, category)
	if err != nil {
		return nil, fmt.Errorf("list amounts for baseline: %w", err)
	}
	defer rows.Close()

	var amounts []float64
	for rows.Next() {
		var amount float64
		if err := rows.Scan(&amount); err != nil {
			return nil, fmt.Errorf("scan amount: %w", err)
		}
		amounts = append(amounts, amount)
	}

	return amounts, nil
}
