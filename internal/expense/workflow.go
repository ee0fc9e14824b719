package expense

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/campusops/fleetwatch/internal/models"
)

// 工作流事件常量
const (
	EventApprove = "approve"
	EventReject  = "reject"
	EventFlag    = "flag"
	EventResolve = "resolve"
)

// ExpenseStore 费用记录持久化接口
type ExpenseStore interface {
	Create(ctx context.Context, entry *models.ExpenseEntry) error
	GetByID(ctx context.Context, tenantID, id int64) (*models.ExpenseEntry, error)
	UpdateReviewStatus(ctx context.Context, tenantID, id int64, status string) error
	UpdateResolution(ctx context.Context, tenantID, id int64, note string) error
	ListAmountsForBaseline(ctx context.Context, tenantID, vehicleID int64, category string) ([]float64, error)
}

// VehicleStore 车辆查询接口
type VehicleStore interface {
	GetByID(ctx context.Context, tenantID, id int64) (*models.Vehicle, error)
}

// newReviewFSM 审核轴状态机：pending -> approved / rejected
func newReviewFSM(current string) *fsm.FSM {
	return fsm.NewFSM(
		current,
		fsm.Events{
			{Name: EventApprove, Src: []string{models.ReviewPending}, Dst: models.ReviewApproved},
			{Name: EventReject, Src: []string{models.ReviewPending}, Dst: models.ReviewRejected},
		},
		fsm.Callbacks{},
	)
}

// newAnomalyFSM 异常轴状态机：not_flagged -> flagged -> resolved
func newAnomalyFSM(current string) *fsm.FSM {
	return fsm.NewFSM(
		current,
		fsm.Events{
			{Name: EventFlag, Src: []string{models.AnomalyNotFlagged}, Dst: models.AnomalyFlagged},
			{Name: EventResolve, Src: []string{models.AnomalyFlagged}, Dst: models.AnomalyResolved},
		},
		fsm.Callbacks{},
	)
}

// Service 费用提交与审核工作流
// 审核轴和异常轴是正交的：处理异常标记本身不改变审核状态
type Service struct {
	logger   *zap.Logger
	engine   *Engine
	expenses ExpenseStore
	vehicles VehicleStore
}

// NewService 创建费用服务
func NewService(logger *zap.Logger, engine *Engine, expenses ExpenseStore, vehicles VehicleStore) *Service {
	return &Service{
		logger:   logger,
		engine:   engine,
		expenses: expenses,
		vehicles: vehicles,
	}
}

// Submit 提交一笔费用：先做基线判定，判定结果随记录一次性写入
// 基线不可用时整个提交失败，绝不静默跳过异常检测
func (s *Service) Submit(ctx context.Context, tenantID, vehicleID int64, category string, amount float64, spentOn time.Time) (*models.ExpenseEntry, error) {
	if !models.ValidCategory(category) {
		return nil, fmt.Errorf("unknown expense category %q", category)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %v", amount)
	}

	vehicle, err := s.vehicles.GetByID(ctx, tenantID, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("lookup vehicle: %w", err)
	}

	verdict, err := s.engine.Evaluate(ctx, vehicle, category, amount)
	if err != nil {
		return nil, fmt.Errorf("evaluate expense: %w", err)
	}

	entry := &models.ExpenseEntry{
		TenantID:     tenantID,
		VehicleID:    vehicleID,
		Category:     category,
		Amount:       amount,
		SpentOn:      spentOn,
		ReviewStatus: models.ReviewPending,
		AnomalyState: models.AnomalyNotFlagged,
	}

	if verdict.Suspicious {
		machine := newAnomalyFSM(entry.AnomalyState)
		if err := machine.Event(ctx, EventFlag); err != nil {
			return nil, fmt.Errorf("flag entry: %w", err)
		}
		entry.AnomalyState = machine.Current()
		entry.AnomalyReason = verdict.Reason

		s.logger.Info("Flagged suspicious expense",
			zap.Int64("tenant_id", tenantID),
			zap.Int64("vehicle_id", vehicleID),
			zap.String("category", category),
			zap.Float64("amount", amount),
			zap.String("reason", verdict.Reason))
	}

	if err := s.expenses.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create expense entry: %w", err)
	}

	return entry, nil
}

// Approve 通过审核
func (s *Service) Approve(ctx context.Context, tenantID, id int64) (*models.ExpenseEntry, error) {
	entry, err := s.expenses.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get expense entry: %w", err)
	}

	machine := newReviewFSM(entry.ReviewStatus)
	if err := machine.Event(ctx, EventApprove); err != nil {
		return nil, fmt.Errorf("approve entry %d: %w", id, err)
	}

	entry.ReviewStatus = machine.Current()
	if err := s.expenses.UpdateReviewStatus(ctx, tenantID, id, entry.ReviewStatus); err != nil {
		return nil, fmt.Errorf("update review status: %w", err)
	}

	s.logger.Info("Expense approved", zap.Int64("tenant_id", tenantID), zap.Int64("entry_id", id))
	return entry, nil
}

// Reject 驳回费用
// 被驳回的费用此前已计入基线，必须重算该 (车辆, 类别) 的基线以剔除其贡献
func (s *Service) Reject(ctx context.Context, tenantID, id int64) (*models.ExpenseEntry, error) {
	entry, err := s.expenses.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get expense entry: %w", err)
	}

	machine := newReviewFSM(entry.ReviewStatus)
	if err := machine.Event(ctx, EventReject); err != nil {
		return nil, fmt.Errorf("reject entry %d: %w", id, err)
	}

	entry.ReviewStatus = machine.Current()
	if err := s.expenses.UpdateReviewStatus(ctx, tenantID, id, entry.ReviewStatus); err != nil {
		return nil, fmt.Errorf("update review status: %w", err)
	}

	// 基线修正：重算时被驳回的金额已被排除
	if err := s.engine.Recompute(ctx, tenantID, entry.VehicleID, entry.Category); err != nil {
		return nil, fmt.Errorf("correct baseline after rejection: %w", err)
	}

	s.logger.Info("Expense rejected, baseline corrected",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("entry_id", id),
		zap.Int64("vehicle_id", entry.VehicleID),
		zap.String("category", entry.Category))
	return entry, nil
}

// Resolve 处理异常标记并附注说明
// 不改变审核状态：异常可以被认定为合理后照常通过，也可以推动驳回
func (s *Service) Resolve(ctx context.Context, tenantID, id int64, note string) (*models.ExpenseEntry, error) {
	entry, err := s.expenses.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get expense entry: %w", err)
	}

	machine := newAnomalyFSM(entry.AnomalyState)
	if err := machine.Event(ctx, EventResolve); err != nil {
		return nil, fmt.Errorf("resolve entry %d: %w", id, err)
	}

	entry.AnomalyState = machine.Current()
	entry.ResolutionNote = note
	if err := s.expenses.UpdateResolution(ctx, tenantID, id, note); err != nil {
		return nil, fmt.Errorf("update resolution: %w", err)
	}

	s.logger.Info("Anomaly resolved", zap.Int64("tenant_id", tenantID), zap.Int64("entry_id", id))
	return entry, nil
}
