package service

import (
	"context"
	"fmt"
	"time"

	"edunotify/internal/model"
	"edunotify/internal/repository"
)

// retryFailedLimit 单次人工恢复最多重置的永久失败消息数
const retryFailedLimit = 100

// CycleTrigger 手动触发一次调度周期的能力，由调度器实现
type CycleTrigger interface {
	// TriggerCycle 返回 false 表示已有周期在跑，本次触发被丢弃
	TriggerCycle(ctx context.Context) bool
}

// Statistics 发送统计
type Statistics struct {
	Total       int64            `json:"total"`
	Sent        int64            `json:"sent"`
	Failed      int64            `json:"failed"`
	Pending     int64            `json:"pending"`
	Retrying    int64            `json:"retrying"`
	SuccessRate float64          `json:"success_rate"`
	ByCategory  map[string]int64 `json:"by_category"`
}

// StatsService 发送统计与运营操作服务
//
// 统计每次实时聚合，不维护物化计数器；所有读操作都可按中心（租户）过滤
type StatsService struct {
	repo    repository.MessageLogRepository
	trigger CycleTrigger
}

func NewStatsService(repo repository.MessageLogRepository, trigger CycleTrigger) *StatsService {
	return &StatsService{repo: repo, trigger: trigger}
}

// GetStatistics 聚合统计，可选时间范围和租户过滤
func (s *StatsService) GetStatistics(ctx context.Context, from, to *time.Time, tenantID string) (*Statistics, error) {
	statusCounts, err := s.repo.StatusCounts(ctx, from, to, tenantID)
	if err != nil {
		return nil, fmt.Errorf("统计状态分布失败: %w", err)
	}
	categoryCounts, err := s.repo.CategoryCounts(ctx, from, to, tenantID)
	if err != nil {
		return nil, fmt.Errorf("统计分类分布失败: %w", err)
	}

	stats := &Statistics{
		Sent:       statusCounts[model.MessageStatusSent],
		Failed:     statusCounts[model.MessageStatusFailed],
		Pending:    statusCounts[model.MessageStatusPending],
		Retrying:   statusCounts[model.MessageStatusRetrying],
		ByCategory: categoryCounts,
	}
	stats.Total = stats.Sent + stats.Failed + stats.Pending + stats.Retrying
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Sent) / float64(stats.Total)
	}
	return stats, nil
}

// GetPendingCount 待发送消息数
func (s *StatsService) GetPendingCount(ctx context.Context, tenantID string) (int64, error) {
	return s.repo.CountByStatus(ctx, model.MessageStatusPending, tenantID)
}

// GetFailedCount 失败消息数（含可重试和永久失败）
func (s *StatsService) GetFailedCount(ctx context.Context, tenantID string) (int64, error) {
	return s.repo.CountByStatus(ctx, model.MessageStatusFailed, tenantID)
}

// ListRecent 最近的消息日志
func (s *StatsService) ListRecent(ctx context.Context, tenantID string, limit int) ([]*model.MessageLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListRecent(ctx, tenantID, limit)
}

// ListByStatus 按状态查询消息日志
func (s *StatsService) ListByStatus(ctx context.Context, status, tenantID string, limit int) ([]*model.MessageLog, error) {
	switch status {
	case model.MessageStatusPending, model.MessageStatusRetrying,
		model.MessageStatusSent, model.MessageStatusFailed:
	default:
		return nil, fmt.Errorf("非法的消息状态: %s", status)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByStatus(ctx, status, tenantID, limit)
}

// RetryFailed 人工恢复：把最多 100 条永久失败的消息重置为 PENDING，重试次数清零
func (s *StatsService) RetryFailed(ctx context.Context, tenantID string) (int64, error) {
	return s.repo.ResetTerminalFailed(ctx, tenantID, retryFailedLimit)
}

// TriggerCycle 手动触发一次调度周期；已有周期在跑时返回 false
func (s *StatsService) TriggerCycle(ctx context.Context) bool {
	return s.trigger.TriggerCycle(ctx)
}
