package repository

import (
	"context"
	"time"

	"edunotify/internal/model"

	"gorm.io/gorm"
)

// MessageLogRepository 消息日志存储接口
//
// 调度器、生产者和统计服务都只依赖这个接口，便于用内存实现做单元测试
type MessageLogRepository interface {
	Create(ctx context.Context, msg *model.MessageLog) error
	CreateBatch(ctx context.Context, msgs []*model.MessageLog) error

	// FetchEligible 选取一批可发送的消息：
	// PENDING，或（FAILED/RETRYING 且 next_retry_at 已到期且重试次数未用尽）
	// 按 priority DESC, created_at ASC 排序
	FetchEligible(ctx context.Context, now time.Time, limit int, maxRetries int, tenantID string) ([]*model.MessageLog, error)

	// FetchStuckRetrying 查找调度进程中断后遗留在 RETRYING 且没有重试时间的消息
	FetchStuckRetrying(ctx context.Context, before time.Time) ([]*model.MessageLog, error)

	MarkRetrying(ctx context.Context, id int64) error
	MarkSent(ctx context.Context, id int64, transportMessageID string, sentAt time.Time) error
	ScheduleRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, lastError string) error
	MarkTerminalFailed(ctx context.Context, id int64, retryCount int, lastError string) error
	SetNextRetryAt(ctx context.Context, id int64, at time.Time) error

	// ResetTerminalFailed 把最多 limit 条永久失败的消息重置为 PENDING（人工恢复入口）
	ResetTerminalFailed(ctx context.Context, tenantID string, limit int) (int64, error)

	// DeleteSentBefore 删除 cutoff 之前发送成功的消息，非 SENT 状态永不删除
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)

	StatusCounts(ctx context.Context, from, to *time.Time, tenantID string) (map[string]int64, error)
	CategoryCounts(ctx context.Context, from, to *time.Time, tenantID string) (map[string]int64, error)
	CountByStatus(ctx context.Context, status string, tenantID string) (int64, error)
	ListRecent(ctx context.Context, tenantID string, limit int) ([]*model.MessageLog, error)
	ListByStatus(ctx context.Context, status string, tenantID string, limit int) ([]*model.MessageLog, error)
}

type GormMessageLogRepository struct {
	db *gorm.DB
}

func NewMessageLogRepository(db *gorm.DB) *GormMessageLogRepository {
	return &GormMessageLogRepository{db: db}
}

func (r *GormMessageLogRepository) Create(ctx context.Context, msg *model.MessageLog) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *GormMessageLogRepository) CreateBatch(ctx context.Context, msgs []*model.MessageLog) error {
	if len(msgs) == 0 {
		return nil
	}
	// 批量入库放在同一个事务里，要么全部成功要么全部失败
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(msgs).Error
	})
}

func (r *GormMessageLogRepository) FetchEligible(ctx context.Context, now time.Time, limit int, maxRetries int, tenantID string) ([]*model.MessageLog, error) {
	var messages []*model.MessageLog
	query := r.db.WithContext(ctx).
		Where("status = ? OR (status IN ? AND next_retry_at IS NOT NULL AND next_retry_at <= ? AND retry_count < ?)",
			model.MessageStatusPending,
			[]string{model.MessageStatusFailed, model.MessageStatusRetrying},
			now, maxRetries)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	err := query.
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageLogRepository) FetchStuckRetrying(ctx context.Context, before time.Time) ([]*model.MessageLog, error) {
	var messages []*model.MessageLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NULL AND updated_at < ?", model.MessageStatusRetrying, before).
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageLogRepository) MarkRetrying(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.MessageLog{}).
		Where("id = ?", id).
		Update("status", model.MessageStatusRetrying).Error
}

func (r *GormMessageLogRepository) MarkSent(ctx context.Context, id int64, transportMessageID string, sentAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.MessageLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":               model.MessageStatusSent,
			"transport_message_id": transportMessageID,
			"sent_at":              sentAt,
			"last_error":           "",
			"next_retry_at":        nil,
		}).Error
}

func (r *GormMessageLogRepository) ScheduleRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&model.MessageLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.MessageStatusFailed,
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"last_error":    lastError,
		}).Error
}

func (r *GormMessageLogRepository) MarkTerminalFailed(ctx context.Context, id int64, retryCount int, lastError string) error {
	// 终态失败清空 next_retry_at，调度器不会再选中
	return r.db.WithContext(ctx).
		Model(&model.MessageLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.MessageStatusFailed,
			"retry_count":   retryCount,
			"next_retry_at": nil,
			"last_error":    lastError,
		}).Error
}

func (r *GormMessageLogRepository) SetNextRetryAt(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.MessageLog{}).
		Where("id = ?", id).
		Update("next_retry_at", at).Error
}

func (r *GormMessageLogRepository) ResetTerminalFailed(ctx context.Context, tenantID string, limit int) (int64, error) {
	// MySQL 不允许 UPDATE 时子查询同一张表，先取 ID 再更新
	var ids []int64
	query := r.db.WithContext(ctx).
		Model(&model.MessageLog{}).
		Where("status = ? AND next_retry_at IS NULL", model.MessageStatusFailed)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if err := query.Order("created_at ASC").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Model(&model.MessageLog{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":      model.MessageStatusPending,
			"retry_count": 0,
			"last_error":  "",
		})
	return result.RowsAffected, result.Error
}

func (r *GormMessageLogRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.MessageStatusSent, cutoff).
		Delete(&model.MessageLog{})
	return result.RowsAffected, result.Error
}

type statusCount struct {
	Status string
	Count  int64
}

type categoryCount struct {
	Category string
	Count    int64
}

func (r *GormMessageLogRepository) StatusCounts(ctx context.Context, from, to *time.Time, tenantID string) (map[string]int64, error) {
	var rows []statusCount
	query := r.scoped(ctx, from, to, tenantID)
	if err := query.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *GormMessageLogRepository) CategoryCounts(ctx context.Context, from, to *time.Time, tenantID string) (map[string]int64, error) {
	var rows []categoryCount
	query := r.scoped(ctx, from, to, tenantID)
	if err := query.Select("category, COUNT(*) AS count").Group("category").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Category] = row.Count
	}
	return counts, nil
}

func (r *GormMessageLogRepository) CountByStatus(ctx context.Context, status string, tenantID string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&model.MessageLog{}).Where("status = ?", status)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	err := query.Count(&count).Error
	return count, err
}

func (r *GormMessageLogRepository) ListRecent(ctx context.Context, tenantID string, limit int) ([]*model.MessageLog, error) {
	var messages []*model.MessageLog
	query := r.db.WithContext(ctx)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

func (r *GormMessageLogRepository) ListByStatus(ctx context.Context, status string, tenantID string, limit int) ([]*model.MessageLog, error) {
	var messages []*model.MessageLog
	query := r.db.WithContext(ctx).Where("status = ?", status)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// scoped 统计查询的公共过滤：时间范围 + 租户
func (r *GormMessageLogRepository) scoped(ctx context.Context, from, to *time.Time, tenantID string) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&model.MessageLog{})
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at < ?", *to)
	}
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	return query
}
