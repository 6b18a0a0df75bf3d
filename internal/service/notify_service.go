package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"edunotify/internal/model"
	"edunotify/internal/repository"
	"edunotify/pkg/idgen"
)

// NotifyService 通知入队服务（队列生产者）
//
// 【关键点】入队只做一件事：把消息可靠地写进 message_log（Outbox 模式）。
// 绝不同步发送——业务调用方返回后，发送由调度器异步完成。
// 入库失败必须原样抛给调用方，静默吞掉等于悄悄丢通知。
//
// 已知局限：不做去重，同一条业务通知提交两次就会发两条。
type NotifyService struct {
	repo repository.MessageLogRepository
}

func NewNotifyService(repo repository.MessageLogRepository) *NotifyService {
	return &NotifyService{repo: repo}
}

// EnqueueRequest 入队请求
type EnqueueRequest struct {
	Destination string `json:"destination" binding:"required"` // 网关侧的会话ID
	Content     string `json:"content" binding:"required"`     // 已格式化好的消息内容，入队侧不解析
	Category    string `json:"category" binding:"required"`    // attendance / payment / exam_start / announcement / results
	Priority    string `json:"priority"`                       // HIGH / NORMAL / LOW，缺省 NORMAL
	TenantID    string `json:"tenant_id"`                      // 中心ID，空表示全局消息
}

func (r *EnqueueRequest) validate() error {
	if r.Destination == "" {
		return errors.New("destination 不能为空")
	}
	if r.Content == "" {
		return errors.New("content 不能为空")
	}
	if r.Category == "" {
		return errors.New("category 不能为空")
	}
	return nil
}

func (r *EnqueueRequest) toModel() *model.MessageLog {
	return &model.MessageLog{
		ID:          idgen.GenerateMessageID(),
		Destination: r.Destination,
		Content:     r.Content,
		Category:    r.Category,
		Priority:    model.ParsePriority(r.Priority),
		TenantID:    r.TenantID,
		Status:      model.MessageStatusPending,
	}
}

// Enqueue 入队单条消息，入库成功后立即返回持久化的记录
func (s *NotifyService) Enqueue(ctx context.Context, req *EnqueueRequest) (*model.MessageLog, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	msg := req.toModel()
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("消息入库失败: %w", err)
	}
	return msg, nil
}

// EnqueueBatch 批量入队，单事务写入，要么全部成功要么全部失败
func (s *NotifyService) EnqueueBatch(ctx context.Context, reqs []*EnqueueRequest) ([]*model.MessageLog, error) {
	if len(reqs) == 0 {
		return nil, errors.New("批量入队请求为空")
	}

	msgs := make([]*model.MessageLog, 0, len(reqs))
	for i, req := range reqs {
		if err := req.validate(); err != nil {
			return nil, fmt.Errorf("第 %d 条请求非法: %w", i+1, err)
		}
		msgs = append(msgs, req.toModel())
	}

	if err := s.repo.CreateBatch(ctx, msgs); err != nil {
		return nil, fmt.Errorf("批量入库失败: %w", err)
	}
	return msgs, nil
}

// EnqueueFromPayload 处理 Kafka 投递的通知请求（JSON 编码的 EnqueueRequest）
func (s *NotifyService) EnqueueFromPayload(ctx context.Context, payload []byte) error {
	var req EnqueueRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("解析通知请求失败: %w", err)
	}
	_, err := s.Enqueue(ctx, &req)
	return err
}
