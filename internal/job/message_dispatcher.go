package job

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"edunotify/internal/config"
	"edunotify/internal/infrastructure/gateway"
	"edunotify/internal/model"
	"edunotify/internal/repository"
	"edunotify/pkg/backoff"
)

// CycleLocker 调度周期的跨实例互斥锁（Redis 实现见 infrastructure/lock）
type CycleLocker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// MessageDispatcher 消息调度器
//
// 【关键点】整个队列的心脏，一个周期做四件事：
//  1. 单飞闸：CAS 抢占进程内闸门，抢不到说明上个周期还在跑，本次直接放弃
//     （丢弃而不是排队，避免积压的触发叠加成无界的资源占用）
//  2. 选取一批到期消息，按 priority DESC, created_at ASC 排序（高优先级先发，
//     同优先级严格 FIFO，老消息不会被饿死）
//  3. 逐条串行发送，每发一条固定停 40ms，把聚合速率压在网关限流之下
//  4. defer 释放闸门，周期异常退出也不会永久卡死调度
type MessageDispatcher struct {
	repo      repository.MessageLogRepository
	transport gateway.Transport
	escalator *Escalator
	locker    CycleLocker // 可为 nil（单实例部署）
	results   ResultPublisher
	policy    backoff.Policy
	cfg       *config.DispatchConfig

	processing atomic.Bool // 进程内单飞闸
	stopCh     chan struct{}
}

func NewMessageDispatcher(
	repo repository.MessageLogRepository,
	transport gateway.Transport,
	escalator *Escalator,
	locker CycleLocker,
	results ResultPublisher,
	cfg *config.DispatchConfig,
) *MessageDispatcher {
	policy := backoff.Policy{MaxRetries: cfg.MaxRetries, Base: cfg.BackoffBase()}
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = backoff.Default().MaxRetries
	}
	return &MessageDispatcher{
		repo:      repo,
		transport: transport,
		escalator: escalator,
		locker:    locker,
		results:   results,
		policy:    policy,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start 按固定周期运行调度，阻塞直到 ctx 取消或 Stop
func (d *MessageDispatcher) Start(ctx context.Context) {
	log.Printf("[Dispatcher] 消息调度任务启动: interval=%s, batch=%d", d.cfg.Interval(), d.batchSize())

	ticker := time.NewTicker(d.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Dispatcher] 收到停止信号，任务退出")
			return
		case <-d.stopCh:
			log.Println("[Dispatcher] 任务停止")
			return
		case <-ticker.C:
			d.RunCycle(ctx, "")
		}
	}
}

func (d *MessageDispatcher) Stop() {
	close(d.stopCh)
}

// TriggerCycle 手动触发一次调度周期，返回 false 表示已有周期在跑
func (d *MessageDispatcher) TriggerCycle(ctx context.Context) bool {
	_, ran := d.RunCycle(ctx, "")
	return ran
}

// RunCycle 执行一个调度周期，tenantID 非空时只处理该中心的消息
//
// 返回本周期实际尝试发送的消息数，以及周期是否真正执行
func (d *MessageDispatcher) RunCycle(ctx context.Context, tenantID string) (int, bool) {
	// 进程内单飞：同一实例绝不允许两个周期并发
	if !d.processing.CompareAndSwap(false, true) {
		return 0, false
	}
	defer d.processing.Store(false)

	// 周期硬超时：一条消息挂死不能拖垮整个调度
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CycleTimeout())
	defer cancel()

	// 跨实例互斥：多实例部署时只有拿到 Redis 锁的实例执行本周期
	if d.locker != nil {
		locked, err := d.locker.TryLock(ctx)
		if err != nil {
			log.Printf("[Dispatcher] 获取调度锁异常，跳过本周期: %v", err)
			return 0, false
		}
		if !locked {
			log.Println("[Dispatcher] 其他实例正在调度，跳过本周期")
			return 0, false
		}
		defer func() {
			if err := d.locker.Unlock(context.Background()); err != nil {
				log.Printf("[Dispatcher] 释放调度锁失败: %v", err)
			}
		}()
	}

	d.recoverStuck(ctx)

	messages, err := d.repo.FetchEligible(ctx, time.Now(), d.batchSize(), d.policy.MaxRetries, tenantID)
	if err != nil {
		log.Printf("[Dispatcher] 查询待发送消息失败: %v", err)
		return 0, true
	}
	if len(messages) == 0 {
		return 0, true
	}

	log.Printf("[Dispatcher] 本周期选取 %d 条消息", len(messages))

	processed := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			log.Printf("[Dispatcher] 周期超时，剩余 %d 条留给下个周期", len(messages)-processed)
			break
		}

		d.sendOne(ctx, msg)
		processed++

		// 限速：每发一条（无论成败）固定间隔，聚合速率不超过网关上限
		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.SendDelay()):
		}
	}

	return processed, true
}

// sendOne 处理单条消息的一次发送尝试
func (d *MessageDispatcher) sendOne(ctx context.Context, msg *model.MessageLog) {
	if err := d.repo.MarkRetrying(ctx, msg.ID); err != nil {
		// 状态都写不进去，发送了也记不住结果，这条留给下个周期
		log.Printf("[Dispatcher] 标记 RETRYING 失败: id=%d, err=%v", msg.ID, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout())
	transportID, err := d.transport.Send(sendCtx, msg.Destination, msg.Content, nil)
	cancel()

	if err == nil {
		now := time.Now()
		if updateErr := d.repo.MarkSent(ctx, msg.ID, transportID, now); updateErr != nil {
			log.Printf("[Dispatcher] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
			return
		}
		log.Printf("[Dispatcher] 消息发送成功: id=%d, category=%s, transport_id=%s", msg.ID, msg.Category, transportID)
		d.publishResult(msg, model.MessageStatusSent, transportID, "")
		return
	}

	log.Printf("[Dispatcher] 消息发送失败: id=%d, retry=%d, err=%v", msg.ID, msg.RetryCount+1, err)
	d.handleFailure(ctx, msg, err)
}

// handleFailure 按退避策略处理一次失败：未用尽额度则排期重试，否则永久失败并告警
//
// 不区分瞬时失败和永久失败（无效会话、被拉黑等），统一走退避重试封顶
func (d *MessageDispatcher) handleFailure(ctx context.Context, msg *model.MessageLog, sendErr error) {
	newCount := msg.RetryCount + 1

	if d.policy.CanRetry(newCount) {
		nextRetryAt := d.policy.NextRetryAt(time.Now(), newCount)
		if err := d.repo.ScheduleRetry(ctx, msg.ID, newCount, nextRetryAt, sendErr.Error()); err != nil {
			log.Printf("[Dispatcher] 排期重试失败: id=%d, err=%v", msg.ID, err)
		}
		return
	}

	if err := d.repo.MarkTerminalFailed(ctx, msg.ID, newCount, sendErr.Error()); err != nil {
		log.Printf("[Dispatcher] 标记永久失败失败: id=%d, err=%v", msg.ID, err)
		return
	}
	log.Printf("[Dispatcher] 消息超过最大重试次数，标记为永久失败: id=%d", msg.ID)

	msg.RetryCount = newCount
	msg.LastError = sendErr.Error()
	if d.escalator != nil {
		d.escalator.Escalate(ctx, msg)
	}
	d.publishResult(msg, model.MessageStatusFailed, "", sendErr.Error())
}

// recoverStuck 恢复调度进程中断后遗留在 RETRYING 的消息
//
// 周期开始时，把滞留超过一个调度周期且没有重试时间的 RETRYING 消息
// 按退避规则补上 next_retry_at，避免它们永远卡在 RETRYING
func (d *MessageDispatcher) recoverStuck(ctx context.Context) {
	before := time.Now().Add(-d.cfg.Interval())
	stuck, err := d.repo.FetchStuckRetrying(ctx, before)
	if err != nil {
		log.Printf("[Dispatcher] 查询滞留消息失败: %v", err)
		return
	}

	for _, msg := range stuck {
		nextRetryAt := d.policy.NextRetryAt(time.Now(), msg.RetryCount)
		if err := d.repo.SetNextRetryAt(ctx, msg.ID, nextRetryAt); err != nil {
			log.Printf("[Dispatcher] 恢复滞留消息失败: id=%d, err=%v", msg.ID, err)
			continue
		}
		log.Printf("[Dispatcher] 恢复滞留消息: id=%d, next_retry_at=%s", msg.ID, nextRetryAt.Format(time.RFC3339))
	}
}

func (d *MessageDispatcher) publishResult(msg *model.MessageLog, status, transportID, errMsg string) {
	if d.results == nil {
		return
	}
	event := &DeliveryResultEvent{
		MessageID:          msg.ID,
		TenantID:           msg.TenantID,
		Category:           msg.Category,
		Destination:        msg.Destination,
		Status:             status,
		TransportMessageID: transportID,
		Error:              errMsg,
		OccurredAt:         time.Now(),
	}
	if err := d.results.Publish(event); err != nil {
		log.Printf("[Dispatcher] 发布结果事件失败: id=%d, err=%v", msg.ID, err)
	}
}

func (d *MessageDispatcher) batchSize() int {
	if d.cfg.BatchSize <= 0 {
		return 50
	}
	return d.cfg.BatchSize
}
