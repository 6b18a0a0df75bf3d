package job

import (
	"context"
	"log"
	"time"

	"edunotify/internal/config"
	"edunotify/internal/repository"
)

// sweepInterval 清理任务的运行周期，每天一次
const sweepInterval = 24 * time.Hour

// RetentionSweep 过期消息清理任务
//
// 只删除超过保留期的 SENT 消息；失败消息无论多旧都保留，
// 永久失败的记录是审计线索，只能由运营人员显式处理
type RetentionSweep struct {
	repo      repository.MessageLogRepository
	retention time.Duration
	stopCh    chan struct{}
}

func NewRetentionSweep(repo repository.MessageLogRepository, cfg *config.DispatchConfig) *RetentionSweep {
	return &RetentionSweep{
		repo:      repo,
		retention: cfg.Retention(),
		stopCh:    make(chan struct{}),
	}
}

// Start 启动清理任务：启动时先跑一次，之后每天一次
func (s *RetentionSweep) Start(ctx context.Context) {
	log.Printf("[RetentionSweep] 清理任务启动: retention=%s", s.retention)

	s.sweep(ctx)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RetentionSweep] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[RetentionSweep] 任务停止")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionSweep) Stop() {
	close(s.stopCh)
}

func (s *RetentionSweep) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.repo.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[RetentionSweep] 清理过期消息失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[RetentionSweep] 清理过期消息 %d 条 (早于 %s)", deleted, cutoff.Format(time.RFC3339))
	}
}
