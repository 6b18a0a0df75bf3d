package backoff

import (
	"time"
)

// ============================================================================
// 指数退避重试策略
// ============================================================================
//
// 【为什么要指数退避？】
//
// 网关侧的瞬时故障（网络抖动、限流）通常在短时间内自行恢复。
// 固定间隔重试会在故障期间持续施压；指数退避让重试间隔逐次翻倍，
// 给外部系统留出恢复时间：
//
//	第 1 次失败 -> base * 2^1 = 2 分钟后重试
//	第 2 次失败 -> base * 2^2 = 4 分钟后重试
//	第 3 次失败 -> 重试次数用尽，永久失败
//
// 不加抖动（jitter）：单实例串行调度下不存在重试风暴，保持结果可预测
//
// ============================================================================

// Policy 重试策略，纯函数，不持有任何可变状态
type Policy struct {
	MaxRetries int           // 最大重试次数
	Base       time.Duration // 退避基数
}

// Default 默认策略：3 次重试，基数 1 分钟
func Default() Policy {
	return Policy{MaxRetries: 3, Base: time.Minute}
}

// CanRetry 按当前（已累加的）重试次数判断是否还能继续重试
func (p Policy) CanRetry(retryCount int) bool {
	return retryCount < p.MaxRetries
}

// NextRetryAt 计算下一次可重试的时间：now + base * 2^retryCount
func (p Policy) NextRetryAt(now time.Time, retryCount int) time.Time {
	delay := p.Base
	for i := 0; i < retryCount; i++ {
		delay *= 2
	}
	return now.Add(delay)
}
