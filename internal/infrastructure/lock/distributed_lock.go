package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么调度周期需要分布式锁？】
//
// 进程内的单飞闸（atomic.Bool）只能防止同一个实例内的周期重叠。
// 部署多个实例时，两个实例可能同时拉取到同一批 PENDING 消息，
// 各发一遍，用户收到重复通知。
//
// 加了分布式锁：
//   实例A: 获取锁 -> 拉取消息 -> 逐条发送 -> 释放锁
//   实例B: 获取锁失败 -> 本周期直接跳过（下个周期再试）
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证原子性
//   - 先检查 value 是否是自己的
//   - 再删除 key
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
//
// 【关键点】使用 SetNX 命令，只有当 key 不存在时才能设置成功，
// 这保证了同一时刻只有一个实例在跑调度周期
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】使用 Lua 脚本保证"检查+删除"操作的原子性
//
// 为什么要检查 value？
//
//	场景：A 获取锁 -> A 的周期超时，锁自动过期 -> B 获取锁 -> A 周期结束调用 Unlock
//	如果不检查 value，A 会把 B 的锁删掉，B 的周期就失去保护了
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewDispatchLock 创建调度周期锁
//
// 锁的过期时间取周期硬超时，调度实例崩溃后锁最多悬挂一个超时窗口；
// value 使用实例标识，便于排查是哪个实例持有锁
func NewDispatchLock(client *redis.Client, instanceID string, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, "notify:dispatch:lock", instanceID, expiration)
}
