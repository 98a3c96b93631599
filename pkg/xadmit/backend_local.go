package xadmit

import (
	"context"
	"sync"
	"time"
)

// localBackend 进程内账本后端
//
// 与 Redis 后端实现相同的"清理-计数-条件写入"语义，
// 原子性由进程互斥锁保证，因此只对单进程正确——
// 多实例部署下每个实例各自持有完整配额，不能作为分布式后端的替代。
// 用途：单元测试、单实例开发环境。
type localBackend struct {
	mu      sync.Mutex
	entries map[string][]int64 // key → 窗口内条目时间戳（毫秒，升序）
}

// newLocalBackend 创建进程内后端
func newLocalBackend() *localBackend {
	return &localBackend{
		entries: make(map[string][]int64),
	}
}

// Type 返回后端类型
func (b *localBackend) Type() string {
	return "local"
}

// Admit 执行准入检查
func (b *localBackend) Admit(_ context.Context, key string, now time.Time, window time.Duration, max int, _ string) (CheckResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	nowMs := now.UnixMilli()
	alive := b.prune(key, nowMs-window.Milliseconds())

	count := len(alive)
	if count >= max {
		return CheckResult{Allowed: false, Count: count}, nil
	}

	b.entries[key] = append(alive, nowMs)
	return CheckResult{Allowed: true, Count: count}, nil
}

// prune 移除 windowStart 之前的条目，返回存活条目
// 调用方必须持有锁。
func (b *localBackend) prune(key string, windowStart int64) []int64 {
	alive := b.entries[key]

	// 条目按时间升序追加，找到第一个存活条目即可截断
	idx := 0
	for idx < len(alive) && alive[idx] < windowStart {
		idx++
	}
	if idx > 0 {
		alive = alive[idx:]
	}

	if len(alive) == 0 {
		delete(b.entries, key)
		return nil
	}

	b.entries[key] = alive
	return alive
}

// Count 查询窗口内的存活条目数
func (b *localBackend) Count(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	alive := b.prune(key, now.UnixMilli()-window.Milliseconds())
	return len(alive), nil
}

// Reset 清空指定键的全部条目
func (b *localBackend) Reset(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)
	return nil
}

// Close 释放后端资源
func (b *localBackend) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string][]int64)
	return nil
}

// 确保 localBackend 实现了 Backend 接口
var _ Backend = (*localBackend)(nil)
