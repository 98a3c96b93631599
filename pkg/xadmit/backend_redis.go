package xadmit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript 滑动窗口准入脚本
//
// 每个键对应一个 ZSET，score 为条目时间戳（毫秒），member 携带 nonce。
// 四步在服务端原子执行：
//
//  1. 删除 score < now-window 的过期条目
//  2. ZCARD 统计存活条目（本次请求之前的计数）
//  3. count >= max 时拒绝，不写入
//  4. 否则 ZADD 写入新条目并 PEXPIRE 刷新键的回收期限
//
// now 由客户端时钟传入而非 redis.call('TIME')：
// 引擎的注入时钟因此同样约束存储侧窗口计算，测试可以模拟时间流逝。
// 物理回收依赖存储自身的过期机制（PEXPIRE），本子系统不做后台清理。
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
if count >= max then
	return {0, count}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, count}
`)

// redisBackend 基于 Redis ZSET 的分布式账本后端
type redisBackend struct {
	rdb redis.UniversalClient
}

// newRedisBackend 创建 Redis 后端
func newRedisBackend(rdb redis.UniversalClient) *redisBackend {
	return &redisBackend{rdb: rdb}
}

// Type 返回后端类型
func (b *redisBackend) Type() string {
	return "distributed"
}

// Admit 执行原子准入检查
func (b *redisBackend) Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int, member string) (CheckResult, error) {
	raw, err := admitScript.Run(ctx, b.rdb,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		max,
		member,
	).Result()
	if err != nil {
		return CheckResult{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	allowed, count, err := parseAdmitReply(raw)
	if err != nil {
		return CheckResult{}, err
	}

	return CheckResult{Allowed: allowed, Count: count}, nil
}

// parseAdmitReply 解析脚本返回值并校验不变式
//
// 负计数或格式异常属于不变式违反：对应请求被保守拒绝（放行才是
// 不安全方向），错误不计入降级控制器的失败计数。
func parseAdmitReply(raw any) (bool, int, error) {
	reply, ok := raw.([]any)
	if !ok || len(reply) != 2 {
		return false, 0, fmt.Errorf("%w: unexpected script reply %T", ErrInvariantViolation, raw)
	}

	flag, ok1 := reply[0].(int64)
	count, ok2 := reply[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("%w: non-integer script reply", ErrInvariantViolation)
	}

	if count < 0 {
		return false, 0, fmt.Errorf("%w: negative window count %d", ErrInvariantViolation, count)
	}

	return flag == 1, int(count), nil
}

// Count 查询窗口内的存活条目数（不消耗配额）
func (b *redisBackend) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	windowStart := now.UnixMilli() - window.Milliseconds()

	n, err := b.rdb.ZCount(ctx, key,
		strconv.FormatInt(windowStart, 10),
		"+inf",
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("%w: negative window count %d", ErrInvariantViolation, n)
	}

	return int(n), nil
}

// Reset 清空指定键的全部条目
func (b *redisBackend) Reset(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return nil
}

// Close 关闭后端
// 注入的 Redis 客户端由调用方负责关闭。
func (b *redisBackend) Close(_ context.Context) error {
	return nil
}

// 确保 redisBackend 实现了 Backend 接口
var _ Backend = (*redisBackend)(nil)
