package xadmit

import (
	"context"
	"time"
)

// CheckResult 后端检查结果
type CheckResult struct {
	// Allowed 是否放行
	Allowed bool

	// Count 本次请求之前窗口内的存活条目数
	Count int
}

// Backend 账本存储后端接口
//
// 职责单一：只负责对单个键执行原子的"清理-计数-条件写入"序列，
// 不包含策略解析、可观测性、降级等关注点。实现必须并发安全，
// 且整个序列对并发调用方必须等价于一次原子 compare-and-increment——
// 部分执行绝不能被并发调用方观察到。
type Backend interface {
	// Admit 对单个键执行滑动窗口准入检查
	// 参数:
	//   - key: 渲染后的账本键（如 "xadmit:user:9f2c:base:standard"）
	//   - now: 当前时刻（由引擎时钟提供，毫秒精度）
	//   - window: 滑动窗口时长
	//   - max: 有效配额上限（已应用高峰乘数并取整）
	//   - member: 条目成员标识，同毫秒条目靠 nonce 去重
	//
	// 拒绝时不写入新条目。存储故障以可区分的错误返回
	// （IsLedgerError 为 true），而不是伪装成准入或拒绝决策。
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int, member string) (CheckResult, error)

	// Count 查询窗口内的存活条目数（不消耗配额）
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)

	// Reset 清空指定键的全部条目
	Reset(ctx context.Context, key string) error

	// Close 释放后端自有资源（不关闭注入的外部客户端）
	Close(ctx context.Context) error

	// Type 返回后端类型标识，用于日志和指标
	Type() string
}
