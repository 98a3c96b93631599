package xadmit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// 核心接口定义
// =============================================================================

// Admitter 准入器核心接口
//
// 提供准入检查和资源清理的基本能力。
// 实现应该是并发安全的。
//
// Admit 的返回契约：
//   - err == nil 时，返回的 *AdmissionResult 必非 nil
//   - err != nil 时表示严格模式下的一次账本存储故障（可计数、可重试），
//     决策未能做出；HTTP 封装层按既定策略透传此类失败
type Admitter interface {
	// Admit 检查指定键在 (tier, class) 策略维度下是否放行
	// 被拒绝时返回的 AdmissionResult.Allowed 为 false
	Admit(ctx context.Context, key Key, tier Tier, class OperationClass) (*AdmissionResult, error)

	// Close 关闭准入器，释放资源
	Close(ctx context.Context) error
}

// =============================================================================
// 可选扩展接口（通过类型断言使用）
// =============================================================================

// Querier 配额查询接口
//
// 实现此接口的准入器支持查询当前配额状态（不消耗配额）。
// 使用方式：
//
//	if q, ok := admitter.(xadmit.Querier); ok {
//	    info, err := q.Query(ctx, key, tier, class)
//	}
type Querier interface {
	// Query 查询当前配额状态（不消耗配额）
	Query(ctx context.Context, key Key, tier Tier, class OperationClass) (*QuotaInfo, error)
}

// Resetter 配额重置接口
//
// 实现此接口的准入器支持手动清空计数。
type Resetter interface {
	// Reset 清空指定键在指定策略维度下的计数
	Reset(ctx context.Context, key Key, tier Tier, class OperationClass) error
}

// ModeReporter 降级模式查询接口
//
// 带降级控制器的准入器实现此接口。
type ModeReporter interface {
	// Mode 返回当前降级模式
	Mode() DegradeMode
}

// =============================================================================
// 数据结构
// =============================================================================

// QuotaInfo 配额信息
type QuotaInfo struct {
	// Key 限流键
	Key string
	// Tier 调用方等级
	Tier Tier
	// Class 操作类别
	Class OperationClass
	// Limit 当前有效配额上限（已应用高峰乘数）
	Limit int
	// Remaining 剩余配额
	Remaining int
	// ResetAt 配额重置时间
	ResetAt time.Time
}

// =============================================================================
// 工厂函数
// =============================================================================

// New 创建分布式准入器
//
// 使用 Redis 作为账本存储，多实例共享配额，
// 原子性由服务端 Lua 脚本保证。
// 始终包装降级控制器：控制器随进程存活，无终止状态。
func New(rdb redis.UniversalClient, opts ...Option) (Admitter, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}

	cfg, table, schedule, err := buildComponents(opts)
	if err != nil {
		return nil, err
	}

	backend := newRedisBackend(rdb)
	core := newEngineCore(backend, table, schedule, cfg)
	return newDegradeAdmitter(core, table, cfg), nil
}

// NewLocal 创建进程内准入器
//
// 使用内存作为账本存储，不依赖 Redis。
// 仅对单进程正确，适用于单元测试和单实例开发环境。
// 进程内后端没有可失败的共享存储，因此不包装降级控制器。
func NewLocal(opts ...Option) (Admitter, error) {
	cfg, table, schedule, err := buildComponents(opts)
	if err != nil {
		return nil, err
	}

	backend := newLocalBackend()
	return newEngineCore(backend, table, schedule, cfg), nil
}

// buildComponents 应用选项并构建策略表与高峰调度表
func buildComponents(opts []Option) (*options, *PolicyTable, *Schedule, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, nil, err
	}

	// 初始化指标收集器
	if cfg.config.EnableMetrics && cfg.meterProvider != nil {
		metrics, err := NewMetrics(cfg.meterProvider)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg.metrics = metrics
	}

	policies, err := cfg.effectivePolicies()
	if err != nil {
		return nil, nil, nil, err
	}

	table, err := NewPolicyTable(policies)
	if err != nil {
		return nil, nil, nil, err
	}

	rules, err := cfg.effectiveRules()
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, table, NewSchedule(rules...), nil
}
