package xadmit

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// engineCore 滑动窗口准入引擎
// 使用组合模式，将公共的准入流程与具体的后端实现分离
// 职责:
//   - 解析策略、求值高峰乘数、计算有效配额
//   - 调用后端执行原子检查
//   - 处理可观测性（span、metrics）和回调
type engineCore struct {
	backend  Backend
	table    *PolicyTable
	schedule *Schedule
	opts     *options
	tracer   trace.Tracer
	closed   atomic.Bool
}

// newEngineCore 创建准入引擎
func newEngineCore(backend Backend, table *PolicyTable, schedule *Schedule, opts *options) *engineCore {
	tp := opts.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &engineCore{
		backend:  backend,
		table:    table,
		schedule: schedule,
		opts:     opts,
		tracer:   tp.Tracer("xadmit"),
	}
}

// Admit 执行一次准入检查
//
// 存储故障以可区分错误上抛（由降级层处理），不伪装成决策。
// 请求在写入条目后被取消时，条目不回滚：服务成本已经产生，
// 取消的请求依然消耗一个配额单位。
func (e *engineCore) Admit(ctx context.Context, key Key, tier Tier, class OperationClass) (*AdmissionResult, error) {
	if e.closed.Load() {
		return nil, ErrAdmitterClosed
	}

	start := time.Now()
	policy := e.resolvePolicy(ctx, tier, class)
	now := e.opts.clock()

	multiplier := e.schedule.EffectiveMultiplier(now)
	effectiveMax := effectiveLimit(policy.MaxAdmissions, multiplier)

	ctx, span := e.tracer.Start(ctx, "xadmit.admit",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("admit.tier", string(policy.Tier)),
			attribute.String("admit.class", string(policy.Class)),
			attribute.Int("admit.effective_max", effectiveMax),
			attribute.String("backend.type", e.backend.Type()),
		),
	)
	defer span.End()

	check, err := e.checkBackend(ctx, key, policy, now, effectiveMax)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger check failed")
		return nil, err
	}

	result := e.buildResult(key, policy, now, effectiveMax, check)
	span.SetAttributes(
		attribute.Bool("admit.allowed", result.Allowed),
		attribute.Int("admit.remaining", result.Remaining),
	)

	e.opts.metrics.RecordAdmit(ctx, e.backend.Type(), result, time.Since(start))

	if result.Allowed {
		e.callOnAllow(ctx, key, result)
	} else {
		e.callOnDeny(ctx, key, result)
	}

	return result, nil
}

// resolvePolicy 解析策略，回退时记录配置完整性告警
func (e *engineCore) resolvePolicy(ctx context.Context, tier Tier, class OperationClass) QuotaPolicy {
	policy, exact := e.table.Resolve(tier, class)
	if !exact && e.opts.logger != nil {
		// 未配置的组合按 fail-safe 映射到更严格的策略，不上抛给调用方
		e.opts.logger.WarnContext(ctx, "no policy configured, using fail-safe default",
			slog.String("tier", string(tier)),
			slog.String("class", string(class)),
			slog.String("fallback_tier", string(policy.Tier)),
			slog.String("fallback_class", string(policy.Class)),
		)
	}
	return policy
}

// checkBackend 执行有界超时的后端调用
func (e *engineCore) checkBackend(ctx context.Context, key Key, policy QuotaPolicy, now time.Time, effectiveMax int) (CheckResult, error) {
	if timeout := e.opts.config.CheckTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ledgerKey := renderLedgerKey(e.opts.config.KeyPrefix, key, policy)
	member := newMember(now)

	return e.backend.Admit(ctx, ledgerKey, now, policy.Window, effectiveMax, member)
}

// buildResult 由后端检查结果构造准入结果
//
// 边界为 count >= effectiveMax：任一时刻窗口内至多持有
// effectiveMax 个已准入条目，恰好到达上限的请求被拒绝。
func (e *engineCore) buildResult(key Key, policy QuotaPolicy, now time.Time, effectiveMax int, check CheckResult) *AdmissionResult {
	result := &AdmissionResult{
		Allowed: check.Allowed,
		Limit:   effectiveMax,
		ResetAt: now.Add(policy.Window),
		Key:     key.String(),
		Tier:    policy.Tier,
		Class:   policy.Class,
	}

	if check.Allowed {
		result.Remaining = effectiveMax - check.Count - 1
	} else {
		result.Remaining = 0
		result.RetryAfter = policy.Window
	}

	return result
}

// Query 查询当前配额状态（不消耗配额）
func (e *engineCore) Query(ctx context.Context, key Key, tier Tier, class OperationClass) (*QuotaInfo, error) {
	if e.closed.Load() {
		return nil, ErrAdmitterClosed
	}

	policy := e.resolvePolicy(ctx, tier, class)
	now := e.opts.clock()
	effectiveMax := effectiveLimit(policy.MaxAdmissions, e.schedule.EffectiveMultiplier(now))

	count, err := e.backend.Count(ctx, renderLedgerKey(e.opts.config.KeyPrefix, key, policy), now, policy.Window)
	if err != nil {
		return nil, err
	}

	remaining := effectiveMax - count
	if remaining < 0 {
		remaining = 0
	}

	return &QuotaInfo{
		Key:       key.String(),
		Tier:      policy.Tier,
		Class:     policy.Class,
		Limit:     effectiveMax,
		Remaining: remaining,
		ResetAt:   now.Add(policy.Window),
	}, nil
}

// Reset 清空指定键在指定策略维度下的计数
func (e *engineCore) Reset(ctx context.Context, key Key, tier Tier, class OperationClass) error {
	if e.closed.Load() {
		return ErrAdmitterClosed
	}

	policy := e.resolvePolicy(ctx, tier, class)
	return e.backend.Reset(ctx, renderLedgerKey(e.opts.config.KeyPrefix, key, policy))
}

// Close 关闭引擎
func (e *engineCore) Close(ctx context.Context) error {
	e.closed.Store(true)
	return e.backend.Close(ctx)
}

// callOnAllow 调用放行回调并记录日志
func (e *engineCore) callOnAllow(ctx context.Context, key Key, result *AdmissionResult) {
	if e.opts.onAllow != nil {
		e.opts.onAllow(key, result)
	}

	if e.opts.logger != nil {
		e.opts.logger.DebugContext(ctx, "admission allowed",
			slog.String("backend_type", e.backend.Type()),
			slog.String("key", result.Key),
			slog.String("tier", string(result.Tier)),
			slog.String("class", string(result.Class)),
			slog.Int("remaining", result.Remaining),
		)
	}
}

// callOnDeny 调用拒绝回调并记录日志
func (e *engineCore) callOnDeny(ctx context.Context, key Key, result *AdmissionResult) {
	if e.opts.onDeny != nil {
		e.opts.onDeny(key, result)
	}

	if e.opts.logger != nil {
		e.opts.logger.WarnContext(ctx, "admission denied",
			slog.String("backend_type", e.backend.Type()),
			slog.String("key", result.Key),
			slog.String("tier", string(result.Tier)),
			slog.String("class", string(result.Class)),
			slog.Int("limit", result.Limit),
			slog.Duration("retry_after", result.RetryAfter),
		)
	}
}

// effectiveLimit 计算应用高峰乘数后的有效配额上限
// 向下取整：max=10, multiplier=1.5 → 15；multiplier 恒 >= 1.0
func effectiveLimit(max int, multiplier float64) int {
	return int(math.Floor(float64(max) * multiplier))
}

// renderLedgerKey 渲染账本键
// 每个 (key, tier, class) 组合持有独立的窗口和计数
func renderLedgerKey(prefix string, key Key, policy QuotaPolicy) string {
	return prefix + key.String() + ":" + string(policy.Tier) + ":" + string(policy.Class)
}

// newMember 生成账本条目成员
// 时间戳前缀便于调试，nonce 保证同毫秒条目互不覆盖
func newMember(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
}

// 确保 engineCore 实现了必要接口
var (
	_ Admitter = (*engineCore)(nil)
	_ Querier  = (*engineCore)(nil)
	_ Resetter = (*engineCore)(nil)
)
