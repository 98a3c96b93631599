package xadmit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker/v2"
)

// =============================================================================
// 降级模式
// =============================================================================

// DegradeMode 降级控制器的当前模式
type DegradeMode int

const (
	// ModeStrict 严格模式（初始）：每次 Admit 都访问账本存储
	ModeStrict DegradeMode = iota

	// ModeProbing 探测模式：降级后允许一次真实调用验证存储是否恢复
	ModeProbing

	// ModeDegraded 降级模式：绕过账本存储，按策略的 FailureMode 直接决策
	ModeDegraded
)

// String 返回模式的字符串表示
func (m DegradeMode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeProbing:
		return "probing"
	case ModeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// modeFromState 将熔断器状态映射为降级模式
func modeFromState(s gobreaker.State) DegradeMode {
	switch s {
	case gobreaker.StateOpen:
		return ModeDegraded
	case gobreaker.StateHalfOpen:
		return ModeProbing
	default:
		return ModeStrict
	}
}

// =============================================================================
// 降级控制器
// =============================================================================

// degradeAdmitter 带降级控制的准入器
//
// 状态机基于熔断器：Closed=严格，Open=降级，HalfOpen=探测。
//   - 严格模式下账本存储的连续失败达到阈值后进入降级模式
//   - 降级模式下不再访问存储，按策略的 FailureMode 直接决策；
//     超时后进入探测模式，用一次真实调用验证恢复，成功则回到严格模式
//
// 状态是进程本地的，刻意不跨实例同步：每个实例独立决定自身模式，
// 用不完全一致的行为换取简单性，避免引入第二个协调故障点。
// 进程重启即重置。控制器随进程存活，没有终止状态。
type degradeAdmitter struct {
	inner *engineCore
	table *PolicyTable
	opts  *options
	cb    *gobreaker.CircuitBreaker[*AdmissionResult]
}

// newDegradeAdmitter 创建降级控制器
func newDegradeAdmitter(inner *engineCore, table *PolicyTable, opts *options) *degradeAdmitter {
	d := &degradeAdmitter{
		inner: inner,
		table: table,
		opts:  opts,
	}

	d.cb = gobreaker.NewCircuitBreaker[*AdmissionResult](gobreaker.Settings{
		Name:        "xadmit-ledger",
		MaxRequests: 1,
		Timeout:     opts.config.EffectiveDegradeResetTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.config.EffectiveDegradeThreshold()
		},
		// 只有账本存储故障计入失败：不变式违反、策略问题等业务性
		// 错误不应触发降级（存储本身是健康的）
		IsSuccessful: func(err error) bool {
			return err == nil || !IsLedgerError(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			d.handleModeChange(modeFromState(from), modeFromState(to))
		},
	})

	return d
}

// Admit 执行受降级控制的准入检查
func (d *degradeAdmitter) Admit(ctx context.Context, key Key, tier Tier, class OperationClass) (*AdmissionResult, error) {
	result, err := d.cb.Execute(func() (*AdmissionResult, error) {
		return d.inner.Admit(ctx, key, tier, class)
	})
	if err == nil {
		return result, nil
	}

	// 降级模式：熔断器未调用底层，直接按策略决策
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return d.degradedDecision(ctx, key, tier, class), nil
	}

	// 不变式违反：保守拒绝（放行才是不安全方向），仅影响单个请求
	if errors.Is(err, ErrInvariantViolation) {
		return d.conservativeDeny(ctx, key, tier, class, err), nil
	}

	// 严格模式下的单次存储故障：已计入失败计数，可区分地上抛一次，
	// 由 HTTP 封装层决定透传行为
	return nil, err
}

// degradedDecision 降级模式下的决策
//
// fail-open（默认）：放行并报告完整剩余配额——可用性优先于严格配额执行。
// fail-closed：拒绝并携带重试提示——需要严格性的部署在策略上显式选择，
// 这是策略字段而不是状态机的结构变更。
func (d *degradeAdmitter) degradedDecision(ctx context.Context, key Key, tier Tier, class OperationClass) *AdmissionResult {
	policy, _ := d.table.Resolve(tier, class)
	now := d.opts.clock()

	result := &AdmissionResult{
		Degraded: true,
		Limit:    policy.MaxAdmissions,
		ResetAt:  now.Add(policy.Window),
		Key:      key.String(),
		Tier:     policy.Tier,
		Class:    policy.Class,
	}

	if policy.EffectiveFailureMode() == FailClosed {
		result.Allowed = false
		result.Remaining = 0
		result.RetryAfter = policy.Window
	} else {
		result.Allowed = true
		result.Remaining = policy.MaxAdmissions
	}

	d.opts.metrics.RecordAdmit(ctx, "degraded", result, 0)
	return result
}

// conservativeDeny 不变式违反时的保守拒绝
func (d *degradeAdmitter) conservativeDeny(ctx context.Context, key Key, tier Tier, class OperationClass, cause error) *AdmissionResult {
	policy, _ := d.table.Resolve(tier, class)
	now := d.opts.clock()

	if d.opts.logger != nil {
		d.opts.logger.ErrorContext(ctx, "ledger invariant violation, denying conservatively",
			slog.String("key", key.String()),
			slog.String("tier", string(tier)),
			slog.String("class", string(class)),
			slog.String("error", cause.Error()),
		)
	}

	return &AdmissionResult{
		Allowed:    false,
		Limit:      policy.MaxAdmissions,
		Remaining:  0,
		ResetAt:    now.Add(policy.Window),
		RetryAfter: policy.Window,
		Key:        key.String(),
		Tier:       policy.Tier,
		Class:      policy.Class,
	}
}

// handleModeChange 处理模式切换：日志、指标、回调
func (d *degradeAdmitter) handleModeChange(from, to DegradeMode) {
	if d.opts.logger != nil {
		level := slog.LevelWarn
		if to == ModeStrict {
			level = slog.LevelInfo
		}
		d.opts.logger.Log(context.Background(), level, "degrade mode changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}

	d.opts.metrics.RecordModeChange(context.Background(), from, to)

	if d.opts.onModeChange != nil {
		d.opts.onModeChange(from, to)
	}
}

// Mode 返回当前降级模式
func (d *degradeAdmitter) Mode() DegradeMode {
	return modeFromState(d.cb.State())
}

// Query 查询当前配额状态（不消耗配额）
// 降级模式下不访问存储，直接返回存储不可用错误。
func (d *degradeAdmitter) Query(ctx context.Context, key Key, tier Tier, class OperationClass) (*QuotaInfo, error) {
	if d.Mode() == ModeDegraded {
		return nil, ErrLedgerUnavailable
	}
	return d.inner.Query(ctx, key, tier, class)
}

// Reset 清空指定键的计数
func (d *degradeAdmitter) Reset(ctx context.Context, key Key, tier Tier, class OperationClass) error {
	return d.inner.Reset(ctx, key, tier, class)
}

// Close 关闭准入器
func (d *degradeAdmitter) Close(ctx context.Context) error {
	return d.inner.Close(ctx)
}

// 确保 degradeAdmitter 实现了必要接口
var (
	_ Admitter     = (*degradeAdmitter)(nil)
	_ Querier      = (*degradeAdmitter)(nil)
	_ Resetter     = (*degradeAdmitter)(nil)
	_ ModeReporter = (*degradeAdmitter)(nil)
)
