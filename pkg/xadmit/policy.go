package xadmit

import (
	"fmt"
	"time"
)

// =============================================================================
// 配置维度枚举
// =============================================================================

// Tier 调用方等级
type Tier string

const (
	// TierBase 基础等级（默认，也是兜底等级）
	TierBase Tier = "base"

	// TierElevated 提升等级
	TierElevated Tier = "elevated"

	// TierUnrestricted 最高等级（"unrestricted" 指等级名称，配额仍然有限）
	TierUnrestricted Tier = "unrestricted"
)

// IsValid 检查等级是否为已知值
func (t Tier) IsValid() bool {
	switch t {
	case TierBase, TierElevated, TierUnrestricted:
		return true
	default:
		return false
	}
}

// OperationClass 操作成本类别
type OperationClass string

const (
	// ClassStandard 普通操作
	ClassStandard OperationClass = "standard"

	// ClassExpensive 高成本操作
	ClassExpensive OperationClass = "expensive"

	// ClassAIAssisted AI 辅助操作
	ClassAIAssisted OperationClass = "ai-assisted"
)

// IsValid 检查操作类别是否为已知值
func (c OperationClass) IsValid() bool {
	switch c {
	case ClassStandard, ClassExpensive, ClassAIAssisted:
		return true
	default:
		return false
	}
}

// FailureMode 账本存储不可用时的降级行为
type FailureMode string

const (
	// FailOpen 降级时放行（默认）：可用性优先于严格配额执行
	FailOpen FailureMode = "open"

	// FailClosed 降级时拒绝：严格性优先的部署显式选择此模式
	FailClosed FailureMode = "closed"
)

// IsValid 检查降级行为是否有效
func (m FailureMode) IsValid() bool {
	switch m {
	case FailOpen, FailClosed, "":
		return true
	default:
		return false
	}
}

// =============================================================================
// 配额策略
// =============================================================================

// QuotaPolicy 配额策略，(tier, class) 二维表中的一个单元格
//
// 策略从准入引擎视角是只读的，由外部配置协作方拥有和变更。
type QuotaPolicy struct {
	// Tier 调用方等级
	Tier Tier

	// Class 操作成本类别
	Class OperationClass

	// Window 滑动窗口时长
	Window time.Duration

	// MaxAdmissions 窗口内允许的最大准入数
	MaxAdmissions int

	// FailureMode 降级行为，空值等同于 FailOpen
	FailureMode FailureMode
}

// Validate 验证策略是否有效
func (p QuotaPolicy) Validate() error {
	if !p.Tier.IsValid() {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidConfig, p.Tier)
	}
	if !p.Class.IsValid() {
		return fmt.Errorf("%w: unknown operation class %q", ErrInvalidConfig, p.Class)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	}
	if p.MaxAdmissions <= 0 {
		return fmt.Errorf("%w: max admissions must be positive", ErrInvalidConfig)
	}
	if !p.FailureMode.IsValid() {
		return fmt.Errorf("%w: unknown failure mode %q", ErrInvalidConfig, p.FailureMode)
	}
	return nil
}

// EffectiveFailureMode 返回有效的降级行为
// 未设置时返回 FailOpen
func (p QuotaPolicy) EffectiveFailureMode() FailureMode {
	if p.FailureMode == "" {
		return FailOpen
	}
	return p.FailureMode
}

// stricterThan 比较两个策略的严格程度
// 先比较最大准入数，相同时窗口更长者更严格
func (p QuotaPolicy) stricterThan(other QuotaPolicy) bool {
	if p.MaxAdmissions != other.MaxAdmissions {
		return p.MaxAdmissions < other.MaxAdmissions
	}
	return p.Window > other.Window
}

// NewPolicy 创建一个新策略
func NewPolicy(tier Tier, class OperationClass, max int, window time.Duration) QuotaPolicy {
	return QuotaPolicy{
		Tier:          tier,
		Class:         class,
		Window:        window,
		MaxAdmissions: max,
	}
}

// DefaultPolicies 返回默认策略表（配置数据，生产环境应由配置协作方提供）
func DefaultPolicies() []QuotaPolicy {
	const window = time.Minute
	return []QuotaPolicy{
		NewPolicy(TierBase, ClassStandard, 100, window),
		NewPolicy(TierBase, ClassExpensive, 20, window),
		NewPolicy(TierBase, ClassAIAssisted, 10, window),
		NewPolicy(TierElevated, ClassStandard, 300, window),
		NewPolicy(TierElevated, ClassExpensive, 100, window),
		NewPolicy(TierElevated, ClassAIAssisted, 50, window),
		NewPolicy(TierUnrestricted, ClassStandard, 2000, window),
		NewPolicy(TierUnrestricted, ClassExpensive, 1000, window),
		NewPolicy(TierUnrestricted, ClassAIAssisted, 200, window),
	}
}

// =============================================================================
// 策略表
// =============================================================================

// PolicyTable 配额策略表，提供 O(1) 的 (tier, class) 查找
//
// 查找永远不会得到"无限制"：未知组合回退到 base 等级同类别的策略，
// 再回退到全表最严格的策略（fail-safe 默认）。
type PolicyTable struct {
	cells     map[Tier]map[OperationClass]QuotaPolicy
	strictest QuotaPolicy
}

// NewPolicyTable 创建策略表
//
// 同一 (tier, class) 组合出现多次时返回错误：
// 不变式要求任一时刻每个组合恰好有一个生效策略。
func NewPolicyTable(policies []QuotaPolicy) (*PolicyTable, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: at least one policy is required", ErrInvalidConfig)
	}

	t := &PolicyTable{
		cells: make(map[Tier]map[OperationClass]QuotaPolicy),
	}

	for i, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}

		row, ok := t.cells[p.Tier]
		if !ok {
			row = make(map[OperationClass]QuotaPolicy)
			t.cells[p.Tier] = row
		}
		if _, dup := row[p.Class]; dup {
			return nil, fmt.Errorf("%w: duplicate policy for (%s, %s)", ErrInvalidConfig, p.Tier, p.Class)
		}
		row[p.Class] = p

		if i == 0 || p.stricterThan(t.strictest) {
			t.strictest = p
		}
	}

	return t, nil
}

// Resolve 查找 (tier, class) 对应的策略
//
// 回退顺序：精确匹配 → base 等级同类别 → 全表最严格策略。
// 触发回退属于配置完整性问题（ErrPolicyNotFound 语义），
// 由调用方记录日志；本方法自身总能返回一个安全的策略。
func (t *PolicyTable) Resolve(tier Tier, class OperationClass) (QuotaPolicy, bool) {
	if row, ok := t.cells[tier]; ok {
		if p, ok := row[class]; ok {
			return p, true
		}
	}

	if row, ok := t.cells[TierBase]; ok {
		if p, ok := row[class]; ok {
			return p, false
		}
	}

	return t.strictest, false
}

// Strictest 返回全表最严格的策略
func (t *PolicyTable) Strictest() QuotaPolicy {
	return t.strictest
}

// Len 返回表中策略数量
func (t *PolicyTable) Len() int {
	n := 0
	for _, row := range t.cells {
		n += len(row)
	}
	return n
}
