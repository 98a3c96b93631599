package xadmit

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// =============================================================================
// 高峰规则
// =============================================================================

// SurgeRule 高峰时段规则
//
// 规则是墙钟时间的纯函数，不依赖外部状态。
// 多条规则可以同时生效，有效乘数取生效规则中的最大值而非乘积，
// 避免重叠高峰事件导致容量失控。
type SurgeRule interface {
	// Name 规则名称，用于日志和指标
	Name() string

	// Active 判断规则在给定时刻是否生效
	Active(now time.Time) bool

	// Multiplier 配额乘数，构造时保证 >= 1.0
	Multiplier() float64
}

// validateMultiplier 校验乘数下界
func validateMultiplier(name string, m float64) error {
	if m < 1.0 {
		return fmt.Errorf("%w: surge rule %q multiplier %v is below 1.0", ErrInvalidConfig, name, m)
	}
	return nil
}

// -----------------------------------------------------------------------------
// 绝对区间规则
// -----------------------------------------------------------------------------

// windowRule 在固定的绝对时间区间 [from, until) 内生效
type windowRule struct {
	name       string
	from       time.Time
	until      time.Time
	multiplier float64
}

// WindowRule 创建绝对区间高峰规则
//
// 适用于一次性的已声明高峰事件（如产品发布日）。
func WindowRule(name string, from, until time.Time, multiplier float64) (SurgeRule, error) {
	if err := validateMultiplier(name, multiplier); err != nil {
		return nil, err
	}
	if !until.After(from) {
		return nil, fmt.Errorf("%w: surge rule %q has empty window", ErrInvalidConfig, name)
	}
	return &windowRule{name: name, from: from, until: until, multiplier: multiplier}, nil
}

func (r *windowRule) Name() string        { return r.name }
func (r *windowRule) Multiplier() float64 { return r.multiplier }

func (r *windowRule) Active(now time.Time) bool {
	return !now.Before(r.from) && now.Before(r.until)
}

// -----------------------------------------------------------------------------
// 周期规则
// -----------------------------------------------------------------------------

// cronRule 在标准 cron 表达式每次触发后的 active 时长内生效
type cronRule struct {
	name       string
	schedule   cron.Schedule
	active     time.Duration
	multiplier float64
}

// CronRule 创建周期性高峰规则
//
// spec 为标准 5 字段 cron 表达式（robfig/cron 语义），
// 规则在每次触发时刻起的 active 时长内生效。
// 例："0 18 * * FRI" + 2h 表示每周五 18:00 起的两小时。
func CronRule(name, spec string, active time.Duration, multiplier float64) (SurgeRule, error) {
	if err := validateMultiplier(name, multiplier); err != nil {
		return nil, err
	}
	if active <= 0 {
		return nil, fmt.Errorf("%w: surge rule %q active duration must be positive", ErrInvalidConfig, name)
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: surge rule %q cron spec: %v", ErrInvalidConfig, name, err)
	}

	return &cronRule{name: name, schedule: schedule, active: active, multiplier: multiplier}, nil
}

func (r *cronRule) Name() string        { return r.name }
func (r *cronRule) Multiplier() float64 { return r.multiplier }

// Active 判断 now 是否落在某次触发后的生效区间内
//
// cron.Schedule 只提供 Next：从 now-active 起算的下一次触发
// 如果不晚于 now，说明 (now-active, now] 内发生过触发。
func (r *cronRule) Active(now time.Time) bool {
	next := r.schedule.Next(now.Add(-r.active))
	return !next.After(now) && !next.IsZero()
}

// -----------------------------------------------------------------------------
// 函数适配器
// -----------------------------------------------------------------------------

// ruleFunc 自定义谓词规则
type ruleFunc struct {
	name       string
	fn         func(now time.Time) bool
	multiplier float64
}

// RuleFunc 用自定义时间谓词创建高峰规则
//
// fn 必须是 now 的纯函数。
func RuleFunc(name string, multiplier float64, fn func(now time.Time) bool) (SurgeRule, error) {
	if err := validateMultiplier(name, multiplier); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: surge rule %q predicate is nil", ErrInvalidConfig, name)
	}
	return &ruleFunc{name: name, fn: fn, multiplier: multiplier}, nil
}

func (r *ruleFunc) Name() string              { return r.name }
func (r *ruleFunc) Multiplier() float64       { return r.multiplier }
func (r *ruleFunc) Active(now time.Time) bool { return r.fn(now) }

// =============================================================================
// 调度表
// =============================================================================

// Schedule 高峰调度表
//
// 每次请求重新求值所有规则（无跨请求缓存）：
// 准入决策必须反映当前时刻。求值成本 O(规则数)，预期个位数规则。
type Schedule struct {
	rules []SurgeRule
}

// NewSchedule 创建高峰调度表
func NewSchedule(rules ...SurgeRule) *Schedule {
	return &Schedule{rules: rules}
}

// EffectiveMultiplier 返回给定时刻的有效乘数
//
// 取所有生效规则乘数的最大值；无规则生效时返回 1.0。
func (s *Schedule) EffectiveMultiplier(now time.Time) float64 {
	multiplier := 1.0
	for _, rule := range s.rules {
		if rule.Active(now) && rule.Multiplier() > multiplier {
			multiplier = rule.Multiplier()
		}
	}
	return multiplier
}

// ActiveRules 返回给定时刻生效的规则名称，用于日志和调试
func (s *Schedule) ActiveRules(now time.Time) []string {
	var names []string
	for _, rule := range s.rules {
		if rule.Active(now) {
			names = append(names, rule.Name())
		}
	}
	return names
}

// Len 返回规则数量
func (s *Schedule) Len() int {
	return len(s.rules)
}

// 接口实现验证
var (
	_ SurgeRule = (*windowRule)(nil)
	_ SurgeRule = (*cronRule)(nil)
	_ SurgeRule = (*ruleFunc)(nil)
)
