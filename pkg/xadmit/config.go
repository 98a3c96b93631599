package xadmit

import (
	"fmt"
	"time"
)

// 默认配置常量
const (
	// defaultKeyPrefix 账本键前缀
	defaultKeyPrefix = "xadmit:"
	// defaultCheckTimeout 单次账本存储往返的超时上限
	defaultCheckTimeout = 50 * time.Millisecond
	// defaultDegradeThreshold 进入降级模式的连续失败阈值
	defaultDegradeThreshold = 5
	// defaultDegradeResetTimeout 降级模式下的恢复探测间隔
	defaultDegradeResetTimeout = 60 * time.Second
)

// Config 准入器配置
type Config struct {
	// KeyPrefix 账本键前缀，默认为 "xadmit:"
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" koanf:"key_prefix"`

	// CheckTimeout 单次账本存储往返的超时上限
	CheckTimeout time.Duration `json:"check_timeout" yaml:"check_timeout" koanf:"check_timeout"`

	// DegradeThreshold 进入降级模式的连续失败阈值
	DegradeThreshold uint32 `json:"degrade_threshold" yaml:"degrade_threshold" koanf:"degrade_threshold"`

	// DegradeResetTimeout 降级模式下的恢复探测间隔
	DegradeResetTimeout time.Duration `json:"degrade_reset_timeout" yaml:"degrade_reset_timeout" koanf:"degrade_reset_timeout"`

	// TrustedProxies 可信代理网段（CIDR），供 HTTP 身份解析使用
	TrustedProxies []string `json:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty" koanf:"trusted_proxies"`

	// Policies 配额策略列表，空时使用默认表
	Policies []PolicyConfig `json:"policies,omitempty" yaml:"policies,omitempty" koanf:"policies"`

	// Surges 高峰规则列表
	Surges []SurgeConfig `json:"surges,omitempty" yaml:"surges,omitempty" koanf:"surges"`

	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `json:"enable_metrics" yaml:"enable_metrics" koanf:"enable_metrics"`

	// EnableHeaders 是否在响应中添加限流头
	EnableHeaders bool `json:"enable_headers" yaml:"enable_headers" koanf:"enable_headers"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		KeyPrefix:           defaultKeyPrefix,
		CheckTimeout:        defaultCheckTimeout,
		DegradeThreshold:    defaultDegradeThreshold,
		DegradeResetTimeout: defaultDegradeResetTimeout,
		EnableMetrics:       true,
		EnableHeaders:       true,
	}
}

// Validate 验证配置是否有效
func (c Config) Validate() error {
	if c.CheckTimeout < 0 {
		return fmt.Errorf("%w: check_timeout cannot be negative", ErrInvalidConfig)
	}
	if c.DegradeResetTimeout < 0 {
		return fmt.Errorf("%w: degrade_reset_timeout cannot be negative", ErrInvalidConfig)
	}

	if _, err := c.buildPolicies(); err != nil {
		return err
	}
	if _, err := c.buildSurgeRules(); err != nil {
		return err
	}
	if _, err := buildIPSet(c.TrustedProxies); err != nil {
		return err
	}

	return nil
}

// EffectiveDegradeThreshold 返回有效的降级阈值
// 未设置时返回默认值
func (c Config) EffectiveDegradeThreshold() uint32 {
	if c.DegradeThreshold == 0 {
		return defaultDegradeThreshold
	}
	return c.DegradeThreshold
}

// EffectiveDegradeResetTimeout 返回有效的探测间隔
// 未设置时返回默认值
func (c Config) EffectiveDegradeResetTimeout() time.Duration {
	if c.DegradeResetTimeout <= 0 {
		return defaultDegradeResetTimeout
	}
	return c.DegradeResetTimeout
}

// Clone 创建配置的深拷贝
func (c Config) Clone() Config {
	clone := c

	if c.TrustedProxies != nil {
		clone.TrustedProxies = make([]string, len(c.TrustedProxies))
		copy(clone.TrustedProxies, c.TrustedProxies)
	}
	if c.Policies != nil {
		clone.Policies = make([]PolicyConfig, len(c.Policies))
		copy(clone.Policies, c.Policies)
	}
	if c.Surges != nil {
		clone.Surges = make([]SurgeConfig, len(c.Surges))
		copy(clone.Surges, c.Surges)
	}

	return clone
}

// buildPolicies 由配置构建策略列表
func (c Config) buildPolicies() ([]QuotaPolicy, error) {
	if len(c.Policies) == 0 {
		return nil, nil
	}

	policies := make([]QuotaPolicy, 0, len(c.Policies))
	for i, pc := range c.Policies {
		p := QuotaPolicy{
			Tier:          Tier(pc.Tier),
			Class:         OperationClass(pc.Class),
			Window:        pc.Window,
			MaxAdmissions: pc.MaxAdmissions,
			FailureMode:   FailureMode(pc.FailureMode),
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		policies = append(policies, p)
	}

	return policies, nil
}

// buildSurgeRules 由配置构建高峰规则
func (c Config) buildSurgeRules() ([]SurgeRule, error) {
	if len(c.Surges) == 0 {
		return nil, nil
	}

	rules := make([]SurgeRule, 0, len(c.Surges))
	for i, sc := range c.Surges {
		rule, err := sc.build()
		if err != nil {
			return nil, fmt.Errorf("surges[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// PolicyConfig 配额策略的配置表示
type PolicyConfig struct {
	// Tier 调用方等级：base, elevated, unrestricted
	Tier string `json:"tier" yaml:"tier" koanf:"tier"`

	// Class 操作类别：standard, expensive, ai-assisted
	Class string `json:"class" yaml:"class" koanf:"class"`

	// Window 滑动窗口时长
	Window time.Duration `json:"window" yaml:"window" koanf:"window"`

	// MaxAdmissions 窗口内允许的最大准入数
	MaxAdmissions int `json:"max_admissions" yaml:"max_admissions" koanf:"max_admissions"`

	// FailureMode 降级行为：open（默认）或 closed
	FailureMode string `json:"failure_mode,omitempty" yaml:"failure_mode,omitempty" koanf:"failure_mode"`
}

// SurgeConfig 高峰规则的配置表示
//
// 两种互斥的形式：
//   - 周期规则：cron + active
//   - 绝对区间规则：from + until（RFC3339）
type SurgeConfig struct {
	// Name 规则名称
	Name string `json:"name" yaml:"name" koanf:"name"`

	// Multiplier 配额乘数，必须 >= 1.0
	Multiplier float64 `json:"multiplier" yaml:"multiplier" koanf:"multiplier"`

	// Cron 标准 5 字段 cron 表达式
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty" koanf:"cron"`

	// Active cron 每次触发后的生效时长
	Active time.Duration `json:"active,omitempty" yaml:"active,omitempty" koanf:"active"`

	// From 区间起点（RFC3339）
	From string `json:"from,omitempty" yaml:"from,omitempty" koanf:"from"`

	// Until 区间终点（RFC3339）
	Until string `json:"until,omitempty" yaml:"until,omitempty" koanf:"until"`
}

// build 构建高峰规则
func (sc SurgeConfig) build() (SurgeRule, error) {
	if sc.Name == "" {
		return nil, fmt.Errorf("%w: surge rule name is required", ErrInvalidConfig)
	}

	switch {
	case sc.Cron != "" && (sc.From != "" || sc.Until != ""):
		return nil, fmt.Errorf("%w: surge rule %q mixes cron and from/until forms", ErrInvalidConfig, sc.Name)

	case sc.Cron != "":
		return CronRule(sc.Name, sc.Cron, sc.Active, sc.Multiplier)

	case sc.From != "" && sc.Until != "":
		from, err := time.Parse(time.RFC3339, sc.From)
		if err != nil {
			return nil, fmt.Errorf("%w: surge rule %q from: %v", ErrInvalidConfig, sc.Name, err)
		}
		until, err := time.Parse(time.RFC3339, sc.Until)
		if err != nil {
			return nil, fmt.Errorf("%w: surge rule %q until: %v", ErrInvalidConfig, sc.Name, err)
		}
		return WindowRule(sc.Name, from, until, sc.Multiplier)

	default:
		return nil, fmt.Errorf("%w: surge rule %q needs either cron+active or from+until", ErrInvalidConfig, sc.Name)
	}
}
