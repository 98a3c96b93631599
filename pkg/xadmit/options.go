package xadmit

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// options 内部配置结构
type options struct {
	config         Config
	policies       []QuotaPolicy
	rules          []SurgeRule
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics
	clock          func() time.Time
	onAllow        func(key Key, result *AdmissionResult)
	onDeny         func(key Key, result *AdmissionResult)
	onModeChange   func(from, to DegradeMode)
	initErr        error // 配置加载阶段的错误，延迟到 New/NewLocal 时返回
}

// validate 验证选项并返回初始化阶段收集的错误
// 设计决策: Option 函数签名不支持返回错误，因此将配置加载错误
// 暂存在 initErr 中，在 New/NewLocal 构造时统一检查。
func (o *options) validate() error {
	if o.initErr != nil {
		return o.initErr
	}
	return o.config.Validate()
}

// effectivePolicies 返回生效的策略列表
// 优先级：WithPolicies 显式注入 > 配置文件 > 默认表
func (o *options) effectivePolicies() ([]QuotaPolicy, error) {
	if len(o.policies) > 0 {
		return o.policies, nil
	}
	if len(o.config.Policies) > 0 {
		return o.config.buildPolicies()
	}
	return DefaultPolicies(), nil
}

// effectiveRules 返回生效的高峰规则
// WithSurgeRules 注入的规则与配置文件中的规则合并
func (o *options) effectiveRules() ([]SurgeRule, error) {
	configRules, err := o.config.buildSurgeRules()
	if err != nil {
		return nil, err
	}
	return append(append([]SurgeRule{}, o.rules...), configRules...), nil
}

// Option 配置选项函数
type Option func(*options)

// defaultOptions 返回默认配置
func defaultOptions() *options {
	return &options{
		config: DefaultConfig(),
		clock:  time.Now,
	}
}

// WithPolicies 显式注入配额策略（覆盖配置文件中的策略）
func WithPolicies(policies ...QuotaPolicy) Option {
	return func(o *options) {
		o.policies = append(o.policies, policies...)
	}
}

// WithSurgeRules 注入高峰规则（与配置文件中的规则合并）
func WithSurgeRules(rules ...SurgeRule) Option {
	return func(o *options) {
		o.rules = append(o.rules, rules...)
	}
}

// WithKeyPrefix 设置账本键前缀
// 默认为 "xadmit:"
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.config.KeyPrefix = prefix
	}
}

// WithCheckTimeout 设置单次账本存储往返的超时上限
//
// 准入检查是请求管线上的同步 I/O，缓慢的检查不允许无限期拖住
// 管线；超时与存储故障同等对待（喂给降级控制器）。默认 50ms。
func WithCheckTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.config.CheckTimeout = d
		}
	}
}

// WithDegradeThreshold 设置进入降级模式的连续失败阈值
// 默认 5 次
func WithDegradeThreshold(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.config.DegradeThreshold = n
		}
	}
}

// WithDegradeResetTimeout 设置降级模式下的恢复探测间隔
// 默认 60 秒
func WithDegradeResetTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.config.DegradeResetTimeout = d
		}
	}
}

// WithConfig 使用完整配置覆盖
func WithConfig(config Config) Option {
	return func(o *options) {
		o.config = config
	}
}

// WithConfigProvider 从配置源加载配置
// 加载或验证失败的错误延迟到 New/NewLocal 时返回
func WithConfigProvider(provider ConfigProvider) Option {
	return func(o *options) {
		if provider == nil {
			return
		}
		cfg, err := provider.Load()
		if err != nil {
			o.initErr = err
			return
		}
		o.config = cfg
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock 设置时钟函数
//
// 引擎和存储侧窗口计算共用此时钟（时间戳由客户端传入脚本），
// 测试用它模拟时间流逝。默认 time.Now。
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetrics 设置是否启用指标收集
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.config.EnableMetrics = enabled
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider
// 用于收集 Counter/Histogram 类型的指标
// 如果不设置，不会收集指标
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider 设置 OpenTelemetry TracerProvider
// 如果不设置，使用全局 TracerProvider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithOnAllow 设置请求放行时的回调
func WithOnAllow(fn func(key Key, result *AdmissionResult)) Option {
	return func(o *options) {
		o.onAllow = fn
	}
}

// WithOnDeny 设置请求被拒绝时的回调
func WithOnDeny(fn func(key Key, result *AdmissionResult)) Option {
	return func(o *options) {
		o.onDeny = fn
	}
}

// WithOnModeChange 设置降级模式变化时的回调
// 可用于日志记录、监控告警等
func WithOnModeChange(fn func(from, to DegradeMode)) Option {
	return func(o *options) {
		o.onModeChange = fn
	}
}
