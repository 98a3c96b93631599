package xadmit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 指标名称常量
const (
	// metricNameRequestsTotal 准入检查总数计数器
	metricNameRequestsTotal = "xadmit.requests.total"
	// metricNameDeniedTotal 被拒绝请求计数器
	metricNameDeniedTotal = "xadmit.denied.total"
	// metricNameDegradedTotal 降级模式下做出的决策计数器
	metricNameDegradedTotal = "xadmit.degraded.total"
	// metricNameModeChangesTotal 降级模式切换计数器
	metricNameModeChangesTotal = "xadmit.mode.changes.total"
	// metricNameCheckDuration 准入检查耗时直方图
	metricNameCheckDuration = "xadmit.check.duration"
)

// Metrics 准入指标收集器
// 提供 Counter 和 Histogram 类型的指标收集
type Metrics struct {
	meter            metric.Meter
	requestsTotal    metric.Int64Counter
	deniedTotal      metric.Int64Counter
	degradedTotal    metric.Int64Counter
	modeChangesTotal metric.Int64Counter
	checkDuration    metric.Float64Histogram
}

// NewMetrics 创建指标收集器
// 如果 meterProvider 为 nil，返回 nil（不收集指标）
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	meter := meterProvider.Meter("xadmit",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	requestsTotal, err := meter.Int64Counter(
		metricNameRequestsTotal,
		metric.WithDescription("准入检查总数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	deniedTotal, err := meter.Int64Counter(
		metricNameDeniedTotal,
		metric.WithDescription("被拒绝的请求数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	degradedTotal, err := meter.Int64Counter(
		metricNameDegradedTotal,
		metric.WithDescription("降级模式下做出的决策数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	modeChangesTotal, err := meter.Int64Counter(
		metricNameModeChangesTotal,
		metric.WithDescription("降级模式切换次数"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, err
	}

	checkDuration, err := meter.Float64Histogram(
		metricNameCheckDuration,
		metric.WithDescription("准入检查耗时"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0,
		),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:            meter,
		requestsTotal:    requestsTotal,
		deniedTotal:      deniedTotal,
		degradedTotal:    degradedTotal,
		modeChangesTotal: modeChangesTotal,
		checkDuration:    checkDuration,
	}, nil
}

// RecordAdmit 记录一次准入决策
// backendType: 后端类型（"distributed" 或 "local"）
//
// 标签只使用低基数维度（tier/class/allowed），限流键不进入标签。
func (m *Metrics) RecordAdmit(ctx context.Context, backendType string, result *AdmissionResult, duration time.Duration) {
	if m == nil || result == nil {
		return
	}

	// 使用 context.WithoutCancel 确保即使 ctx 被取消，指标仍能记录
	metricsCtx := context.WithoutCancel(ctx)

	attrs := []attribute.KeyValue{
		attribute.String("backend_type", backendType),
		attribute.String("tier", string(result.Tier)),
		attribute.String("class", string(result.Class)),
		attribute.Bool("allowed", result.Allowed),
	}

	m.requestsTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	if !result.Allowed {
		m.deniedTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	}
	if result.Degraded {
		m.degradedTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	}
	m.checkDuration.Record(metricsCtx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordModeChange 记录降级模式切换
func (m *Metrics) RecordModeChange(ctx context.Context, from, to DegradeMode) {
	if m == nil {
		return
	}

	metricsCtx := context.WithoutCancel(ctx)

	m.modeChangesTotal.Add(metricsCtx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}
