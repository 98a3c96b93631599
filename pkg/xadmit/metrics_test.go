//nolint:errcheck // 测试代码中 defer 调用忽略 Shutdown 错误
package xadmit

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newManualMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()

	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

func collectNames(t *testing.T, reader *metric.ManualReader) map[string]bool {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestNewMetrics(t *testing.T) {
	t.Run("nil meter provider returns nil", func(t *testing.T) {
		m, err := NewMetrics(nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if m != nil {
			t.Error("expected nil metrics")
		}
	})

	t.Run("nil metrics is safe to record", func(t *testing.T) {
		var m *Metrics
		m.RecordAdmit(context.Background(), "local", &AdmissionResult{Allowed: true}, time.Millisecond)
		m.RecordModeChange(context.Background(), ModeStrict, ModeDegraded)
	})
}

func TestMetrics_RecordAdmit(t *testing.T) {
	m, reader := newManualMetrics(t)
	ctx := context.Background()

	t.Run("allowed decision", func(t *testing.T) {
		m.RecordAdmit(ctx, "distributed", &AdmissionResult{
			Allowed: true,
			Tier:    TierBase,
			Class:   ClassStandard,
		}, 100*time.Microsecond)

		names := collectNames(t, reader)
		if !names[metricNameRequestsTotal] {
			t.Error("expected requests total metric to be recorded")
		}
		if !names[metricNameCheckDuration] {
			t.Error("expected check duration metric to be recorded")
		}
		if names[metricNameDeniedTotal] {
			t.Error("allowed decision must not record denied metric")
		}
	})

	t.Run("denied degraded decision", func(t *testing.T) {
		m.RecordAdmit(ctx, "degraded", &AdmissionResult{
			Allowed:  false,
			Degraded: true,
			Tier:     TierBase,
			Class:    ClassStandard,
		}, 0)

		names := collectNames(t, reader)
		if !names[metricNameDeniedTotal] {
			t.Error("expected denied metric to be recorded")
		}
		if !names[metricNameDegradedTotal] {
			t.Error("expected degraded metric to be recorded")
		}
	})

	t.Run("records despite canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		m.RecordAdmit(canceled, "distributed", &AdmissionResult{
			Allowed: true,
			Tier:    TierBase,
			Class:   ClassStandard,
		}, time.Millisecond)

		if names := collectNames(t, reader); !names[metricNameRequestsTotal] {
			t.Error("metrics should be recorded even after context cancellation")
		}
	})
}

func TestMetrics_RecordModeChange(t *testing.T) {
	m, reader := newManualMetrics(t)

	m.RecordModeChange(context.Background(), ModeStrict, ModeDegraded)

	if names := collectNames(t, reader); !names[metricNameModeChangesTotal] {
		t.Error("expected mode changes metric to be recorded")
	}
}
