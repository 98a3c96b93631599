package xadmit

import (
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func smallPolicy(max int) QuotaPolicy {
	return NewPolicy(TierBase, ClassStandard, max, time.Minute)
}

func TestNew_Validation(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		if _, err := New(nil); err == nil {
			t.Fatal("expected error for nil client")
		}
	})

	t.Run("valid defaults", func(t *testing.T) {
		admitter, err := New(newTestRedis(t))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer func() { _ = admitter.Close(testContext()) }()

		if _, ok := admitter.(ModeReporter); !ok {
			t.Fatal("distributed admitter should report degrade mode")
		}
	})

	t.Run("invalid policy", func(t *testing.T) {
		_, err := New(newTestRedis(t),
			WithPolicies(NewPolicy(TierBase, ClassStandard, 0, time.Minute)),
		)
		if err == nil {
			t.Fatal("expected error for zero max admissions")
		}
	})

	t.Run("duplicate policy cell", func(t *testing.T) {
		_, err := New(newTestRedis(t),
			WithPolicies(smallPolicy(3), smallPolicy(5)),
		)
		if err == nil {
			t.Fatal("expected error for duplicate (tier, class)")
		}
	})
}

func TestAdmit_SlidingWindow(t *testing.T) {
	admitter, clock := newTestAdmitter(t, WithPolicies(smallPolicy(3)))
	key := Key{Scope: ScopeUser, Identity: "alice"}

	// 窗口内前 3 次放行
	for i := 0; i < 3; i++ {
		result, err := admitter.Admit(testContext(), key, TierBase, ClassStandard)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("admit %d: expected allowed", i)
		}
		if want := 3 - i - 1; result.Remaining != want {
			t.Fatalf("admit %d: remaining = %d, want %d", i, result.Remaining, want)
		}
	}

	// 第 4 次拒绝，携带完整的决策上下文
	result, err := admitter.Admit(testContext(), key, TierBase, ClassStandard)
	if err != nil {
		t.Fatalf("admit 4: %v", err)
	}
	if result.Allowed {
		t.Fatal("admit 4: expected denied")
	}
	if result.Remaining != 0 {
		t.Fatalf("denied remaining = %d, want 0", result.Remaining)
	}
	if result.RetryAfterSeconds() != 60 {
		t.Fatalf("retry after = %d, want 60", result.RetryAfterSeconds())
	}
	if want := clock.Now().Add(time.Minute); !result.ResetAt.Equal(want) {
		t.Fatalf("reset at = %v, want %v", result.ResetAt, want)
	}

	// 拒绝不写入条目：窗口过后配额完整恢复
	clock.Advance(61 * time.Second)
	result, err = admitter.Admit(testContext(), key, TierBase, ClassStandard)
	if err != nil {
		t.Fatalf("admit after window: %v", err)
	}
	if !result.Allowed {
		t.Fatal("expected allowed after window elapsed")
	}
	if result.Remaining != 2 {
		t.Fatalf("remaining after window = %d, want 2", result.Remaining)
	}
}

func TestAdmit_BoundaryExactlyAtLimit(t *testing.T) {
	admitter, _ := newTestAdmitter(t, WithPolicies(smallPolicy(1)))
	key := Key{Scope: ScopeAddress, Identity: "192.0.2.7"}

	first, err := admitter.Admit(testContext(), key, TierBase, ClassStandard)
	if err != nil || !first.Allowed {
		t.Fatalf("first admit: allowed=%v err=%v", first != nil && first.Allowed, err)
	}

	// count == max 时必须拒绝
	second, err := admitter.Admit(testContext(), key, TierBase, ClassStandard)
	if err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if second.Allowed {
		t.Fatal("request at the boundary must be denied")
	}
}

func TestAdmit_KeyIsolation(t *testing.T) {
	admitter, _ := newTestAdmitter(t, WithPolicies(smallPolicy(1)))

	alice := Key{Scope: ScopeUser, Identity: "alice"}
	bob := Key{Scope: ScopeUser, Identity: "bob"}

	if r, err := admitter.Admit(testContext(), alice, TierBase, ClassStandard); err != nil || !r.Allowed {
		t.Fatalf("alice first admit: %v", err)
	}
	if r, err := admitter.Admit(testContext(), alice, TierBase, ClassStandard); err != nil || r.Allowed {
		t.Fatal("alice should be exhausted")
	}

	// alice 耗尽不影响 bob
	if r, err := admitter.Admit(testContext(), bob, TierBase, ClassStandard); err != nil || !r.Allowed {
		t.Fatalf("bob should have independent quota: %v", err)
	}
}

func TestAdmit_TierClassIsolation(t *testing.T) {
	admitter, _ := newTestAdmitter(t, WithPolicies(
		NewPolicy(TierBase, ClassStandard, 1, time.Minute),
		NewPolicy(TierBase, ClassExpensive, 1, time.Minute),
	))
	key := Key{Scope: ScopeUser, Identity: "alice"}

	if r, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); !r.Allowed {
		t.Fatal("standard admit should pass")
	}
	if r, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); r.Allowed {
		t.Fatal("standard quota should be exhausted")
	}

	// 同一键在不同 class 维度持有独立窗口
	if r, _ := admitter.Admit(testContext(), key, TierBase, ClassExpensive); !r.Allowed {
		t.Fatal("expensive quota should be independent")
	}
}

func TestAdmit_SurgeMultiplierFloor(t *testing.T) {
	rule, err := RuleFunc("load-test", 1.5, func(time.Time) bool { return true })
	if err != nil {
		t.Fatalf("rule: %v", err)
	}

	admitter, _ := newTestAdmitter(t,
		WithPolicies(smallPolicy(10)),
		WithSurgeRules(rule),
	)
	key := Key{Scope: ScopeUser, Identity: "alice"}

	// floor(10 * 1.5) = 15
	for i := 0; i < 15; i++ {
		result, err := admitter.Admit(testContext(), key, TierBase, ClassStandard)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("admit %d: expected allowed under surge", i)
		}
		if result.Limit != 15 {
			t.Fatalf("limit = %d, want 15", result.Limit)
		}
	}

	if result, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); result.Allowed {
		t.Fatal("16th request should be denied")
	}
}

func TestAdmit_FailSafeFallbackPolicy(t *testing.T) {
	// 只配置一个单元格：未知组合回退到最严格策略而不是无限制
	admitter, _ := newTestAdmitter(t, WithPolicies(smallPolicy(2)))
	key := Key{Scope: ScopeUser, Identity: "alice"}

	for i := 0; i < 2; i++ {
		if r, _ := admitter.Admit(testContext(), key, TierUnrestricted, ClassAIAssisted); !r.Allowed {
			t.Fatalf("fallback admit %d should pass", i)
		}
	}
	if r, _ := admitter.Admit(testContext(), key, TierUnrestricted, ClassAIAssisted); r.Allowed {
		t.Fatal("fallback policy must still enforce a limit")
	}
}

func TestAdmit_ConcurrentNeverOveradmits(t *testing.T) {
	const max = 10
	const attempts = 40

	admitter, _ := newTestAdmitter(t,
		WithPolicies(smallPolicy(max)),
		WithCheckTimeout(2*time.Second),
	)
	key := Key{Scope: ScopeUser, Identity: "hot"}

	var allowed atomic.Int64
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			result, err := admitter.Admit(testContext(), key, TierBase, ClassStandard)
			if err != nil {
				return err
			}
			if result.Allowed {
				allowed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent admits: %v", err)
	}

	if got := allowed.Load(); got != max {
		t.Fatalf("allowed = %d, want exactly %d", got, max)
	}
}

func TestQuery_DoesNotConsumeQuota(t *testing.T) {
	admitter, _ := newTestAdmitter(t, WithPolicies(smallPolicy(3)))
	key := Key{Scope: ScopeUser, Identity: "alice"}

	q, ok := admitter.(Querier)
	if !ok {
		t.Fatal("admitter should support Query")
	}

	if _, err := admitter.Admit(testContext(), key, TierBase, ClassStandard); err != nil {
		t.Fatalf("admit: %v", err)
	}

	for i := 0; i < 5; i++ {
		info, err := q.Query(testContext(), key, TierBase, ClassStandard)
		if err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
		if info.Remaining != 2 {
			t.Fatalf("query %d: remaining = %d, want 2", i, info.Remaining)
		}
		if info.Limit != 3 {
			t.Fatalf("query %d: limit = %d, want 3", i, info.Limit)
		}
	}
}

func TestReset_ClearsWindow(t *testing.T) {
	admitter, _ := newTestAdmitter(t, WithPolicies(smallPolicy(1)))
	key := Key{Scope: ScopeUser, Identity: "alice"}

	if r, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); !r.Allowed {
		t.Fatal("first admit should pass")
	}
	if r, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); r.Allowed {
		t.Fatal("quota should be exhausted")
	}

	resetter, ok := admitter.(Resetter)
	if !ok {
		t.Fatal("admitter should support Reset")
	}
	if err := resetter.Reset(testContext(), key, TierBase, ClassStandard); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if r, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); !r.Allowed {
		t.Fatal("admit after reset should pass")
	}
}

func TestAdmit_AfterClose(t *testing.T) {
	admitter, _ := newTestAdmitter(t)

	if err := admitter.Close(testContext()); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := admitter.Admit(testContext(), UnknownKey(), TierBase, ClassStandard)
	if err == nil {
		t.Fatal("expected error after close")
	}
}

func TestNewLocal_SameSemantics(t *testing.T) {
	clock := newFakeClock()
	admitter, err := NewLocal(
		WithClock(clock.Now),
		WithPolicies(smallPolicy(2)),
	)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	defer func() { _ = admitter.Close(testContext()) }()

	key := Key{Scope: ScopeAddress, Identity: "198.51.100.3"}

	for i := 0; i < 2; i++ {
		if r, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); !r.Allowed {
			t.Fatalf("admit %d should pass", i)
		}
	}
	if r, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); r.Allowed {
		t.Fatal("third admit should be denied")
	}

	clock.Advance(61 * time.Second)
	if r, _ := admitter.Admit(testContext(), key, TierBase, ClassStandard); !r.Allowed {
		t.Fatal("admit after window should pass")
	}
}
