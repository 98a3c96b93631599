package xadmit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testContext() context.Context {
	return context.Background()
}

// fakeClock 可手动推进的测试时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestRedis 启动 miniredis 并返回客户端，生命周期挂在测试上
func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return rdb
}

// newTestAdmitter 创建接入 miniredis 的分布式准入器
func newTestAdmitter(t *testing.T, opts ...Option) (Admitter, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	admitter, err := New(newTestRedis(t), opts...)
	if err != nil {
		t.Fatalf("failed to create admitter: %v", err)
	}
	t.Cleanup(func() { _ = admitter.Close(testContext()) })

	return admitter, clock
}
