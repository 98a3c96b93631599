package xadmit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// AdmissionResult 准入检查结果
//
// 每次请求新建，构造后不再变更，由决策发布层消费一次。
type AdmissionResult struct {
	// Allowed 是否放行
	Allowed bool

	// Limit 本次生效的配额上限（已应用高峰乘数）
	Limit int

	// Remaining 窗口内剩余配额
	Remaining int

	// ResetAt 配额重置时间，近似为 now + window
	ResetAt time.Time

	// RetryAfter 建议重试等待时间（仅在 Allowed=false 时有意义）
	RetryAfter time.Duration

	// Degraded 是否为降级模式下的决策
	// 内部可观测性标记，不会暴露给外部调用方
	Degraded bool

	// Key 被检查的限流键
	Key string

	// Tier 解析出的调用方等级
	Tier Tier

	// Class 解析出的操作类别
	Class OperationClass
}

// RetryAfterSeconds 返回向上取整的重试等待秒数
//
// 设计决策: 使用 math.Ceil 向上取整，避免亚秒级等待被截断为 0，
// 导致客户端立即重试并放大瞬时流量。
func (r *AdmissionResult) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// Headers 返回标准限流响应头
//   - X-RateLimit-Limit: 配额上限
//   - X-RateLimit-Remaining: 剩余配额
//   - X-RateLimit-Reset: 配额重置时间（Unix 时间戳）
//   - Retry-After: 重试等待秒数（仅在被拒绝时）
//
// 降级放行不写入任何区分性头部：降级是内部弹性细节，不是对外契约变更。
func (r *AdmissionResult) Headers() map[string]string {
	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}

	if !r.Allowed {
		headers["Retry-After"] = strconv.Itoa(r.RetryAfterSeconds())
	}

	return headers
}

// SetHeaders 将限流响应头写入 http.ResponseWriter
//
// 设计决策: 当 Limit <= 0 时跳过写入配额头。
// Limit=0 表示无有效配额信息（如存储故障后的透传放行），
// 写入 X-RateLimit-Limit: 0 会误导客户端认为配额为零。
func (r *AdmissionResult) SetHeaders(w http.ResponseWriter) {
	if r.Limit <= 0 {
		return
	}
	for key, value := range r.Headers() {
		w.Header().Set(key, value)
	}
}
