package xadmit

import (
	"encoding/json"
	"net/http"
)

// RejectionBody 拒绝响应的 JSON 负载
//
// 决策发布是单向的：HTTP 层只消费准入结果，
// 请求的后续成败不回流到引擎。
type RejectionBody struct {
	// Error 固定的错误码
	Error string `json:"error"`

	// Limit 本次生效的配额上限
	Limit int `json:"limit"`

	// Remaining 剩余配额，被拒绝时恒为 0
	Remaining int `json:"remaining"`

	// ResetAt 配额重置时间（Unix 时间戳）
	ResetAt int64 `json:"resetAt"`

	// RetryAfterSeconds 建议重试等待秒数（向上取整）
	RetryAfterSeconds int `json:"retryAfterSeconds"`
}

// rejectionError 拒绝响应的固定错误码
const rejectionError = "rate_limited"

// NewRejectionBody 由准入结果构造拒绝负载
func NewRejectionBody(result *AdmissionResult) RejectionBody {
	return RejectionBody{
		Error:             rejectionError,
		Limit:             result.Limit,
		Remaining:         result.Remaining,
		ResetAt:           result.ResetAt.Unix(),
		RetryAfterSeconds: result.RetryAfterSeconds(),
	}
}

// WriteRejection 写出 429 拒绝响应：限流头 + JSON 负载
//
// 编码失败时响应头已经写出，只能放弃负载，调用方无从补救，
// 因此不返回错误。
func WriteRejection(w http.ResponseWriter, result *AdmissionResult) {
	result.SetHeaders(w)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(NewRejectionBody(result))
}
