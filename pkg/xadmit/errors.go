package xadmit

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// =============================================================================
// 预定义错误
// =============================================================================

// 预定义错误，使用 errors.Is 进行比较
var (
	// ErrLedgerUnavailable 表示账本存储不可用（网络、超时或事务失败）
	ErrLedgerUnavailable = errors.New("xadmit: ledger store unavailable")

	// ErrPolicyNotFound 表示 (tier, class) 组合没有配置策略
	// 正常情况下不应出现：策略表总是回退到最严格的已知策略
	ErrPolicyNotFound = errors.New("xadmit: policy not found")

	// ErrInvariantViolation 表示账本存储返回了违反不变式的数据（如负计数）
	// 对应请求被保守拒绝，不会被静默放行
	ErrInvariantViolation = errors.New("xadmit: ledger invariant violation")

	// ErrAdmitterClosed 表示准入器已关闭
	ErrAdmitterClosed = errors.New("xadmit: admitter closed")

	// ErrInvalidConfig 表示配置无效
	ErrInvalidConfig = errors.New("xadmit: invalid config")

	// ErrNilClient 表示 Redis 客户端为 nil
	ErrNilClient = errors.New("xadmit: nil redis client")
)

// =============================================================================
// 错误检查函数
// =============================================================================

// ledgerRelatedErrors 包含所有视为账本存储故障的错误
//
// 超时与传输失败同等对待（均喂给降级控制器）。
var ledgerRelatedErrors = []error{
	ErrLedgerUnavailable,
	context.DeadlineExceeded,
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
	io.EOF,
	io.ErrUnexpectedEOF,
}

// IsLedgerError 检查是否是账本存储相关错误
//
// 使用类型断言和错误链检查，而不是字符串匹配。
// 此类错误可计入降级控制器的连续失败计数；
// 业务性错误（如 ErrInvariantViolation）不属于此类。
func IsLedgerError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvariantViolation) {
		return false
	}

	for _, target := range ledgerRelatedErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return isNetworkError(err)
}

// isNetworkError 检查是否是网络相关错误
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
