package xadmit

import "net/http"

// TierFunc 从请求解析调用方等级
type TierFunc func(r *http.Request) Tier

// ClassFunc 从请求解析操作类别
type ClassFunc func(r *http.Request) OperationClass

// DenyHandler 拒绝响应处理函数
type DenyHandler func(w http.ResponseWriter, r *http.Request, result *AdmissionResult)

// gateOptions HTTP 门面配置
type gateOptions struct {
	resolver      *HTTPResolver
	tierFunc      TierFunc
	classFunc     ClassFunc
	denyHandler   DenyHandler
	skipFunc      func(r *http.Request) bool
	enableHeaders bool
	initErr       error
}

// GateOption HTTP 门面配置选项
type GateOption func(*gateOptions)

// defaultGateOptions 返回门面默认配置
// 所有请求默认归入 base 等级 + standard 类别
func defaultGateOptions() *gateOptions {
	resolver, err := NewHTTPResolver()

	return &gateOptions{
		resolver:      resolver,
		tierFunc:      func(*http.Request) Tier { return TierBase },
		classFunc:     func(*http.Request) OperationClass { return ClassStandard },
		denyHandler:   defaultDenyHandler,
		enableHeaders: true,
		initErr:       err,
	}
}

// defaultDenyHandler 默认拒绝处理：429 + 限流头 + JSON 负载
func defaultDenyHandler(w http.ResponseWriter, _ *http.Request, result *AdmissionResult) {
	WriteRejection(w, result)
}

// WithResolver 设置身份解析器
func WithResolver(resolver *HTTPResolver) GateOption {
	return func(o *gateOptions) {
		if resolver != nil {
			o.resolver = resolver
		}
	}
}

// WithTierFunc 设置等级解析函数
// 通常从认证中间件写入的请求上下文中读取
func WithTierFunc(fn TierFunc) GateOption {
	return func(o *gateOptions) {
		if fn != nil {
			o.tierFunc = fn
		}
	}
}

// WithClassFunc 设置操作类别解析函数
// 通常按路由归类
func WithClassFunc(fn ClassFunc) GateOption {
	return func(o *gateOptions) {
		if fn != nil {
			o.classFunc = fn
		}
	}
}

// WithDenyHandler 设置自定义拒绝处理函数
func WithDenyHandler(fn DenyHandler) GateOption {
	return func(o *gateOptions) {
		if fn != nil {
			o.denyHandler = fn
		}
	}
}

// WithSkipFunc 设置跳过函数
// 返回 true 的请求不经过准入检查（如健康检查路由）
func WithSkipFunc(fn func(r *http.Request) bool) GateOption {
	return func(o *gateOptions) {
		o.skipFunc = fn
	}
}

// WithResponseHeaders 设置是否写入限流响应头
// 默认写入
func WithResponseHeaders(enabled bool) GateOption {
	return func(o *gateOptions) {
		o.enableHeaders = enabled
	}
}
