package xadmit

import (
	"errors"
	"net/http"
)

// Gate HTTP 准入门面
//
// 将身份解析、准入检查和决策发布串成一个请求级动作：
// 解析限流键，执行检查，放行时附带限流头继续处理，
// 拒绝时写出 429 响应。决策发布是单向的，
// 请求的后续成败不回流到引擎。
type Gate struct {
	admitter Admitter
	opts     *gateOptions
}

// NewGate 创建 HTTP 准入门面
func NewGate(admitter Admitter, opts ...GateOption) (*Gate, error) {
	if admitter == nil {
		return nil, ErrNilClient
	}

	cfg := defaultGateOptions()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.initErr != nil {
		return nil, cfg.initErr
	}

	return &Gate{admitter: admitter, opts: cfg}, nil
}

// CheckAndRecord 对请求执行一次准入检查
//
// 返回的结果恒非 nil。严格模式下的单次存储故障不向调用方透传：
// 检查层面的失败不应当把后端服务一并拖垮，按请求放行并打上
// 降级标记，配额执行的缺口由降级控制器在连续失败后收敛。
//
// 准入器已关闭是生命周期错误而不是存储故障，fail-open 的可用性
// 权衡不适用：拒绝才是安全方向，已关闭的门面不放行任何流量。
func (g *Gate) CheckAndRecord(r *http.Request) *AdmissionResult {
	key := g.opts.resolver.Resolve(r)
	tier := g.opts.tierFunc(r)
	class := g.opts.classFunc(r)

	result, err := g.admitter.Admit(r.Context(), key, tier, class)
	if err != nil {
		if errors.Is(err, ErrAdmitterClosed) {
			return &AdmissionResult{
				Allowed: false,
				Key:     key.String(),
				Tier:    tier,
				Class:   class,
			}
		}
		return &AdmissionResult{
			Allowed:  true,
			Degraded: true,
			Key:      key.String(),
			Tier:     tier,
			Class:    class,
		}
	}

	return result
}

// Middleware 返回标准 net/http 中间件
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.opts.skipFunc != nil && g.opts.skipFunc(r) {
			next.ServeHTTP(w, r)
			return
		}

		result := g.CheckAndRecord(r)

		if !result.Allowed {
			g.opts.denyHandler(w, r, result)
			return
		}

		if g.opts.enableHeaders {
			result.SetHeaders(w)
		}
		next.ServeHTTP(w, r)
	})
}

// Handler 包装单个 http.HandlerFunc
func (g *Gate) Handler(next http.HandlerFunc) http.HandlerFunc {
	return g.Middleware(next).ServeHTTP
}
