package xadmit

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go4.org/netipx"
)

// =============================================================================
// HTTP 身份解析器
// =============================================================================

// HTTPResolver 从 HTTP 请求中解析限流键
//
// 解析规则：
//   - 存在 Bearer 凭证时，对凭证做稳定单向变换后归入 user 作用域
//     （原始凭证绝不进入共享存储的键空间，避免泄露密钥）
//   - 否则取转发链中第一个不属于可信代理集合的地址，归入 address 作用域
//   - 均不可用时回退到 unknown 兜底桶
//
// 解析绝不使请求失败：任何解析错误都回退到兜底桶而不是上抛。
// 纯函数，无副作用。
type HTTPResolver struct {
	authHeader      string
	forwardedHeader string
	trustedProxies  *netipx.IPSet
	transform       func(credential string) string
}

// ResolverOption 解析器配置选项
type ResolverOption func(*resolverConfig)

// resolverConfig 解析器构造期配置
type resolverConfig struct {
	authHeader      string
	forwardedHeader string
	trustedCIDRs    []string
	transform       func(credential string) string
}

// WithAuthHeader 设置承载凭证的 header 名称
// 默认为 "Authorization"
func WithAuthHeader(header string) ResolverOption {
	return func(c *resolverConfig) {
		c.authHeader = header
	}
}

// WithForwardedHeader 设置转发地址链的 header 名称
// 默认为 "X-Forwarded-For"
func WithForwardedHeader(header string) ResolverOption {
	return func(c *resolverConfig) {
		c.forwardedHeader = header
	}
}

// WithTrustedProxies 设置可信代理网段（CIDR）
//
// 转发链中落在可信网段内的地址被视为基础设施地址而跳过，
// 取第一个不可信地址作为调用方标识。
func WithTrustedProxies(cidrs ...string) ResolverOption {
	return func(c *resolverConfig) {
		c.trustedCIDRs = append(c.trustedCIDRs, cidrs...)
	}
}

// WithCredentialTransform 设置凭证的单向变换函数
//
// 默认使用 xxhash64 的十六进制摘要。替换实现必须保持稳定性
// （同一凭证恒得同一结果）且不可逆。
func WithCredentialTransform(fn func(credential string) string) ResolverOption {
	return func(c *resolverConfig) {
		if fn != nil {
			c.transform = fn
		}
	}
}

// NewHTTPResolver 创建 HTTP 身份解析器
//
// 可信代理网段非法时返回错误：这是构造期配置问题，
// 与请求期的解析失败（回退兜底桶）不同，应当尽早暴露。
func NewHTTPResolver(opts ...ResolverOption) (*HTTPResolver, error) {
	cfg := &resolverConfig{
		authHeader:      "Authorization",
		forwardedHeader: "X-Forwarded-For",
		transform:       hashCredential,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	trusted, err := buildIPSet(cfg.trustedCIDRs)
	if err != nil {
		return nil, err
	}

	return &HTTPResolver{
		authHeader:      cfg.authHeader,
		forwardedHeader: cfg.forwardedHeader,
		trustedProxies:  trusted,
		transform:       cfg.transform,
	}, nil
}

// buildIPSet 由 CIDR 列表构建 IP 集合
func buildIPSet(cidrs []string) (*netipx.IPSet, error) {
	if len(cidrs) == 0 {
		return nil, nil
	}

	var builder netipx.IPSetBuilder
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("%w: trusted proxy CIDR %q: %v", ErrInvalidConfig, cidr, err)
		}
		builder.AddPrefix(prefix)
	}

	set, err := builder.IPSet()
	if err != nil {
		return nil, fmt.Errorf("%w: trusted proxy set: %v", ErrInvalidConfig, err)
	}
	return set, nil
}

// Resolve 从请求中解析限流键
func (r *HTTPResolver) Resolve(req *http.Request) Key {
	if req == nil {
		return UnknownKey()
	}

	if credential := bearerCredential(req.Header.Get(r.authHeader)); credential != "" {
		return Key{Scope: ScopeUser, Identity: r.transform(credential)}
	}

	if addr := r.clientAddress(req); addr != "" {
		return Key{Scope: ScopeAddress, Identity: addr}
	}

	return UnknownKey()
}

// bearerCredential 提取 Bearer 凭证，大小写不敏感
func bearerCredential(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) {
		return ""
	}
	if !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// clientAddress 从转发链或连接地址中取调用方地址
func (r *HTTPResolver) clientAddress(req *http.Request) string {
	// 转发链从左到右为 调用方 → 代理 → ... → 本机前一跳
	if forwarded := req.Header.Get(r.forwardedHeader); forwarded != "" {
		for _, part := range strings.Split(forwarded, ",") {
			addr, err := netip.ParseAddr(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			if r.trustedProxies != nil && r.trustedProxies.Contains(addr) {
				continue
			}
			return addr.String()
		}
	}

	// 无转发链时使用直连地址
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}

	return ""
}

// hashCredential 凭证的默认单向变换：xxhash64 十六进制摘要
func hashCredential(credential string) string {
	return strconv.FormatUint(xxhash.Sum64String(credential), 16)
}
