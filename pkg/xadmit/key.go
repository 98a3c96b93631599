package xadmit

// Scope 限流键的作用域
type Scope string

const (
	// ScopeUser 已认证调用方，identity 为凭证的单向变换结果
	ScopeUser Scope = "user"

	// ScopeAddress 未认证调用方，identity 为来源地址
	ScopeAddress Scope = "address"
)

// unknownIdentity 无法解析身份时使用的兜底桶
const unknownIdentity = "unknown"

// Key 限流键，标识一个被限流的实体
//
// 不变式：同一逻辑调用方的所有请求必须解析到同一个 Key；
// 不同调用方之间不允许键冲突（哈希空间假定足够大）。
type Key struct {
	// Scope 作用域，user 或 address
	Scope Scope

	// Identity 作用域内的稳定标识
	Identity string
}

// UnknownKey 返回兜底键
//
// 身份材料缺失或无法解析时使用，所有此类请求共享同一配额桶。
func UnknownKey() Key {
	return Key{Scope: ScopeAddress, Identity: unknownIdentity}
}

// String 返回 {scope}:{identity} 形式的键表示
func (k Key) String() string {
	return string(k.Scope) + ":" + k.Identity
}

// IsZero 检查 Key 是否未设置
func (k Key) IsZero() bool {
	return k.Scope == "" && k.Identity == ""
}
