// Package xadmit 提供分布式、分层、滑动时间窗口的准入控制能力。
//
// # 设计理念
//
// xadmit 回答一个问题：在拖尾时间窗口内，某个调用方是否已超出配额。
// 答案必须在多个无状态服务实例并发访问下保持无竞态的准确性，
// 因此核心计数状态存放在共享的账本存储（Redis）中，
// 检查-计数-写入序列由服务端 Lua 脚本原子执行。
// 当账本存储不可用时，降级控制器在明确定义的模式下继续放行流量。
//
// # 核心概念
//
//   - Admitter：准入器接口，支持 Admit/Close 操作
//   - Key：限流键，{scope}:{identity} 形式标识被计费/被限流实体
//   - QuotaPolicy：配额策略，(tier, class) 二维表中的一个单元格
//   - Schedule / SurgeRule：高峰时段调度，对基础配额施加乘数
//   - AdmissionResult：准入结果，包含是否放行、剩余配额、重试时间等
//
// # 滑动窗口算法
//
// 每个键对应一个 Redis ZSET，成员为 (时间戳, nonce) 条目：
//
//  1. 删除窗口起点之前的过期条目
//  2. 统计存活条目数（即本次请求之前的计数）
//  3. count >= effectiveMax 时拒绝，不写入新条目
//  4. 否则写入新条目并刷新键的过期时间
//
// 以上四步在一个 Lua 脚本中执行，对并发调用方表现为单次原子
// compare-and-increment，跨进程正确。进程内互斥锁不是有效替代。
//
// # 降级模式
//
// 降级控制器基于熔断器状态机（sony/gobreaker）：
//
//   - STRICT（初始）：每次 Admit 都访问账本存储，连续失败计数
//   - DEGRADED：连续失败达到阈值（默认 5 次）后进入，
//     不再访问存储，按策略的 FailureMode 直接放行（fail-open 默认）
//     或拒绝（fail-closed）；超时（默认 60 秒）后用一次真实调用探测恢复
//
// 降级状态是进程本地的，刻意不跨实例同步，避免引入第二个协调依赖。
//
// # 快速开始
//
//	admitter, err := xadmit.New(redisClient,
//	    xadmit.WithPolicies(xadmit.DefaultPolicies()...),
//	    xadmit.WithSurgeRules(rule),
//	    xadmit.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer admitter.Close(ctx)
//
//	key := xadmit.Key{Scope: xadmit.ScopeUser, Identity: "u-1001"}
//	result, err := admitter.Admit(ctx, key, xadmit.TierBase, xadmit.ClassStandard)
//	if err == nil && !result.Allowed {
//	    log.Printf("准入被拒，%d 秒后重试", result.RetryAfterSeconds())
//	}
//
// # HTTP 接入
//
//	gate, err := xadmit.NewGate(admitter,
//	    xadmit.WithResolver(resolver),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mux.Handle("/api/", gate.Middleware(apiHandler))
//
// # 可观测性
//
// 集成 log/slog 进行结构化日志记录，集成 OpenTelemetry 进行
// 指标收集（WithMeterProvider）和追踪（WithTracerProvider）。
// 降级放行对外部调用方不可区分，仅通过 Degraded 字段和指标暴露。
package xadmit
