package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xadmit/pkg/xadmit"
)

// exitError 表示需要非零退出码但已完成输出的场景
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "" }

// usageError 表示参数错误，对应退出码 2
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// createCommands 创建所有子命令
func createCommands() []*cli.Command {
	dimensionFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "tier",
			Usage: "调用方等级 (base/elevated/unrestricted)",
			Value: string(xadmit.TierBase),
		},
		&cli.StringFlag{
			Name:  "class",
			Usage: "操作类别 (standard/expensive/ai-assisted)",
			Value: string(xadmit.ClassStandard),
		},
	}

	return []*cli.Command{
		{
			Name:      "check",
			Usage:     "执行一次准入检查（消耗一个配额单位）",
			ArgsUsage: "<scope:identity>",
			Flags:     dimensionFlags,
			Action:    cmdCheck,
		},
		{
			Name:      "query",
			Usage:     "查询当前配额状态（不消耗配额）",
			ArgsUsage: "<scope:identity>",
			Flags:     dimensionFlags,
			Action:    cmdQuery,
		},
		{
			Name:      "reset",
			Usage:     "清空指定键的窗口计数",
			ArgsUsage: "<scope:identity>",
			Flags:     dimensionFlags,
			Action:    cmdReset,
		},
	}
}

// parseKey 解析 scope:identity 形式的键参数
func parseKey(arg string) (xadmit.Key, error) {
	scope, identity, ok := strings.Cut(arg, ":")
	if !ok || identity == "" {
		return xadmit.Key{}, &usageError{msg: fmt.Sprintf("键格式应为 scope:identity，得到 %q", arg)}
	}

	switch xadmit.Scope(scope) {
	case xadmit.ScopeUser, xadmit.ScopeAddress:
		return xadmit.Key{Scope: xadmit.Scope(scope), Identity: identity}, nil
	default:
		return xadmit.Key{}, &usageError{msg: fmt.Sprintf("未知作用域 %q (应为 user 或 address)", scope)}
	}
}

// parseDimensions 解析 tier/class 参数
func parseDimensions(cmd *cli.Command) (xadmit.Tier, xadmit.OperationClass, error) {
	tier := xadmit.Tier(cmd.String("tier"))
	if !tier.IsValid() {
		return "", "", &usageError{msg: fmt.Sprintf("未知等级 %q", tier)}
	}
	class := xadmit.OperationClass(cmd.String("class"))
	if !class.IsValid() {
		return "", "", &usageError{msg: fmt.Sprintf("未知类别 %q", class)}
	}
	return tier, class, nil
}

// connect 连接 Redis 并构建准入器
//
// Ping 带重试：运维工具常在存储抖动时使用，瞬时失败不应立即放弃。
func connect(ctx context.Context, cmd *cli.Command) (xadmit.Admitter, func(), error) {
	rdb := redis.NewClient(&redis.Options{Addr: cmd.String("redis")})

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	).Do(func() error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("连接 Redis %s 失败: %w", cmd.String("redis"), err)
	}

	var opts []xadmit.Option
	if path := cmd.String("config"); path != "" {
		provider, err := xadmit.NewFileProvider(path)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		opts = append(opts, xadmit.WithConfigProvider(provider))
	}

	admitter, err := xadmit.New(rdb, opts...)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = admitter.Close(context.Background())
		_ = rdb.Close()
	}
	return admitter, cleanup, nil
}

// cmdCheck 执行一次准入检查
func cmdCheck(ctx context.Context, cmd *cli.Command) error {
	key, err := parseKey(cmd.Args().First())
	if err != nil {
		return err
	}
	tier, class, err := parseDimensions(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	admitter, cleanup, err := connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := admitter.Admit(ctx, key, tier, class)
	if err != nil {
		return err
	}

	if result.Allowed {
		fmt.Printf("放行  key=%s limit=%d remaining=%d reset=%s\n",
			result.Key, result.Limit, result.Remaining, result.ResetAt.Format(time.RFC3339))
		return nil
	}

	fmt.Printf("拒绝  key=%s limit=%d retry_after=%ds reset=%s\n",
		result.Key, result.Limit, result.RetryAfterSeconds(), result.ResetAt.Format(time.RFC3339))
	return &exitError{code: 1}
}

// cmdQuery 查询配额状态
func cmdQuery(ctx context.Context, cmd *cli.Command) error {
	key, err := parseKey(cmd.Args().First())
	if err != nil {
		return err
	}
	tier, class, err := parseDimensions(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	admitter, cleanup, err := connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	querier, ok := admitter.(xadmit.Querier)
	if !ok {
		return fmt.Errorf("准入器不支持查询")
	}

	info, err := querier.Query(ctx, key, tier, class)
	if err != nil {
		return err
	}

	fmt.Printf("key=%s tier=%s class=%s limit=%d remaining=%d reset=%s\n",
		info.Key, info.Tier, info.Class, info.Limit, info.Remaining, info.ResetAt.Format(time.RFC3339))
	return nil
}

// cmdReset 清空窗口计数
func cmdReset(ctx context.Context, cmd *cli.Command) error {
	key, err := parseKey(cmd.Args().First())
	if err != nil {
		return err
	}
	tier, class, err := parseDimensions(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	admitter, cleanup, err := connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	resetter, ok := admitter.(xadmit.Resetter)
	if !ok {
		return fmt.Errorf("准入器不支持重置")
	}

	if err := resetter.Reset(ctx, key, tier, class); err != nil {
		return err
	}

	fmt.Printf("已清空 key=%s tier=%s class=%s\n", key.String(), tier, class)
	return nil
}
