// xadmitctl 是准入控制子系统的运维命令行工具。
//
// 用法:
//
//	xadmitctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-r, --redis    Redis 地址 (默认: 127.0.0.1:6379)
//	-c, --config   配置文件路径 (yaml/json，可选)
//	-t, --timeout  命令超时时间 (默认: 5s)
//
// 命令:
//
//	check <scope:identity>   执行一次准入检查（消耗一个配额单位）
//	query <scope:identity>   查询当前配额状态（不消耗配额）
//	reset <scope:identity>   清空指定键的窗口计数
//
// 退出码:
//
//	0: 命令执行成功（check 命令: 请求放行）
//	1: 命令执行失败（check 命令: 请求被拒绝）
//	2: 参数错误
//
// 示例:
//
//	xadmitctl check user:a1b2c3 --tier elevated --class expensive
//	xadmitctl -c /etc/xadmit.yaml query address:203.0.113.9
//	xadmitctl reset user:a1b2c3
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

// defaultTimeout 默认命令超时时间
const defaultTimeout = 5 * time.Second

// 版本信息（可通过 -ldflags 注入）
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xadmitctl",
		Usage:   "准入控制子系统命令行工具",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis",
				Aliases: []string{"r"},
				Usage:   "Redis 地址",
				Value:   "127.0.0.1:6379",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径 (yaml/json)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "命令超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
	}
}

func run() int {
	app := createApp()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}

	return 0
}
