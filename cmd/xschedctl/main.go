// xschedctl 是 xsched 调度引擎的命令行工具。
//
// 用法:
//
//	xschedctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config    配置文件路径 (YAML/JSON)
//	--log-file      日志输出文件（自动轮转），缺省输出到 stderr
//	--log-level     日志级别 (debug/info/warn/error, 默认: info)
//
// 命令:
//
//	validate       校验配置文件并打印解析结果
//	run            按配置启动引擎并注入合成负载，用于容量评估和参数调优
//	help           显示帮助信息
//
// run 命令说明:
//
//	按配置创建引擎与分组，以固定速率提交合成工作项，周期性打印
//	引擎与分组统计。--watch 开启配置热应用：文件变更时把 worker
//	上下限与分组并发上限应用到运行中的引擎。收到 SIGINT/SIGTERM
//	后优雅关停并打印最终统计。
//
// 退出码:
//
//	0: 成功
//	1: 运行失败（引擎构建失败、关停超时等）
//	2: 参数错误（配置非法、缺少必需参数、未知命令等）
//
// 示例:
//
//	xschedctl -c sched.yaml validate
//	xschedctl -c sched.yaml run --rate 200 --task-duration 20ms
//	xschedctl -c sched.yaml run --watch --report-interval 5s
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xschedctl",
		Usage:   "xsched 调度引擎命令行工具",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径 (YAML/JSON)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "日志输出文件（自动轮转），缺省输出到 stderr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (debug/info/warn/error)",
				Value: "info",
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
		Authors: []any{
			"xsched Team",
		},
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，
		// 由 run() 统一处理退出码映射，确保与文档退出码契约一致。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run() int {
	app := createApp()

	if err := app.Run(context.Background(), os.Args); err != nil {
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
