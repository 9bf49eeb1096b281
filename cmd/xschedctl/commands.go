package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omeyang/xsched/pkg/config/xschedconf"
	"github.com/omeyang/xsched/pkg/sched/xsched"
)

// usageError 表示参数错误，run() 映射为退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// shutdownGrace 优雅关停的等待上限。
const shutdownGrace = 30 * time.Second

// createCommands 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createValidateCommand(),
		createRunCommand(),
	}
}

// loadConfig 加载全局 --config 指定的配置。
func loadConfig(cmd *cli.Command) (*xschedconf.Loader, error) {
	path := cmd.String("config")
	if path == "" {
		return nil, &usageError{msg: "缺少 --config 参数"}
	}
	ld, err := xschedconf.New(path)
	if err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	return ld, nil
}

// newLogger 按全局选项构建日志记录器。
// 指定 --log-file 时输出 JSON 到轮转文件，否则输出文本到 stderr。
func newLogger(cmd *cli.Command) *slog.Logger {
	var level slog.Level
	switch cmd.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if file := cmd.String("log-file"); file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     7, // 天
			Compress:   true,
		}
		return slog.New(slog.NewJSONHandler(rotator, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// createValidateCommand 创建 validate 子命令。
func createValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "校验配置文件并打印解析结果",
		Action: func(_ context.Context, cmd *cli.Command) error {
			ld, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg := ld.Config()

			fmt.Printf("配置有效: %s (%s)\n", ld.Path(), ld.Format())
			fmt.Printf("引擎: name=%s workers=[%d,%d] idle_timeout=%s\n",
				cfg.Pool.Name, cfg.Pool.MinWorkers, cfg.Pool.MaxWorkers, cfg.Pool.IdleTimeout)
			for _, g := range cfg.Groups {
				fmt.Printf("分组: name=%s concurrency=%d suspended=%v history=%d\n",
					g.Name, g.Concurrency, g.StartSuspended, g.HistorySize)
			}
			return nil
		},
	}
}

// createRunCommand 创建 run 子命令（合成负载）。
func createRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "按配置启动引擎并注入合成负载",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "rate",
				Usage: "每秒提交的工作项数",
				Value: 100,
			},
			&cli.DurationFlag{
				Name:  "task-duration",
				Usage: "每个合成工作项的模拟执行时长",
				Value: 10 * time.Millisecond,
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "运行时长，0 表示直到收到信号",
				Value: 0,
			},
			&cli.DurationFlag{
				Name:  "report-interval",
				Usage: "统计打印间隔",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "监视配置文件并热应用运行期可调参数",
			},
		},
		Action: cmdRun,
	}
}

func cmdRun(ctx context.Context, cmd *cli.Command) error {
	ld, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	pool, groups, err := ld.Config().Build(xsched.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("构建引擎失败: %w", err)
	}
	logger.Info("engine started",
		slog.String("pool", pool.Name()), slog.Int("groups", len(groups)))

	if cmd.Bool("watch") {
		w, werr := xschedconf.Watch(ld, func(cfg xschedconf.Config, rerr error) {
			if rerr != nil {
				logger.Warn("config reload failed", slog.Any("error", rerr))
				return
			}
			if aerr := xschedconf.Apply(pool, cfg); aerr != nil {
				logger.Warn("config apply failed", slog.Any("error", aerr))
				return
			}
			logger.Info("config applied",
				slog.Int("min_workers", cfg.Pool.MinWorkers),
				slog.Int("max_workers", cfg.Pool.MaxWorkers))
		})
		if werr != nil {
			return fmt.Errorf("创建配置监视器失败: %w", werr)
		}
		w.StartAsync()
		defer func() { _ = w.Stop() }()
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d := cmd.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d)
		defer cancel()
	}

	driveLoad(runCtx, logger, pool, groups,
		cmd.Int("rate"), cmd.Duration("task-duration"), cmd.Duration("report-interval"))

	// 优雅关停并打印最终统计
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关停超时: %w", err)
	}
	printStats(pool, groups)
	return nil
}

// driveLoad 以固定速率把合成工作项轮流提交到各分组
// （没有分组时直接提交到引擎），直到 ctx 结束。
func driveLoad(ctx context.Context, logger *slog.Logger, pool *xsched.Pool,
	groups []*xsched.Group, rate int, taskDur, reportEvery time.Duration) {

	if rate <= 0 {
		rate = 1
	}
	submitTick := time.NewTicker(time.Second / time.Duration(rate))
	defer submitTick.Stop()
	reportTick := time.NewTicker(reportEvery)
	defer reportTick.Stop()

	task := func(tctx context.Context, _ any) (any, error) {
		select {
		case <-time.After(taskDur):
			return nil, nil
		case <-tctx.Done():
			return nil, tctx.Err()
		}
	}

	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-reportTick.C:
			printStats(pool, groups)
		case <-submitTick.C:
			var err error
			if len(groups) == 0 {
				_, err = pool.Submit(task)
			} else {
				_, err = groups[next%len(groups)].Submit(task)
				next++
			}
			if err != nil {
				logger.Warn("submit failed", slog.Any("error", err))
				return
			}
		}
	}
}

// printStats 打印引擎与分组统计。
func printStats(pool *xsched.Pool, groups []*xsched.Group) {
	st := pool.Stats()
	fmt.Printf("[%s] workers=%d/%d idle=%d queued=%d submitted=%d finished=%d\n",
		st.Name, st.Workers, st.MaxWorkers, st.IdleWorkers, st.Queued, st.Submitted, st.Finished)
	for _, g := range groups {
		gs := g.Stats()
		fmt.Printf("  group=%s concurrency=%d in_use=%d waiting=%d done=%d canceled=%d failed=%d\n",
			gs.Name, gs.Concurrency, gs.InUse, gs.Waiting, gs.Completed, gs.Canceled, gs.Failed)
	}
}
