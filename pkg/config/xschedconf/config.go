package xschedconf

import (
	"fmt"
	"time"

	"github.com/omeyang/xsched/pkg/sched/xsched"
)

// Format 定义配置文件格式。
type Format string

// 支持的配置格式。
const (
	// FormatYAML YAML 格式（推荐用于 K8s ConfigMap）。
	FormatYAML Format = "yaml"

	// FormatJSON JSON 格式。
	FormatJSON Format = "json"
)

// Config 调度引擎配置快照。加载后不可变。
type Config struct {
	Pool   PoolConfig    `koanf:"pool" json:"pool"`
	Groups []GroupConfig `koanf:"groups" json:"groups"`
}

// PoolConfig 引擎参数。
type PoolConfig struct {
	Name        string        `koanf:"name" json:"name"`
	MinWorkers  int           `koanf:"min_workers" json:"min_workers"`
	MaxWorkers  int           `koanf:"max_workers" json:"max_workers"`
	IdleTimeout time.Duration `koanf:"idle_timeout" json:"idle_timeout"`
}

// GroupConfig 分组参数。
// Concurrency 为 0（含省略）表示分组创建后暂停晋升，
// 需要显式 SetConcurrency 或热应用才会开始执行。
type GroupConfig struct {
	Name           string `koanf:"name" json:"name"`
	Concurrency    int    `koanf:"concurrency" json:"concurrency"`
	StartSuspended bool   `koanf:"start_suspended" json:"start_suspended"`
	HistorySize    int    `koanf:"history_size" json:"history_size"`
}

// defaultConfig 返回与 xsched 包默认值一致的配置。
func defaultConfig() Config {
	return Config{
		Pool: PoolConfig{
			Name:        "default",
			MinWorkers:  xsched.DefaultMinWorkers,
			MaxWorkers:  xsched.DefaultMaxWorkers,
			IdleTimeout: xsched.DefaultIdleTimeout,
		},
	}
}

// Validate 校验配置内容。
// 规则与 xsched 各 validate() 保持一致，提前在加载阶段拦截。
func (c Config) Validate() error {
	if c.Pool.MinWorkers < 0 {
		return fmt.Errorf("%w: pool.min_workers must be non-negative, got %d",
			ErrInvalidConfig, c.Pool.MinWorkers)
	}
	if c.Pool.MaxWorkers < 1 {
		return fmt.Errorf("%w: pool.max_workers must be positive, got %d",
			ErrInvalidConfig, c.Pool.MaxWorkers)
	}
	if c.Pool.MaxWorkers < c.Pool.MinWorkers {
		return fmt.Errorf("%w: pool.max_workers (%d) less than pool.min_workers (%d)",
			ErrInvalidConfig, c.Pool.MaxWorkers, c.Pool.MinWorkers)
	}
	if c.Pool.IdleTimeout <= 0 {
		return fmt.Errorf("%w: pool.idle_timeout must be positive, got %s",
			ErrInvalidConfig, c.Pool.IdleTimeout)
	}

	seen := make(map[string]struct{}, len(c.Groups))
	for i, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("%w: groups[%d].name must not be empty", ErrInvalidConfig, i)
		}
		if _, dup := seen[g.Name]; dup {
			// 热应用按名称定位分组，配置文件中不允许重名
			return fmt.Errorf("%w: duplicate group name %q", ErrInvalidConfig, g.Name)
		}
		seen[g.Name] = struct{}{}
		if g.Concurrency < 0 {
			return fmt.Errorf("%w: groups[%d].concurrency must be non-negative, got %d",
				ErrInvalidConfig, i, g.Concurrency)
		}
		if g.HistorySize < 0 {
			return fmt.Errorf("%w: groups[%d].history_size must be non-negative, got %d",
				ErrInvalidConfig, i, g.HistorySize)
		}
	}
	return nil
}

// PoolOptions 把引擎参数转换为 xsched 的函数式选项。
func (c Config) PoolOptions() []xsched.Option {
	opts := []xsched.Option{
		xsched.WithMinWorkers(c.Pool.MinWorkers),
		xsched.WithMaxWorkers(c.Pool.MaxWorkers),
		xsched.WithIdleTimeout(c.Pool.IdleTimeout),
	}
	if c.Pool.Name != "" {
		opts = append(opts, xsched.WithName(c.Pool.Name))
	}
	return opts
}

// GroupOptions 把指定分组的参数转换为 xsched 的函数式选项。
func (g GroupConfig) GroupOptions() []xsched.GroupOption {
	opts := []xsched.GroupOption{
		xsched.WithConcurrency(g.Concurrency),
	}
	if g.StartSuspended {
		opts = append(opts, xsched.WithStartSuspended())
	}
	if g.HistorySize > 0 {
		opts = append(opts, xsched.WithHistorySize(g.HistorySize))
	}
	return opts
}

// Build 按配置创建引擎和分组。
// 返回的分组按配置文件中的顺序排列，与 Groups 下标一一对应。
func (c Config) Build(extra ...xsched.Option) (*xsched.Pool, []*xsched.Group, error) {
	opts := append(c.PoolOptions(), extra...)
	pool, err := xsched.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	groups := make([]*xsched.Group, 0, len(c.Groups))
	for _, gc := range c.Groups {
		g, err := pool.NewGroup(gc.Name, gc.GroupOptions()...)
		if err != nil {
			pool.ShutdownNow()
			return nil, nil, err
		}
		groups = append(groups, g)
	}
	return pool, groups, nil
}

// Apply 把运行期可调参数应用到存活的引擎。
//
// 覆盖范围：worker 上下限、既有分组的并发上限（按名称匹配）。
// 上限调低先于下限调高应用，避免中间状态违反 min <= max。
// 配置中新出现的分组不会被自动创建，消失的分组不会被关闭，
// 这类结构性变更由调用方决策。
func Apply(pool *xsched.Pool, c Config) error {
	if pool == nil {
		return ErrNilPool
	}
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Pool.MaxWorkers >= pool.MaxWorkers() {
		if err := pool.SetMaxWorkers(c.Pool.MaxWorkers); err != nil {
			return err
		}
		if err := pool.SetMinWorkers(c.Pool.MinWorkers); err != nil {
			return err
		}
	} else {
		if err := pool.SetMinWorkers(c.Pool.MinWorkers); err != nil {
			return err
		}
		if err := pool.SetMaxWorkers(c.Pool.MaxWorkers); err != nil {
			return err
		}
	}

	byName := make(map[string]GroupConfig, len(c.Groups))
	for _, gc := range c.Groups {
		byName[gc.Name] = gc
	}
	for _, g := range pool.Groups() {
		gc, ok := byName[g.Name()]
		if !ok {
			continue
		}
		if err := g.SetConcurrency(gc.Concurrency); err != nil {
			return err
		}
	}
	return nil
}
