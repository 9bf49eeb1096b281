package xschedconf

import "errors"

// 配置加载和应用相关错误。
var (
	// ErrEmptyPath 表示配置文件路径为空。
	ErrEmptyPath = errors.New("xschedconf: empty config path")

	// ErrUnsupportedFormat 表示不支持的配置格式。
	ErrUnsupportedFormat = errors.New("xschedconf: unsupported config format")

	// ErrLoadFailed 表示配置加载失败。
	ErrLoadFailed = errors.New("xschedconf: failed to load config")

	// ErrParseFailed 表示配置解析失败。
	ErrParseFailed = errors.New("xschedconf: failed to parse config")

	// ErrInvalidConfig 表示配置内容非法。
	ErrInvalidConfig = errors.New("xschedconf: invalid config")

	// ErrNilPool 表示应用目标引擎为 nil。
	ErrNilPool = errors.New("xschedconf: pool must not be nil")

	// ErrNotWatchable 表示从字节数据创建的 Loader 不支持监视。
	ErrNotWatchable = errors.New("xschedconf: cannot watch config created from bytes")
)
