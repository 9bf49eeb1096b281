package xschedconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// koanf 键分隔符与结构体标签。
const (
	confDelim = "."
	confTag   = "koanf"
)

// Loader 配置加载器。持有最近一次成功解析的配置快照，支持重载。
type Loader struct {
	path    string
	format  Format
	isBytes bool

	mu     sync.RWMutex
	config Config
}

// New 从文件路径创建加载器。
// 根据文件扩展名自动检测格式（.yaml/.yml 或 .json）。
func New(path string) (*Loader, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	cfg, err := parse(data, format)
	if err != nil {
		return nil, err
	}

	return &Loader{path: path, format: format, config: cfg}, nil
}

// NewFromBytes 从字节数据创建加载器。
// 需要显式指定格式，适用于 K8s ConfigMap 等场景。不支持 Reload 与监视。
func NewFromBytes(data []byte, format Format) (*Loader, error) {
	if !isValidFormat(format) {
		return nil, ErrUnsupportedFormat
	}
	cfg, err := parse(data, format)
	if err != nil {
		return nil, err
	}
	return &Loader{format: format, isBytes: true, config: cfg}, nil
}

// Config 返回当前配置快照。
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Path 返回配置文件路径。从字节数据创建的加载器返回空字符串。
func (l *Loader) Path() string {
	return l.path
}

// Format 返回配置格式。
func (l *Loader) Format() Format {
	return l.format
}

// Reload 重新加载配置文件并替换快照。
// 解析或校验失败时保留旧快照，返回错误。并发安全。
func (l *Loader) Reload() error {
	if l.isBytes {
		return ErrNotWatchable
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	cfg, err := parse(data, l.format)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return nil
}

// =============================================================================
// 内部辅助函数
// =============================================================================

// detectFormat 根据文件扩展名检测配置格式。
func detectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %s", ErrUnsupportedFormat, ext)
	}
}

// isValidFormat 检查格式是否有效。
func isValidFormat(format Format) bool {
	switch format {
	case FormatYAML, FormatJSON:
		return true
	default:
		return false
	}
}

// parse 解析并校验配置数据。未出现的字段取包默认值。
func parse(data []byte, format Format) (Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return Config{}, ErrUnsupportedFormat
	}

	k := koanf.New(confDelim)
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	}

	cfg := defaultConfig()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: confTag}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
