package xadmit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ErrWatchNotSupported 配置源不支持变更监听
var ErrWatchNotSupported = errors.New("xadmit: config source does not support watching")

// ConfigFormat 配置文件格式
type ConfigFormat string

const (
	// FormatYAML YAML 格式
	FormatYAML ConfigFormat = "yaml"
	// FormatJSON JSON 格式
	FormatJSON ConfigFormat = "json"
)

// ConfigChange 一次配置变更事件
// Err 非 nil 时表示重载失败，NewConfig 无效，消费方应保留旧配置
type ConfigChange struct {
	NewConfig Config
	Err       error
}

// ConfigProvider 配置来源抽象
type ConfigProvider interface {
	// Load 加载并验证配置
	Load() (Config, error)

	// Watch 监听配置变更，返回变更事件通道
	// ctx 取消后通道关闭。不支持监听的实现返回 ErrWatchNotSupported。
	Watch(ctx context.Context) (<-chan ConfigChange, error)
}

// =============================================================================
// 文件配置源
// =============================================================================

// FileProvider 基于文件的配置源，支持 YAML 和 JSON
type FileProvider struct {
	path   string
	format ConfigFormat
}

// NewFileProvider 创建文件配置源，格式由扩展名推断
func NewFileProvider(path string) (*FileProvider, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	return &FileProvider{path: path, format: format}, nil
}

// detectFormat 由文件扩展名推断配置格式
func detectFormat(path string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported config file extension %q", ErrInvalidConfig, filepath.Ext(path))
	}
}

// Load 读取文件并解析配置
func (p *FileProvider) Load() (Config, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return Config{}, fmt.Errorf("xadmit: read config %s: %w", p.path, err)
	}

	return parseConfig(data, p.format)
}

// Watch 基于 fsnotify 监听配置文件变更
//
// 监听的是文件所在目录而非文件本身：编辑器保存常用
// 临时文件加重命名的方式替换原文件，直接监听文件会丢失句柄。
func (p *FileProvider) Watch(ctx context.Context) (<-chan ConfigChange, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xadmit: create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("xadmit: watch %s: %w", filepath.Dir(p.path), err)
	}

	ch := make(chan ConfigChange, 1)

	go func() {
		defer close(ch)
		defer func() { _ = watcher.Close() }()

		target := filepath.Clean(p.path)
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				cfg, loadErr := p.Load()
				deliver(ch, ConfigChange{NewConfig: cfg, Err: loadErr})

			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				deliver(ch, ConfigChange{Err: werr})
			}
		}
	}()

	return ch, nil
}

// deliver 非阻塞投递变更事件
// 消费方落后时丢弃旧事件，只保留最新一条
func deliver(ch chan ConfigChange, change ConfigChange) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- change:
	default:
	}
}

// =============================================================================
// 内存配置源
// =============================================================================

// BytesProvider 基于内存字节的配置源，主要用于测试和嵌入式场景
type BytesProvider struct {
	data   []byte
	format ConfigFormat
}

// NewBytesProvider 创建内存配置源
func NewBytesProvider(data []byte, format ConfigFormat) *BytesProvider {
	return &BytesProvider{data: data, format: format}
}

// Load 解析内存中的配置
func (p *BytesProvider) Load() (Config, error) {
	return parseConfig(p.data, p.format)
}

// Watch 内存配置源不支持监听
func (p *BytesProvider) Watch(_ context.Context) (<-chan ConfigChange, error) {
	return nil, ErrWatchNotSupported
}

// =============================================================================
// 解析
// =============================================================================

// parseConfig 解析配置字节并验证
// 未出现的字段保留默认值
func parseConfig(data []byte, format ConfigFormat) (Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return Config{}, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, format)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return Config{}, fmt.Errorf("xadmit: parse config: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("xadmit: unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// 确保实现了 ConfigProvider 接口
var (
	_ ConfigProvider = (*FileProvider)(nil)
	_ ConfigProvider = (*BytesProvider)(nil)
)
