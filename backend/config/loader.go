package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config 应用配置。零值表示未指定，由 WithDefaults 补全。
type Config struct {
	Listen   string       `json:"listen" yaml:"listen" toml:"listen"`
	DataDir  string       `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	LogLevel string       `json:"log_level" yaml:"log_level" toml:"log_level"`
	DryRun   bool         `json:"dry_run" yaml:"dry_run" toml:"dry_run"`
	Engine   EngineConfig `json:"engine" yaml:"engine" toml:"engine"`
	Tun      TunConfig    `json:"tun" yaml:"tun" toml:"tun"`
}

// EngineConfig 引擎进程
type EngineConfig struct {
	Command   string   `json:"command" yaml:"command" toml:"command"`
	Args      []string `json:"args" yaml:"args" toml:"args"`
	Dir       string   `json:"dir" yaml:"dir" toml:"dir"`
	Signature string   `json:"signature" yaml:"signature" toml:"signature"`
}

// TunConfig 虚拟网卡
type TunConfig struct {
	ProviderIdentifier string `json:"provider_identifier" yaml:"provider_identifier" toml:"provider_identifier"`
	InterfaceName      string `json:"interface_name" yaml:"interface_name" toml:"interface_name"`
}

const (
	DefaultListen   = "127.0.0.1:19080"
	DefaultLogLevel = "info"
)

// Load 按扩展名读取配置文件：.yaml/.yml、.json、.toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// WithDefaults 补全未指定的字段。dataDir 是用户数据根目录。
func (c Config) WithDefaults(dataDir string) Config {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.DataDir == "" {
		c.DataDir = dataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Engine.Dir == "" && c.DataDir != "" {
		c.Engine.Dir = filepath.Join(c.DataDir, "engine")
	}
	if c.Engine.Signature == "" {
		c.Engine.Signature = "client.py"
	}
	if c.Tun.ProviderIdentifier == "" {
		c.Tun.ProviderIdentifier = "com.secureproxy.tunnel"
	}
	return c
}
