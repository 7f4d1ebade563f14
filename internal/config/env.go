package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides 汇总可由环境变量覆盖的启动参数。
type EnvOverrides struct {
	ConfigPath string `env:"OFFLINE_PROXY_CONFIG"`
	LogLevel   string `env:"OFFLINE_PROXY_LOG_LEVEL"`
	Version    string `env:"OFFLINE_PROXY_SITE_VERSION"`
}

// ParseEnv 从环境变量读取覆盖项。
func ParseEnv() (EnvOverrides, error) {
	var overrides EnvOverrides
	if err := env.Parse(&overrides); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse env: %w", err)
	}
	return overrides, nil
}

// Apply 将非空覆盖项写入配置，调用方负责重新 Validate。
func (o EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != "" {
		cfg.Global.LogLevel = o.LogLevel
	}
	if o.Version != "" {
		cfg.Site.Version = o.Version
	}
}
