package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 占位图模式：literal 保持原有的 data URI 字符串正文，decoded 返回解码后的 GIF 字节。
const (
	PlaceholderLiteral = "literal"
	PlaceholderDecoded = "decoded"
)

// GlobalConfig 描述进程级运行参数：监听端口、日志与缓存存储。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// SiteConfig 决定被代理站点的来源、上游以及缓存命名空间。
type SiteConfig struct {
	// Origin 是代理对外暴露的来源（scheme://host[:port]），只有同源请求会被拦截。
	Origin string `mapstructure:"Origin"`
	// Upstream 是真实的 Web 应用地址。
	Upstream string `mapstructure:"Upstream"`
	// Version 是部署版本标签，为空时使用构建版本。
	Version              string `mapstructure:"Version"`
	AssetCachePrefix     string `mapstructure:"AssetCachePrefix"`
	ImageCachePrefix     string `mapstructure:"ImageCachePrefix"`
	SkipWaitingOnInstall bool   `mapstructure:"SkipWaitingOnInstall"`
	ImagePlaceholder     string `mapstructure:"ImagePlaceholder"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Site   SiteConfig   `mapstructure:"Site"`
}

// OriginURL 返回解析后的 Origin（假定 Validate 已经通过）。
func (s SiteConfig) OriginURL() *url.URL {
	parsed, err := url.Parse(s.Origin)
	if err != nil {
		return nil
	}
	return &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
}

// UpstreamURL 返回解析后的上游地址（假定 Validate 已经通过）。
func (s SiteConfig) UpstreamURL() *url.URL {
	parsed, err := url.Parse(s.Upstream)
	if err != nil {
		return nil
	}
	return parsed
}
