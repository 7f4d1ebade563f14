package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/zx-tiles/offline-proxy/internal/version"
)

// 默认缓存命名空间前缀，与历史部署保持一致，旧版本命名空间才能在激活时被识别并清理。
const (
	DefaultAssetCachePrefix = "zx-tiles"
	DefaultImageCachePrefix = "zx-tiles-images"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySiteDefaults(&cfg.Site, cfg.Global.ListenPort)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageDriver != "memory" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", "fs")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Site.AssetCachePrefix", DefaultAssetCachePrefix)
	v.SetDefault("Site.ImageCachePrefix", DefaultImageCachePrefix)
	v.SetDefault("Site.SkipWaitingOnInstall", true)
	v.SetDefault("Site.ImagePlaceholder", PlaceholderLiteral)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		g.UpstreamTimeout = Duration(0)
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = "fs"
	}
}

func applySiteDefaults(s *SiteConfig, listenPort int) {
	if strings.TrimSpace(s.Origin) == "" {
		s.Origin = fmt.Sprintf("http://localhost:%d", listenPort)
	}
	s.Origin = strings.TrimSuffix(strings.TrimSpace(s.Origin), "/")
	if strings.TrimSpace(s.Version) == "" {
		s.Version = version.Version
	}
	s.Version = strings.TrimSpace(s.Version)
	if strings.TrimSpace(s.AssetCachePrefix) == "" {
		s.AssetCachePrefix = DefaultAssetCachePrefix
	}
	if strings.TrimSpace(s.ImageCachePrefix) == "" {
		s.ImageCachePrefix = DefaultImageCachePrefix
	}
	s.ImagePlaceholder = strings.ToLower(strings.TrimSpace(s.ImagePlaceholder))
	if s.ImagePlaceholder == "" {
		s.ImagePlaceholder = PlaceholderLiteral
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
