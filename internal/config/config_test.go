package config

import (
	"strings"
	"testing"
	"time"

	"github.com/zx-tiles/offline-proxy/internal/version"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Site.AssetCachePrefix != DefaultAssetCachePrefix || cfg.Site.ImageCachePrefix != DefaultImageCachePrefix {
		t.Fatalf("缓存前缀应使用默认值: %+v", cfg.Site)
	}
	if !cfg.Site.SkipWaitingOnInstall {
		t.Fatalf("SkipWaitingOnInstall 默认应为 true")
	}
	if cfg.Site.ImagePlaceholder != PlaceholderLiteral {
		t.Fatalf("ImagePlaceholder 默认应为 literal，实际 %s", cfg.Site.ImagePlaceholder)
	}
	if cfg.Global.LogMaxSize != 100 || cfg.Global.LogMaxBackups != 10 {
		t.Fatalf("日志轮转默认值错误: %+v", cfg.Global)
	}
	if !strings.HasPrefix(cfg.Global.StoragePath, "/") {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
}

func TestValidateRejectsMissingUpstream(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺少 Upstream 的配置应返回错误")
	}
}

func TestVersionFallsBackToBuildVersion(t *testing.T) {
	path := writeTempConfig(t, `
StoragePath = "./data"

[Site]
Upstream = "http://127.0.0.1:8080"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Site.Version != version.Version {
		t.Fatalf("Version 应回落到构建版本 %s，实际 %s", version.Version, cfg.Site.Version)
	}
	if cfg.Site.Origin != "http://localhost:5000" {
		t.Fatalf("Origin 默认值错误: %s", cfg.Site.Origin)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStorageDriverValidation(t *testing.T) {
	testCases := []struct {
		name      string
		driver    string
		shouldErr bool
	}{
		{"fs ok", "fs", false},
		{"sqlite ok", "sqlite", false},
		{"memory ok", "memory", false},
		{"unsupported", "redis", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StorageDriver = tc.driver
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for driver %q", tc.driver)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for driver %q: %v", tc.driver, err)
			}
		})
	}
}

func TestSiteValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"origin with path", func(c *Config) { c.Site.Origin = "http://tiles.local/app" }},
		{"origin bad scheme", func(c *Config) { c.Site.Origin = "ftp://tiles.local" }},
		{"upstream missing host", func(c *Config) { c.Site.Upstream = "http://" }},
		{"version with space", func(c *Config) { c.Site.Version = "0.2 beta" }},
		{"empty prefix", func(c *Config) { c.Site.AssetCachePrefix = "" }},
		{"same prefixes", func(c *Config) { c.Site.ImageCachePrefix = c.Site.AssetCachePrefix }},
		{"placeholder mode", func(c *Config) { c.Site.ImagePlaceholder = "png" }},
		{"negative timeout", func(c *Config) { c.Global.UpstreamTimeout = Duration(-time.Second) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFieldErrorMessageIncludesSitePrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Site.ImagePlaceholder = "png"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "Site.ImagePlaceholder") {
		t.Fatalf("错误信息应包含字段名, got %v", err)
	}
}

func TestOriginURLStripsPath(t *testing.T) {
	site := SiteConfig{Origin: "https://tiles.example.com:8443/"}
	u := site.OriginURL()
	if u == nil || u.String() != "https://tiles.example.com:8443" {
		t.Fatalf("OriginURL 结果错误: %v", u)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			StorageDriver:   "fs",
			StoragePath:     "/tmp/offline-proxy",
			UpstreamTimeout: Duration(30 * time.Second),
		},
		Site: SiteConfig{
			Origin:               "http://tiles.local:5000",
			Upstream:             "http://127.0.0.1:8080",
			Version:              "0.2.118",
			AssetCachePrefix:     DefaultAssetCachePrefix,
			ImageCachePrefix:     DefaultImageCachePrefix,
			SkipWaitingOnInstall: true,
			ImagePlaceholder:     PlaceholderLiteral,
		},
	}
}
