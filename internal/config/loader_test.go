package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = "boom"

[Site]
Upstream = "http://127.0.0.1:8080"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsNumericSeconds(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 5

[Site]
Upstream = "http://127.0.0.1:8080"
SkipWaitingOnInstall = false
ImagePlaceholder = "Decoded"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.UpstreamTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("纯数字秒值解析错误: %s", loaded.Global.UpstreamTimeout.DurationValue())
	}
	if loaded.Site.SkipWaitingOnInstall {
		t.Fatalf("显式 false 不应被默认值覆盖")
	}
	if loaded.Site.ImagePlaceholder != PlaceholderDecoded {
		t.Fatalf("ImagePlaceholder 应规范化为小写: %s", loaded.Site.ImagePlaceholder)
	}
}

func TestLoadMemoryDriverKeepsStoragePath(t *testing.T) {
	cfg := `
StorageDriver = "memory"
StoragePath = "relative"

[Site]
Upstream = "http://127.0.0.1:8080"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.StoragePath != "relative" {
		t.Fatalf("memory 驱动不应改写 StoragePath: %s", loaded.Global.StoragePath)
	}
}

func TestEnvOverridesApply(t *testing.T) {
	t.Setenv("OFFLINE_PROXY_CONFIG", "/etc/offline-proxy.toml")
	t.Setenv("OFFLINE_PROXY_LOG_LEVEL", "warn")
	t.Setenv("OFFLINE_PROXY_SITE_VERSION", "0.3.0")

	overrides, err := ParseEnv()
	if err != nil {
		t.Fatalf("ParseEnv 返回错误: %v", err)
	}
	if overrides.ConfigPath != "/etc/offline-proxy.toml" {
		t.Fatalf("ConfigPath 解析错误: %s", overrides.ConfigPath)
	}

	cfg := validConfig()
	overrides.Apply(cfg)
	if cfg.Global.LogLevel != "warn" || cfg.Site.Version != "0.3.0" {
		t.Fatalf("覆盖未生效: %+v", cfg)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	initial := `
StoragePath = "./data"

[Site]
Upstream = "http://127.0.0.1:8080"
Version = "1"
`
	path := writeTempConfig(t, initial)

	changes := make(chan *Config, 4)
	if err := Watch(path, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	}); err != nil {
		t.Fatalf("Watch 返回错误: %v", err)
	}

	updated := []byte(`
StoragePath = "./data"

[Site]
Upstream = "http://127.0.0.1:8080"
Version = "2"
`)
	if err := os.WriteFile(path, updated, 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Site.Version == "2" {
				return
			}
		case <-deadline:
			t.Fatalf("未收到配置变更通知")
		}
	}
}
