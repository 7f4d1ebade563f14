package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	"fs":     {},
	"sqlite": {},
	"memory": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedStorageDrivers[strings.ToLower(g.StorageDriver)]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 fs|sqlite|memory")
	}
	if g.StoragePath == "" && strings.ToLower(g.StorageDriver) != "memory" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}

	s := c.Site
	if err := validateOrigin(s.Origin); err != nil {
		return fmt.Errorf("%s: %w", siteField("Origin"), err)
	}
	if err := validateUpstream(s.Upstream); err != nil {
		return fmt.Errorf("%s: %w", siteField("Upstream"), err)
	}
	if strings.TrimSpace(s.Version) == "" {
		return newFieldError(siteField("Version"), "不能为空")
	}
	if strings.ContainsAny(s.Version, " /") {
		return newFieldError(siteField("Version"), "不允许包含空格或斜杠")
	}
	if err := validatePrefix(s.AssetCachePrefix); err != nil {
		return fmt.Errorf("%s: %w", siteField("AssetCachePrefix"), err)
	}
	if err := validatePrefix(s.ImageCachePrefix); err != nil {
		return fmt.Errorf("%s: %w", siteField("ImageCachePrefix"), err)
	}
	if s.AssetCachePrefix == s.ImageCachePrefix {
		return newFieldError(siteField("ImageCachePrefix"), "不能与 AssetCachePrefix 相同")
	}
	switch s.ImagePlaceholder {
	case PlaceholderLiteral, PlaceholderDecoded:
	default:
		return newFieldError(siteField("ImagePlaceholder"), "仅支持 literal/decoded")
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少 Origin")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，Origin: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("Origin 缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("Origin 不允许包含路径: %s", raw)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

func validatePrefix(prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(prefix, " /") {
		return errors.New("不允许包含空格或斜杠")
	}
	return nil
}
