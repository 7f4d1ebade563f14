package sw

import (
	"fmt"
	"strings"

	"github.com/zx-tiles/offline-proxy/internal/strategy"
)

// Namespaces 是按版本计算出的缓存命名空间名称，构造后不再变化。
type Namespaces struct {
	Version string
	Assets  string
	Images  string
}

// NewNamespaces 按 `{prefix}-v{version}` 规则生成资源与图片命名空间。
func NewNamespaces(version, assetPrefix, imagePrefix string) Namespaces {
	return Namespaces{
		Version: version,
		Assets:  fmt.Sprintf("%s-v%s", assetPrefix, version),
		Images:  fmt.Sprintf("%s-v%s", imagePrefix, version),
	}
}

// Current 判断命名空间是否属于当前版本：名称包含 `v{version}` 即视为当前版本。
func (n Namespaces) Current(name string) bool {
	return strings.Contains(name, "v"+n.Version)
}

// For 返回策略用途对应的命名空间。
func (n Namespaces) For(purpose strategy.Purpose) string {
	if purpose == strategy.PurposeImages {
		return n.Images
	}
	return n.Assets
}

// List 返回当前版本的全部命名空间。
func (n Namespaces) List() []string {
	return []string{n.Assets, n.Images}
}
