package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入。Version 同时是默认的部署版本标签，
// 决定缓存命名空间的后缀。
var (
	Version = "0.2.118"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("offline-proxy %s (%s)", Version, Commit)
}
