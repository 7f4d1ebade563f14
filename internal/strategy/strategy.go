package strategy

import (
	"path"
	"strings"
)

// Kind 标识一种处理策略。
type Kind string

const (
	KindImage      Kind = "image"
	KindStatic     Kind = "static"
	KindNavigation Kind = "navigation"
)

// Mode 描述缓存与网络的先后顺序。
type Mode string

const (
	ModeCacheFirst   Mode = "cache-first"
	ModeNetworkFirst Mode = "network-first"
)

// Purpose 描述策略写入的命名空间用途。
type Purpose string

const (
	PurposeAssets Purpose = "assets"
	PurposeImages Purpose = "images"
)

// Metadata 记录一个策略的静态信息，供路由分类与诊断端使用。
type Metadata struct {
	Kind        Kind
	Description string
	Mode        Mode
	Purpose     Purpose
	// Extensions 为小写、带点的路径后缀；为空表示默认策略。
	Extensions []string
	// Priority 越小越先匹配。
	Priority int
	// Fallback 描述网络与缓存都失败时的兜底响应。
	Fallback string
}

// Default 表示该策略是否是兜底的默认策略。
func (m Metadata) Default() bool {
	return len(m.Extensions) == 0
}

// Matches 判断 URL 路径的后缀是否命中该策略，大小写不敏感。
func (m Metadata) Matches(urlPath string) bool {
	ext := strings.ToLower(path.Ext(urlPath))
	if ext == "" {
		return false
	}
	for _, candidate := range m.Extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}
