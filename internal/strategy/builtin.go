package strategy

// 内置三种策略：图片与静态资源走 cache-first，其余请求按导航处理走 network-first。
func init() {
	MustRegister(Metadata{
		Kind:        KindImage,
		Description: "Images served from the image namespace, 1x1 GIF placeholder when offline",
		Mode:        ModeCacheFirst,
		Purpose:     PurposeImages,
		Extensions:  []string{".webp", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico"},
		Priority:    10,
		Fallback:    "placeholder image, 200",
	})
	MustRegister(Metadata{
		Kind:        KindStatic,
		Description: "Scripts, stylesheets and fonts served from the asset namespace",
		Mode:        ModeCacheFirst,
		Purpose:     PurposeAssets,
		Extensions:  []string{".js", ".css", ".woff", ".woff2"},
		Priority:    20,
		Fallback:    "empty body, 503",
	})
	MustRegister(Metadata{
		Kind:        KindNavigation,
		Description: "Documents and everything else, network first with app shell fallback",
		Mode:        ModeNetworkFirst,
		Purpose:     PurposeAssets,
		Priority:    100,
		Fallback:    "offline page, 503",
	})
}
