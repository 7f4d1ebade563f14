package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 描述一次 fetch 的处理结果：命中的策略、响应来源与所属 worker 版本。
func RequestFields(strategy, source, version string, status int) logrus.Fields {
	return logrus.Fields{
		"strategy": strategy,
		"source":   source,
		"version":  version,
		"status":   status,
	}
}

// WorkerFields 用于生命周期事件日志。
func WorkerFields(version, state string) logrus.Fields {
	return logrus.Fields{
		"version": version,
		"state":   state,
	}
}

// CacheFields 标记缓存命名空间与条目。
func CacheFields(namespace, url string) logrus.Fields {
	fields := logrus.Fields{"namespace": namespace}
	if url != "" {
		fields["url"] = url
	}
	return fields
}
