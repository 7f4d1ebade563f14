package sw

import (
	"context"

	"github.com/zx-tiles/offline-proxy/internal/logging"
)

// 控制消息，正文为裸字符串，需完全匹配。
const (
	CommandSkipWaiting = "skipWaiting"
	CommandClearCache  = "clearCache"
)

// KnownCommand 判断消息是否为受支持的控制命令。
func KnownCommand(data string) bool {
	return data == CommandSkipWaiting || data == CommandClearCache
}

// onMessage 处理控制消息；未知消息被忽略。clearCache 在后台删除全部命名空间，不等待结果。
func onMessage(_ context.Context, w *Worker, ev *Event) error {
	fields := logging.WorkerFields(w.Version(), string(w.State()))
	fields["action"] = "message"
	fields["command"] = ev.Data

	switch ev.Data {
	case CommandSkipWaiting:
		w.logger.WithFields(fields).Info("skip waiting requested")
		w.SkipWaiting()
	case CommandClearCache:
		w.logger.WithFields(fields).Info("clearing all cache namespaces")
		w.bg.Go("clear_cache", func(ctx context.Context) error {
			w.deleteNamespaces(ctx, "clear_cache", func(string) bool { return true })
			return nil
		})
	default:
		w.logger.WithFields(fields).Debug("ignoring unknown message")
	}
	return nil
}
