package sw

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Background 执行不阻塞响应路径的后台任务（缓存写入、命名空间清理）。
// 任务的错误与 panic 都会被捕获并记录，不会传播给调用方。
type Background struct {
	wg     conc.WaitGroup
	logger *logrus.Logger
}

// NewBackground 创建后台任务组。
func NewBackground(logger *logrus.Logger) *Background {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Background{logger: logger}
}

// Go 启动一个脱离请求生命周期的任务，任务拿到的 context 不随请求取消。
func (b *Background) Go(name string, fn func(ctx context.Context) error) {
	b.wg.Go(func() {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn(context.Background())
		})
		if recovered := catcher.Recovered(); recovered != nil {
			b.logger.WithFields(logrus.Fields{
				"action": "background",
				"task":   name,
				"panic":  recovered.Value,
			}).Error("background task panicked")
			return
		}
		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"action": "background",
				"task":   name,
			}).WithError(err).Warn("background task failed")
		}
	})
}

// Wait 阻塞直到已启动的任务全部结束，用于测试与优雅退出。
func (b *Background) Wait() {
	b.wg.Wait()
}
