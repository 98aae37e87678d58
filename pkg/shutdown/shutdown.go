package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/tradestream/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器：按注册的逆序依次执行（后创建的资源先释放）
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）
// ctx 应该是一个带超时的 context；超时后剩余回调不再执行。
// 返回第一个失败回调的错误。
func (m *Manager) Shutdown(ctx context.Context) (firstErr error) {
	m.once.Do(func() {
		m.mu.Lock()
		callbacks := append([]namedHandler(nil), m.callbacks...)
		m.mu.Unlock()

		log := logger.Component("shutdown")
		if len(callbacks) == 0 {
			log.Info("没有注册的关闭回调")
			return
		}
		log.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

		for i := len(callbacks) - 1; i >= 0; i-- {
			cb := callbacks[i]
			if err := ctx.Err(); err != nil {
				log.Warnf("关闭超时，跳过剩余 %d 个回调: %v", i+1, err)
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if err := cb.fn(ctx); err != nil {
				log.WithError(err).Warnf("关闭 %s 失败", cb.name)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			log.Debugf("已关闭 %s", cb.name)
		}
		log.Info("所有关闭回调已完成")
	})
	return firstErr
}
