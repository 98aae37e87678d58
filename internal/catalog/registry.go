package catalog

import (
	"sync"

	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/pkg/cache"
)

// Lookup 按 SymbolID 查询品种（只读，不拥有品种数据）
type Lookup interface {
	Instrument(symbolID string) (domain.Instrument, bool)
}

// Registry 品种目录：由外部逐步填充，推送处理与下单只做查询。
type Registry struct {
	items *cache.InMemoryCache[string, domain.Instrument]

	mu        sync.RWMutex
	listeners []func(domain.Instrument)
}

// NewRegistry 创建品种目录，可用预置品种初始化
func NewRegistry(seed ...domain.Instrument) *Registry {
	r := &Registry{items: cache.NewInMemoryCache[string, domain.Instrument]()}
	for _, inst := range seed {
		r.Observe(inst)
	}
	return r
}

// Instrument 实现 Lookup
func (r *Registry) Instrument(symbolID string) (domain.Instrument, bool) {
	return r.items.Get(symbolID)
}

// Observe 新增或更新一个品种，并通知监听者
func (r *Registry) Observe(inst domain.Instrument) {
	if inst.SymbolID == "" {
		return
	}
	r.items.Set(inst.SymbolID, inst)

	r.mu.RLock()
	listeners := append([]func(domain.Instrument){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(inst)
	}
}

// OnObserve 注册品种更新回调（用于在品种到达后重新投影依赖它的数据）
func (r *Registry) OnObserve(fn func(domain.Instrument)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// All 已知品种快照，按 SymbolID 索引
func (r *Registry) All() map[string]domain.Instrument {
	return r.items.Values()
}

// Len 已知品种数
func (r *Registry) Len() int {
	return r.items.Size()
}
