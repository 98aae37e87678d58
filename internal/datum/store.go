// Package datum 聚合推送数据：按键去重缓存原始记录，订阅时同步回放，投影在读取时计算
package datum

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradestream/pkg/logger"
)

// Kind 数据种类
type Kind int

const (
	KindOrders Kind = iota
	KindPositions
	KindTimeline
)

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "unknown"
}

// ReplayMode 新订阅者的回放方式
type ReplayMode int

const (
	ReplayLatest ReplayMode = iota // 只回放最新一条匹配记录
	ReplayAll                      // 按顺序回放全部匹配记录
)

// kindInfo 每种数据的固定策略
type kindInfo struct {
	name       string
	replay     ReplayMode
	appendOnly bool // 只追加：重复键被忽略，不覆盖
}

var kinds = map[Kind]kindInfo{
	KindOrders:    {name: "orders", replay: ReplayLatest},
	KindPositions: {name: "positions", replay: ReplayLatest},
	KindTimeline:  {name: "timeline", replay: ReplayAll, appendOnly: true},
}

// Filter 订阅过滤条件，零值匹配全部
type Filter struct {
	SymbolID string
	Currency string
}

// IsZero 是否为空过滤
func (f Filter) IsZero() bool {
	return f.SymbolID == "" && f.Currency == ""
}

// Strategy 某种数据的键/过滤/投影函数
type Strategy[R any, V any] struct {
	Key     func(R) string
	Match   func(Filter, R) bool
	Project func(R) V
	Less    func(a, b R) bool // ReplayAll 时的回放顺序，nil 表示按到达顺序
}

type entry[R any] struct {
	rec R
	seq uint64
}

type subscriber[V any] struct {
	filter Filter
	fn     func(V)
}

// Store 通用聚合存储。缓存生命周期等于会话生命周期，取消订阅不会清理缓存。
// 写入、回放与重投影的推送串行执行，订阅者最后收到的总是最新投影；
// 回调中不能再写入同一个存储。
type Store[R any, V any] struct {
	info  kindInfo
	strat Strategy[R, V]
	log   *logrus.Entry

	deliverMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]*entry[R]
	seq     uint64
	subs    map[uint64]*subscriber[V]
	nextSub uint64

	hooks []func(R)
}

// NewStore 按数据种类创建存储
func NewStore[R any, V any](kind Kind, strat Strategy[R, V]) *Store[R, V] {
	if strat.Match == nil {
		strat.Match = func(Filter, R) bool { return true }
	}
	return &Store[R, V]{
		info:    kinds[kind],
		strat:   strat,
		log:     logger.Component("datum").WithField("kind", kind.String()),
		entries: make(map[string]*entry[R]),
		subs:    make(map[uint64]*subscriber[V]),
	}
}

// OnArrived 注册记录写入后的回调（在通知订阅者之后执行）
func (s *Store[R, V]) OnArrived(fn func(R)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// DataArrived 写入一条记录并推送给匹配的订阅者；返回是否写入（只追加存储的重复记录返回 false）
func (s *Store[R, V]) DataArrived(rec R) bool {
	key := s.strat.Key(rec)

	s.deliverMu.Lock()
	s.mu.Lock()
	if _, exists := s.entries[key]; exists && s.info.appendOnly {
		s.mu.Unlock()
		s.deliverMu.Unlock()
		s.log.Debugf("重复记录已忽略: %s", key)
		return false
	}
	s.seq++
	s.entries[key] = &entry[R]{rec: rec, seq: s.seq}
	targets := s.matchingLocked(rec)
	hooks := s.hooks
	s.mu.Unlock()

	if len(targets) > 0 {
		view := s.strat.Project(rec)
		for _, sub := range targets {
			sub.fn(view)
		}
	}
	s.deliverMu.Unlock()

	for _, h := range hooks {
		h(rec)
	}
	return true
}

func (s *Store[R, V]) matchingLocked(rec R) []*subscriber[V] {
	var out []*subscriber[V]
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		sub := s.subs[id]
		if s.strat.Match(sub.filter, rec) {
			out = append(out, sub)
		}
	}
	return out
}

// Subscribe 注册订阅者，并同步回放已缓存的匹配记录。返回取消函数。
func (s *Store[R, V]) Subscribe(filter Filter, fn func(V)) (cancel func()) {
	s.deliverMu.Lock()
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = &subscriber[V]{filter: filter, fn: fn}
	replay := s.replayLocked(filter)
	s.mu.Unlock()

	for _, rec := range replay {
		fn(s.strat.Project(rec))
	}
	s.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store[R, V]) replayLocked(filter Filter) []R {
	var matched []*entry[R]
	for _, e := range s.entries {
		if s.strat.Match(filter, e.rec) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	if s.info.replay == ReplayLatest {
		latest := matched[0]
		for _, e := range matched[1:] {
			if e.seq > latest.seq {
				latest = e
			}
		}
		return []R{latest.rec}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if s.strat.Less != nil {
			if s.strat.Less(a.rec, b.rec) {
				return true
			}
			if s.strat.Less(b.rec, a.rec) {
				return false
			}
		}
		return a.seq < b.seq
	})
	out := make([]R, len(matched))
	for i, e := range matched {
		out[i] = e.rec
	}
	return out
}

// Reproject 对满足 pred 的缓存记录重新投影并推送给匹配的订阅者
func (s *Store[R, V]) Reproject(pred func(R) bool) int {
	type delivery struct {
		rec  R
		subs []*subscriber[V]
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.RLock()
	var pending []delivery
	for _, e := range s.entries {
		if pred != nil && !pred(e.rec) {
			continue
		}
		if subs := s.matchingLocked(e.rec); len(subs) > 0 {
			pending = append(pending, delivery{rec: e.rec, subs: subs})
		}
	}
	s.mu.RUnlock()

	for _, d := range pending {
		view := s.strat.Project(d.rec)
		for _, sub := range d.subs {
			sub.fn(view)
		}
	}
	return len(pending)
}

// Project 投影一条记录
func (s *Store[R, V]) Project(rec R) V {
	return s.strat.Project(rec)
}

// Get 按键读取投影
func (s *Store[R, V]) Get(key string) (V, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	return s.strat.Project(e.rec), true
}

// Record 按键读取原始记录
func (s *Store[R, V]) Record(key string) (R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[key]; ok {
		return e.rec, true
	}
	var zero R
	return zero, false
}

// Each 在读锁内遍历原始记录，顺序不固定；fn 不能写入同一个存储
func (s *Store[R, V]) Each(fn func(R)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		fn(e.rec)
	}
}

// Records 返回全部原始记录（按到达顺序）
func (s *Store[R, V]) Records() []R {
	s.mu.RLock()
	list := make([]*entry[R], 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]R, len(list))
	for i, e := range list {
		out[i] = e.rec
	}
	return out
}

// Snapshot 当前全部投影，按键索引
func (s *Store[R, V]) Snapshot() map[string]V {
	s.mu.RLock()
	recs := make(map[string]R, len(s.entries))
	for k, e := range s.entries {
		recs[k] = e.rec
	}
	s.mu.RUnlock()

	out := make(map[string]V, len(recs))
	for k, rec := range recs {
		out[k] = s.strat.Project(rec)
	}
	return out
}

// Len 缓存记录数
func (s *Store[R, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribers 当前订阅者数
func (s *Store[R, V]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
