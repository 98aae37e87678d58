// Package session 维护与券商推送服务的单一长连接：连接状态机、心跳、断线重连与重新订阅、按订阅 ID 分发数据
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/betbot/tradestream/internal/auth"
	"github.com/betbot/tradestream/internal/datum"
	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/internal/metrics"
	"github.com/betbot/tradestream/internal/tracing"
	"github.com/betbot/tradestream/pkg/logger"
	"github.com/betbot/tradestream/pkg/sigchan"
)

// 默认值与下限
const (
	DefaultReconnectDelay    = 1000 * time.Millisecond
	MinReconnectDelay        = 1000 * time.Millisecond
	DefaultHeartbeatInterval = 2000 * time.Millisecond
	DefaultHandshakeTimeout  = 15 * time.Second
)

// ErrClosed 连接已被 Close 关闭
var ErrClosed = errors.New("session: connection closed")

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// TokenSource 访问令牌来源
type TokenSource interface {
	EnsureValid(ctx context.Context) (auth.Credential, error)
	Invalidate()
}

// Sinks 推送数据的去向
type Sinks struct {
	Orders    *datum.OrderStore
	Positions *datum.PositionStore
	Timeline  *datum.TimelineStore
}

// Options 连接配置
type Options struct {
	URL               string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
}

// transport 一次底层连接；订阅在每个连接上最多发送一次
type transport struct {
	ws         *websocket.Conn
	writeMu    sync.Mutex
	subscribed atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
}

func newTransport(ws *websocket.Conn) *transport {
	return &transport{ws: ws, done: make(chan struct{})}
}

func (t *transport) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.ws.Close()
	})
}

// Connection 会话连接
type Connection struct {
	opts   Options
	tokens TokenSource
	sinks  Sinks
	dialer *websocket.Dialer
	log    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state atomic.Int32
	group singleflight.Group

	mu           sync.RWMutex
	current      *transport
	everOpened   bool
	buyingPower  float64
	sellingPower float64

	estimate *sigchan.Chan
	errs     chan error
}

func NewConnection(opts Options, tokens TokenSource, sinks Sinks) *Connection {
	if opts.ReconnectDelay < MinReconnectDelay {
		opts.ReconnectDelay = MinReconnectDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		opts:     opts,
		tokens:   tokens,
		sinks:    sinks,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		log:      logger.Component("session"),
		ctx:      ctx,
		cancel:   cancel,
		estimate: sigchan.New(1),
		errs:     make(chan error, 1),
	}
}

// State 当前状态
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.log.Debugf("状态变更: %s -> %s", old, s)
	}
}

// Errors 终止性错误（认证失败/账户封禁）；收到后连接不再自动重连
func (c *Connection) Errors() <-chan error {
	return c.errs
}

// Estimates 保证金数据更新通知
func (c *Connection) Estimates() <-chan struct{} {
	return c.estimate.C()
}

// EstimateSignals 保证金通知累计次数与被合并次数
func (c *Connection) EstimateSignals() (emitted, coalesced int64) {
	return c.estimate.Emitted(), c.estimate.Coalesced()
}

// MarginBuyingPower 最近一次推送的可用买入保证金
func (c *Connection) MarginBuyingPower() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buyingPower
}

// MarginSellingPower 最近一次推送的可用卖出保证金
func (c *Connection) MarginSellingPower() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sellingPower
}

// Connect 确保连接已打开：
// - 先确保令牌有效；
// - 已打开且 force 为 false 时直接返回；
// - 并发调用共享同一次连接尝试。
func (c *Connection) Connect(ctx context.Context, force bool) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if _, err := c.tokens.EnsureValid(ctx); err != nil {
		return err
	}
	if !force && c.openTransport() != nil {
		return nil
	}

	ch := c.group.DoChan("connect", func() (interface{}, error) {
		return c.dial(c.ctx)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *Connection) openTransport() *transport {
	if c.State() != StateOpen {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Connection) dial(ctx context.Context) (*transport, error) {
	c.setState(StateConnecting)

	cred, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Bearer())
	ws, _, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		c.setState(StateDisconnected)
		return nil, errors.Wrap(err, "连接推送服务失败")
	}

	t := newTransport(ws)
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		t.close()
		return nil, ErrClosed
	}
	old := c.current
	c.current = t
	reconnect := c.everOpened
	c.everOpened = true
	c.setState(StateOpen)
	c.wg.Add(2)
	c.mu.Unlock()
	if old != nil {
		old.close()
	}
	metrics.StreamConnects.Add(1)

	go func() {
		defer c.wg.Done()
		c.readLoop(t)
	}()
	go func() {
		defer c.wg.Done()
		c.heartbeat(t)
	}()

	if reconnect {
		c.subscribe(t)
	}
	c.send(t, outFrame{T: TagHandshake, D: struct{}{}})

	c.log.Infof("推送连接已建立 (重连=%v)", reconnect)
	return t, nil
}

// send 发送一帧；连接不是当前打开的连接时静默跳过
func (c *Connection) send(t *transport, frame outFrame) {
	if c.openTransport() != t {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.WithError(err).Errorf("编码帧失败: t=%d", frame.T)
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		// 写失败与断线走同一恢复路径：关闭底层连接，由读循环触发重连
		c.log.WithError(err).Warn("发送失败，关闭连接")
		_ = t.ws.Close()
	}
}

// subscribe 发送全部订阅（每个连接最多一次），每条订阅前确保令牌有效
func (c *Connection) subscribe(t *transport) {
	if !t.subscribed.CompareAndSwap(false, true) {
		return
	}
	for _, sub := range Subscriptions {
		cred, err := c.tokens.EnsureValid(c.ctx)
		if err != nil {
			c.log.WithError(err).Warnf("订阅 %s 前获取令牌失败", sub.Topic)
			if domain.IsTerminal(err) {
				c.report(err)
			}
			return
		}
		ids := tracing.NewPair()
		c.send(t, outFrame{T: TagSubscribe, D: subscribeRequest{
			Subscription: sub,
			Token:        cred.Bearer(),
			TraceID:      ids.TraceID,
			SpanID:       ids.SpanID,
		}})
		metrics.SubscriptionSends.Add(1)
	}
	c.log.Debugf("已发送 %d 个订阅", len(Subscriptions))
}

func (c *Connection) heartbeat(t *transport) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if c.State() == StateOpen {
				c.send(t, outFrame{T: TagHeartbeat, D: struct{}{}})
			}
		}
	}
}

func (c *Connection) readLoop(t *transport) {
	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			c.onClose(t, err)
			return
		}
		metrics.StreamFrames.Add(1)
		c.handleFrame(t, data)
	}
}

// onClose 连接断开：停止心跳，延迟后失效令牌并强制重连
func (c *Connection) onClose(t *transport, cause error) {
	t.close()

	c.mu.Lock()
	if c.current != t || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.setState(StateDisconnected)
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.WithError(cause).Warnf("推送连接断开，%v 后重连", c.opts.ReconnectDelay)
	go func() {
		defer c.wg.Done()
		c.reconnectLoop()
	}()
}

func (c *Connection) reconnectLoop() {
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if c.openTransport() != nil {
			c.log.Info("连接已由其他调用恢复，跳过重连")
			return
		}

		metrics.StreamReconnects.Add(1)
		c.tokens.Invalidate()
		err := c.Connect(c.ctx, true)
		if err == nil {
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		if domain.IsTerminal(err) {
			c.log.WithError(err).Error("认证失败，停止重连")
			c.setState(StateDisconnected)
			c.report(err)
			return
		}
		c.log.WithError(err).Warnf("重连失败 (第 %d 次)，%v 后重试", attempt, c.opts.ReconnectDelay)
	}
}

func (c *Connection) report(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// Close 关闭连接并停止重连
func (c *Connection) Close() error {
	if c.ctx.Err() != nil {
		return nil
	}
	c.setState(StateClosing)
	c.cancel()

	c.mu.Lock()
	t := c.current
	c.current = nil
	c.mu.Unlock()
	if t != nil {
		t.writeMu.Lock()
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.close()
	}

	c.wg.Wait()
	c.setState(StateDisconnected)
	c.log.Info("推送连接已关闭")
	return nil
}
