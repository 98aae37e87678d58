// Package client 对外的会话客户端：组装令牌管理、推送连接、数据存储与订单操作
package client

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradestream/internal/auth"
	"github.com/betbot/tradestream/internal/catalog"
	"github.com/betbot/tradestream/internal/datum"
	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/internal/metrics"
	"github.com/betbot/tradestream/internal/session"
	"github.com/betbot/tradestream/internal/trading"
	"github.com/betbot/tradestream/internal/venue"
	"github.com/betbot/tradestream/pkg/config"
	"github.com/betbot/tradestream/pkg/logger"
)

// Deps 外部协作方
type Deps struct {
	Forwarder venue.Forwarder  // HTTP 转发代理
	Secrets   auth.SecretStore // 令牌与登录凭证存储
}

// Client 单会话客户端
type Client struct {
	registry  *catalog.Registry
	orders    *datum.OrderStore
	positions *datum.PositionStore
	timeline  *datum.TimelineStore

	tokens    *auth.Manager
	conn      *session.Connection
	ops       *trading.Orders
	estimator *trading.Estimator
}

func New(cfg *config.Config, deps Deps) *Client {
	registry := catalog.NewRegistry(cfg.Instruments...)
	c := &Client{
		registry:  registry,
		orders:    datum.NewOrderStore(registry),
		positions: datum.NewPositionStore(registry, cfg.BalanceDebounce),
		timeline:  datum.NewTimelineStore(registry, cfg.CommissionRate),
	}

	api := venue.NewClient(deps.Forwarder, venue.Config{
		AuthURL:  cfg.Endpoints.AuthURL,
		TradeURL: cfg.Endpoints.TradeURL,
	})
	c.tokens = auth.NewManager(api, deps.Secrets, auth.Options{
		SessionID:  cfg.SessionID,
		Login:      cfg.Login,
		Password:   cfg.Password,
		RetryDelay: cfg.TokenRetryDelay,
	})
	c.conn = session.NewConnection(session.Options{
		URL:               cfg.Endpoints.StreamURL,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HandshakeTimeout:  cfg.HandshakeTimeout,
	}, c.tokens, session.Sinks{
		Orders:    c.orders,
		Positions: c.positions,
		Timeline:  c.timeline,
	})
	c.ops = trading.NewOrders(api, c.tokens, c.orders, registry)
	c.estimator = trading.NewEstimator(c.conn, c.positions, cfg.CommissionRate)

	// 品种信息晚于数据到达时，重新投影该品种的记录
	registry.OnObserve(func(inst domain.Instrument) {
		c.orders.Reproject(func(o domain.OrderRecord) bool { return o.SymbolID == inst.SymbolID })
		c.positions.Reproject(func(p domain.PositionRecord) bool { return !p.IsBalance && p.SymbolID == inst.SymbolID })
	})
	return c
}

// Start 打开推送连接
func (c *Client) Start(ctx context.Context) error {
	logger.Component("client").Info("启动会话")
	return c.conn.Connect(ctx, false)
}

// Close 关闭连接并释放资源
func (c *Client) Close() error {
	err := c.conn.Close()
	c.tokens.Close()
	c.positions.Close()
	return err
}

// State 连接状态
func (c *Client) State() session.State { return c.conn.State() }

// Errors 终止性错误
func (c *Client) Errors() <-chan error { return c.conn.Errors() }

// Estimates 保证金更新通知（收到后可重新调用 Estimate）
func (c *Client) Estimates() <-chan struct{} { return c.conn.Estimates() }

// Instruments 品种目录（外部可通过 Observe 补充品种）
func (c *Client) Instruments() *catalog.Registry { return c.registry }

func (c *Client) SubscribeOrders(filter datum.Filter, fn func(datum.OrderView)) func() {
	return c.orders.Subscribe(filter, fn)
}

func (c *Client) SubscribePositions(filter datum.Filter, fn func(datum.PositionView)) func() {
	return c.positions.Subscribe(filter, fn)
}

func (c *Client) SubscribeTimeline(filter datum.Filter, fn func(datum.TradeView)) func() {
	return c.timeline.Subscribe(filter, fn)
}

func (c *Client) Orders() map[string]datum.OrderView       { return c.orders.Snapshot() }
func (c *Client) Positions() map[string]datum.PositionView { return c.positions.Snapshot() }
func (c *Client) Timeline() map[string]datum.TradeView     { return c.timeline.Snapshot() }

func (c *Client) PlaceLimitOrder(ctx context.Context, inst domain.Instrument, price decimal.Decimal, lots int64, side domain.Side) (string, error) {
	return c.ops.PlaceLimitOrder(ctx, inst, price, lots, side)
}

func (c *Client) PlaceMarketOrder(ctx context.Context, inst domain.Instrument, lots int64, side domain.Side) (string, error) {
	return c.ops.PlaceMarketOrder(ctx, inst, lots, side)
}

func (c *Client) CancelLimitOrder(ctx context.Context, order domain.OrderRecord) error {
	return c.ops.CancelLimitOrder(ctx, order)
}

func (c *Client) CancelAllLimitOrders(ctx context.Context, filter trading.OrderFilter) (int, error) {
	return c.ops.CancelAllLimitOrders(ctx, filter)
}

func (c *Client) ModifyLimitOrders(ctx context.Context, filter trading.OrderFilter, priceShift int64) (int, error) {
	return c.ops.ModifyLimitOrders(ctx, filter, priceShift)
}

func (c *Client) Estimate(inst domain.Instrument, price decimal.Decimal, lots int64) trading.Estimate {
	return c.estimator.Estimate(inst, price, lots)
}

// DebugViews 调试服务使用的快照
func (c *Client) DebugViews() map[string]metrics.View {
	return map[string]metrics.View{
		"session": func() any {
			emitted, coalesced := c.conn.EstimateSignals()
			return map[string]any{
				"state":              c.conn.State().String(),
				"marginBuyingPower":  c.conn.MarginBuyingPower(),
				"marginSellingPower": c.conn.MarginSellingPower(),
				"estimateSignals":    emitted,
				"estimateCoalesced":  coalesced,
				"instruments":        c.registry.Len(),
			}
		},
		"balance": func() any {
			pending, last := c.positions.BalanceStatus()
			return map[string]any{
				"pending":       pending,
				"lastProjected": last,
			}
		},
		"instruments": func() any { return c.registry.All() },
		"orders":      func() any { return c.Orders() },
		"positions":   func() any { return c.Positions() },
		"timeline":    func() any { return c.Timeline() },
	}
}
