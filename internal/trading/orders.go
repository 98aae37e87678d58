// Package trading 下单、撤单、批量撤单、改价以及保证金估算
package trading

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradestream/internal/auth"
	"github.com/betbot/tradestream/internal/catalog"
	"github.com/betbot/tradestream/internal/datum"
	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/internal/metrics"
	"github.com/betbot/tradestream/internal/venue"
	"github.com/betbot/tradestream/pkg/logger"
)

// Venue 交易接口
type Venue interface {
	CreateLimitOrder(ctx context.Context, bearer string, req venue.LimitOrderRequest) (string, error)
	CreateMarketOrder(ctx context.Context, bearer string, req venue.MarketOrderRequest) (string, error)
	CancelOrder(ctx context.Context, bearer string, orderID string) error
}

// TokenSource 访问令牌来源
type TokenSource interface {
	EnsureValid(ctx context.Context) (auth.Credential, error)
}

// OrderFilter 批量操作的选择条件，空字段表示不限制
type OrderFilter struct {
	SymbolID string
	Side     domain.Side
}

func (f OrderFilter) match(o domain.OrderRecord) bool {
	if f.SymbolID != "" && f.SymbolID != o.SymbolID {
		return false
	}
	if f.Side != "" && f.Side != o.Side {
		return false
	}
	return true
}

// Orders 订单操作。所有请求之前都会确保令牌有效。
type Orders struct {
	venue   Venue
	tokens  TokenSource
	orders  *datum.OrderStore
	catalog catalog.Lookup
	log     *logrus.Entry
}

func NewOrders(v Venue, tokens TokenSource, orders *datum.OrderStore, lookup catalog.Lookup) *Orders {
	return &Orders{
		venue:   v,
		tokens:  tokens,
		orders:  orders,
		catalog: lookup,
		log:     logger.Component("trading"),
	}
}

func (o *Orders) bearer(ctx context.Context) (string, error) {
	cred, err := o.tokens.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	return cred.Bearer(), nil
}

// PlaceLimitOrder 下限价单：数量按手换算为原始数量，价格按最小变动单位取整后转为 8 位定点
func (o *Orders) PlaceLimitOrder(ctx context.Context, inst domain.Instrument, price decimal.Decimal, lots int64, side domain.Side) (string, error) {
	if lots <= 0 {
		return "", &domain.TradingError{Code: "INVALID_QUANTITY", Message: "下单手数必须大于 0"}
	}
	bearer, err := o.bearer(ctx)
	if err != nil {
		return "", err
	}
	req := venue.LimitOrderRequest{
		SymbolID: inst.SymbolID,
		Side:     side,
		Qty:      lots * inst.LotSize(),
		Price:    domain.ScalePrice(inst.RoundToTick(price)),
	}
	id, err := o.venue.CreateLimitOrder(ctx, bearer, req)
	if err != nil {
		metrics.OrderErrors.Add(1)
		o.log.WithError(err).Warnf("限价单失败: %s %s %d手 @ %s", side, inst.SymbolID, lots, price)
		return "", err
	}
	metrics.OrdersPlaced.Add(1)
	o.log.Infof("限价单已提交: %s %s %d手 @ %s id=%s", side, inst.SymbolID, lots, inst.RoundToTick(price), id)
	return id, nil
}

// PlaceMarketOrder 下市价单
func (o *Orders) PlaceMarketOrder(ctx context.Context, inst domain.Instrument, lots int64, side domain.Side) (string, error) {
	if lots <= 0 {
		return "", &domain.TradingError{Code: "INVALID_QUANTITY", Message: "下单手数必须大于 0"}
	}
	bearer, err := o.bearer(ctx)
	if err != nil {
		return "", err
	}
	id, err := o.venue.CreateMarketOrder(ctx, bearer, venue.MarketOrderRequest{
		SymbolID: inst.SymbolID,
		Side:     side,
		Qty:      lots * inst.LotSize(),
	})
	if err != nil {
		metrics.OrderErrors.Add(1)
		o.log.WithError(err).Warnf("市价单失败: %s %s %d手", side, inst.SymbolID, lots)
		return "", err
	}
	metrics.OrdersPlaced.Add(1)
	o.log.Infof("市价单已提交: %s %s %d手 id=%s", side, inst.SymbolID, lots, id)
	return id, nil
}

// CancelLimitOrder 撤销限价单；非限价单直接返回
func (o *Orders) CancelLimitOrder(ctx context.Context, order domain.OrderRecord) error {
	if !order.IsLimit() {
		return nil
	}
	bearer, err := o.bearer(ctx)
	if err != nil {
		return err
	}
	if err := o.venue.CancelOrder(ctx, bearer, order.OrderID); err != nil {
		metrics.OrderErrors.Add(1)
		o.log.WithError(err).Warnf("撤单失败: %s", order.OrderID)
		return err
	}
	metrics.OrdersCanceled.Add(1)
	o.log.Infof("已撤单: %s", order.OrderID)
	o.markCanceled(order)
	return nil
}

// markCanceled 交易所接受撤单后在本地写入撤销状态；推送已经给出终态时不覆盖
func (o *Orders) markCanceled(order domain.OrderRecord) {
	if cur, ok := o.orders.Record(order.OrderID); ok {
		if !cur.IsWorking() {
			return
		}
		order = cur
	}
	order.Status = "CANCELED"
	if order.Filled > 0 {
		order.Status = "PART_CANCELED"
	}
	o.orders.DataArrived(order)
}

// WorkingOrders 当前挂单中满足条件的订单（按到达顺序）
func (o *Orders) WorkingOrders(filter OrderFilter) []domain.OrderRecord {
	var out []domain.OrderRecord
	for _, rec := range o.orders.Records() {
		if rec.IsWorking() && filter.match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// CancelAllLimitOrders 依次撤销满足条件的挂单，遇到错误即停止。返回成功撤销的数量。
func (o *Orders) CancelAllLimitOrders(ctx context.Context, filter OrderFilter) (int, error) {
	canceled := 0
	for _, rec := range o.WorkingOrders(filter) {
		if !rec.IsLimit() {
			continue
		}
		if err := o.CancelLimitOrder(ctx, rec); err != nil {
			return canceled, err
		}
		canceled++
	}
	return canceled, nil
}

// ModifyLimitOrders 对满足条件的挂单改价：新价格 = 原价格 + priceShift * 最小变动单位。
// 先撤单再按未成交部分重新下单，不是原子操作：撤单成功而重新下单失败时订单在本地为已撤销状态。
// 返回成功改价的数量。
func (o *Orders) ModifyLimitOrders(ctx context.Context, filter OrderFilter, priceShift int64) (int, error) {
	if filter.Side == "" {
		return 0, errors.New("改价必须指定方向")
	}
	modified := 0
	for _, rec := range o.WorkingOrders(filter) {
		if !rec.IsLimit() {
			continue
		}
		inst, ok := o.catalog.Instrument(rec.SymbolID)
		if !ok {
			return modified, &domain.TradingError{Code: "UNKNOWN_INSTRUMENT", Message: "未知品种: " + rec.SymbolID}
		}
		newPrice := domain.UnscalePrice(rec.Price).Add(inst.MinPriceIncrement.Mul(decimal.NewFromInt(priceShift)))
		lots := rec.Remaining() / inst.LotSize()

		if err := o.CancelLimitOrder(ctx, rec); err != nil {
			return modified, err
		}
		if lots <= 0 {
			continue
		}
		if _, err := o.PlaceLimitOrder(ctx, inst, newPrice, lots, rec.Side); err != nil {
			o.log.WithError(err).Errorf("改价重新下单失败，原订单 %s 已撤销", rec.OrderID)
			var tradingErr *domain.TradingError
			if errors.As(err, &tradingErr) {
				return modified, tradingErr
			}
			return modified, &domain.TradingError{Code: "REPLACE_FAILED", Message: err.Error()}
		}
		modified++
	}
	return modified, nil
}
