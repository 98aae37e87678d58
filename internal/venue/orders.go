package venue

import (
	"context"

	"github.com/betbot/tradestream/internal/domain"
)

// LimitOrderRequest 限价单（Qty 为原始数量，Price 为 8 位定点）
type LimitOrderRequest struct {
	SymbolID string      `json:"symbolId"`
	Side     domain.Side `json:"side"`
	Qty      int64       `json:"qty"`
	Price    int64       `json:"price"`
}

// MarketOrderRequest 市价单
type MarketOrderRequest struct {
	SymbolID string      `json:"symbolId"`
	Side     domain.Side `json:"side"`
	Qty      int64       `json:"qty"`
}

// CreateLimitOrder 下限价单，返回交易所订单 ID
func (c *Client) CreateLimitOrder(ctx context.Context, bearer string, req LimitOrderRequest) (string, error) {
	return c.placeOrder(ctx, c.tradeURL+EndpointLimitOrder, bearer, req)
}

// CreateMarketOrder 下市价单，返回交易所订单 ID
func (c *Client) CreateMarketOrder(ctx context.Context, bearer string, req MarketOrderRequest) (string, error) {
	return c.placeOrder(ctx, c.tradeURL+EndpointMarketOrder, bearer, req)
}

// CancelOrder 按订单 ID 撤单
func (c *Client) CancelOrder(ctx context.Context, bearer string, orderID string) error {
	_, err := c.tradingCall(ctx, c.tradeURL+EndpointCancelOrder, bearer, map[string]string{"orderId": orderID})
	return err
}

func (c *Client) placeOrder(ctx context.Context, url, bearer string, body any) (string, error) {
	env, err := c.tradingCall(ctx, url, bearer, body)
	if err != nil {
		return "", err
	}
	return env.OrderID, nil
}

// tradingCall 交易类请求：任何非成功响应都转换为 TradingError，不做重试
func (c *Client) tradingCall(ctx context.Context, url, bearer string, body any) (*envelope, error) {
	resp, err := c.post(ctx, url, bearer, body)
	if err != nil {
		return nil, &domain.TradingError{Code: "TRANSPORT", Message: err.Error()}
	}
	var env envelope
	decodeErr := resp.Decode(&env)
	if !resp.IsSuccess() || decodeErr != nil || !env.Success {
		code, message, details := describe(resp, &env)
		return nil, &domain.TradingError{Code: code, Message: message, Details: details}
	}
	return &env, nil
}
