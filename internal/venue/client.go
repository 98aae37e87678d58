// Package venue 封装券商 REST 接口（认证、下单、撤单），所有请求经由转发代理发出
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/betbot/tradestream/internal/tracing"
	sdkhttp "github.com/betbot/tradestream/pkg/sdk/http"
)

// 接口路径
const (
	EndpointLogin       = "/auth/login"
	EndpointRefresh     = "/auth/refresh"
	EndpointCancelOrder = "/orders/cancel"
	EndpointLimitOrder  = "/orders/limit"
	EndpointMarketOrder = "/orders/market"
)

const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// Forwarder 转发代理（外部协作方）
type Forwarder interface {
	Forward(ctx context.Context, req sdkhttp.ForwardRequest) (*sdkhttp.ForwardResponse, error)
}

// Config 接口地址
type Config struct {
	AuthURL  string
	TradeURL string
}

// Client 券商 REST 客户端
type Client struct {
	fwd      Forwarder
	authURL  string
	tradeURL string
}

func NewClient(fwd Forwarder, cfg Config) *Client {
	return &Client{
		fwd:      fwd,
		authURL:  strings.TrimSuffix(cfg.AuthURL, "/"),
		tradeURL: strings.TrimSuffix(cfg.TradeURL, "/"),
	}
}

// apiError 交易所/认证服务返回的错误结构
type apiError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// envelope 通用响应体
type envelope struct {
	Success bool      `json:"success"`
	OrderID string    `json:"orderId,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, url string, bearer string, body any) (*sdkhttp.ForwardResponse, error) {
	headers := tracing.NewPair().Headers()
	if bearer != "" {
		headers[headerAuthorization] = bearerPrefix + bearer
	}
	resp, err := c.fwd.Forward(ctx, sdkhttp.ForwardRequest{
		Method:  http.MethodPost,
		URL:     url,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.Errorf("empty response from %s", url)
	}
	return resp, nil
}

func describe(resp *sdkhttp.ForwardResponse, env *envelope) (code, message string, details json.RawMessage) {
	details = resp.Body
	if env != nil && env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
		if len(env.Error.Details) > 0 {
			details = env.Error.Details
		}
	}
	if message == "" {
		message = fmt.Sprintf("status %d", resp.Status)
	}
	return code, message, details
}
