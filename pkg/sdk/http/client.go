// Package http 提供经由转发代理发出外部 HTTP 请求的客户端
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// ForwardRequest 交给转发代理的请求信封
type ForwardRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// ForwardResponse 代理返回的响应信封
type ForwardResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IsSuccess 目标服务是否返回 2xx
func (r *ForwardResponse) IsSuccess() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Decode 解析目标服务的响应体
func (r *ForwardResponse) Decode(out any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("empty forwarded body")
	}
	return errors.Wrap(json.Unmarshal(r.Body, out), "decode forwarded body")
}

type Client struct {
	client   *resty.Client
	endpoint string
}

// NewClient proxyURL 为转发代理的完整地址（例如 http://127.0.0.1:8088/forward）
// 下单类请求不可重放，因此这里不开启 resty 的自动重试。
func NewClient(proxyURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)

	return &Client{client: client, endpoint: strings.TrimSpace(proxyURL)}
}

// 仅设置本次请求的默认 Header
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("User-Agent", "tradestream-session")
	// 代理可能不带 Content-Type，统一按 JSON 解析
	r.ForceContentType("application/json")
	return r
}

// Forward 把请求信封 POST 给代理，返回目标服务的状态码和响应体。
// 只有代理本身不可达或返回非 2xx 时才返回 error；目标服务的非 2xx 由调用方判断。
func (c *Client) Forward(ctx context.Context, req ForwardRequest) (*ForwardResponse, error) {
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	var out ForwardResponse
	resp, err := c.newRequest(ctx).
		SetBody(req).
		SetResult(&out).
		Post(c.endpoint)
	if _, perr := ParseHTTPError(resp, err); perr != nil {
		return nil, errors.Wrapf(perr, "forward %s %s", req.Method, req.URL)
	}
	return &out, nil
}

func ParseHTTPError(resp *resty.Response, err error) (any, error) {
	if err != nil {
		return map[string]any{"error": err.Error()}, err
	}
	if resp.IsSuccess() {
		return resp, nil
	}
	var body any
	b := resp.Body()
	_ = json.Unmarshal(b, &body)
	if body == nil {
		body = string(b)
	}
	return map[string]any{
		"status":      resp.StatusCode(),
		"status_text": resp.Status(),
		"error":       body,
	}, errors.Errorf("http non-2xx: %s", fmt.Sprint(body))
}
