package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// TokenPair 认证服务签发的访问/刷新令牌
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresAt  int64  `json:"accessExpiresAt"`  // Unix 毫秒
	RefreshExpiresAt int64  `json:"refreshExpiresAt"` // Unix 毫秒
}

// AccessExpiry 访问令牌过期时间
func (p TokenPair) AccessExpiry() time.Time { return time.UnixMilli(p.AccessExpiresAt) }

// RefreshExpiry 刷新令牌过期时间
func (p TokenPair) RefreshExpiry() time.Time { return time.UnixMilli(p.RefreshExpiresAt) }

// RejectionError 认证服务明确拒绝（带错误码），由上层归类为终止或可重试
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("认证服务拒绝 [%s]: %s", e.Code, e.Message)
}

type tokenResponse struct {
	TokenPair
	Error *apiError `json:"error,omitempty"`
}

// Login 账号密码完整认证（第一因子）
func (c *Client) Login(ctx context.Context, login, password string) (*TokenPair, error) {
	return c.token(ctx, c.authURL+EndpointLogin, map[string]string{
		"login":    login,
		"password": password,
	})
}

// Refresh 用刷新令牌换取新的令牌对
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return c.token(ctx, c.authURL+EndpointRefresh, map[string]string{
		"refreshToken": refreshToken,
	})
}

func (c *Client) token(ctx context.Context, url string, body any) (*TokenPair, error) {
	resp, err := c.post(ctx, url, "", body)
	if err != nil {
		return nil, err
	}
	var out tokenResponse
	decodeErr := resp.Decode(&out)
	if out.Error != nil && out.Error.Code != "" {
		return nil, &RejectionError{Code: out.Error.Code, Message: out.Error.Message}
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("认证服务返回状态 %d", resp.Status)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if out.AccessToken == "" {
		return nil, errors.New("认证响应缺少 accessToken")
	}
	return &out.TokenPair, nil
}
