package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AuthorizationError 凭证无效或会话不存在（终止性错误，已清除持久化令牌）
type AuthorizationError struct {
	Code    string
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("授权失败 [%s]: %s", e.Code, e.Message)
}

// BlockError 账户被临时封禁（终止性错误）
type BlockError struct {
	Message string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("账户已被封禁: %s", e.Message)
}

// TradingError 下单/撤单失败，携带交易所返回的详情
type TradingError struct {
	Code    string
	Message string
	Details json.RawMessage
}

func (e *TradingError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("交易失败: %s", e.Message)
	}
	return fmt.Sprintf("交易失败 [%s]: %s", e.Code, e.Message)
}

// IsTerminal 是否为不可重试的认证类错误
func IsTerminal(err error) bool {
	var authErr *AuthorizationError
	var blockErr *BlockError
	return errors.As(err, &authErr) || errors.As(err, &blockErr)
}

// rejection 已知拒单原因
type rejection struct {
	markers []string
	message string
}

var knownRejections = []rejection{
	{markers: []string{"low_liquidity", "low liquidity", "insufficient liquidity"}, message: "流动性不足，订单无法成交"},
	{markers: []string{"insufficient_buying_power", "insufficient buying power", "not_enough_money", "not enough money"}, message: "可用资金不足"},
	{markers: []string{"market_closed", "market closed", "trading is closed"}, message: "市场已休市"},
}

// UserMessage 把错误映射为面向用户的提示
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var blockErr *BlockError
	if errors.As(err, &blockErr) {
		return "账户已被临时封禁，请稍后再试"
	}
	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return "登录已失效，请重新登录"
	}
	var tradingErr *TradingError
	if errors.As(err, &tradingErr) {
		haystack := strings.ToLower(tradingErr.Code + " " + tradingErr.Message + " " + string(tradingErr.Details))
		for _, r := range knownRejections {
			for _, m := range r.markers {
				if strings.Contains(haystack, m) {
					return r.message
				}
			}
		}
		return "订单被拒绝: " + tradingErr.Message
	}
	return "未知错误: " + errors.Cause(err).Error()
}
