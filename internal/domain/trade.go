package domain

import (
	"fmt"
	"time"
)

// TradeRecord 成交记录（只追加，不修改）
// 同一订单可能产生多笔成交且没有独立的成交 ID，因此用组合键去重。
type TradeRecord struct {
	OrderID  string `json:"orderId"`
	SymbolID string `json:"symbolId"`
	Moment   int64  `json:"moment"` // Unix 毫秒
	Side     Side   `json:"side"`
	Qty      int64  `json:"qty"`
	Price    int64  `json:"price"` // 8 位定点
}

// Key 组合去重键 (orderId, moment, side, qty, price)
func (t TradeRecord) Key() string {
	return fmt.Sprintf("%s|%d|%s|%d|%d", t.OrderID, t.Moment, t.Side, t.Qty, t.Price)
}

// Time 成交时间
func (t TradeRecord) Time() time.Time {
	return time.UnixMilli(t.Moment)
}
