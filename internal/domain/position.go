package domain

// PositionRecord 持仓推送记录：证券持仓或货币余额，由 IsBalance 区分。
// 证券持仓按 SymbolID 去重，余额按 Currency 去重。
type PositionRecord struct {
	IsBalance bool `json:"isBalance"`

	SymbolID            string `json:"symbolId,omitempty"`
	Qty                 int64  `json:"qty,omitempty"`
	AverageInitialPrice int64  `json:"averageInitialPrice,omitempty"` // 8 位定点
	NetRealizedPnl      int64  `json:"netRealizedPnl,omitempty"`      // 8 位定点

	Currency string  `json:"currency,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
}

// Key 返回去重键
func (p PositionRecord) Key() string {
	if p.IsBalance {
		return p.Currency
	}
	return p.SymbolID
}

// IsLong 多头持仓
func (p PositionRecord) IsLong() bool {
	return !p.IsBalance && p.Qty > 0
}

// IsShort 空头持仓
func (p PositionRecord) IsShort() bool {
	return !p.IsBalance && p.Qty < 0
}
