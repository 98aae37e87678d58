package domain

import (
	"github.com/shopspring/decimal"
)

// PriceScale 线上价格/盈亏字段使用 8 位小数定点整数
const PriceScale int64 = 100000000

var priceScaleDec = decimal.NewFromInt(PriceScale)

// Instrument 交易品种（由外部目录维护，这里只做只读引用）
type Instrument struct {
	SymbolID          string          `json:"symbolId" yaml:"symbol_id"`  // 交易所品种 ID
	Symbol            string          `json:"symbol" yaml:"symbol"`       // 代码
	Lot               int64           `json:"lot" yaml:"lot"`             // 每手数量
	MinPriceIncrement decimal.Decimal `json:"minPriceIncrement" yaml:"-"` // 最小价格变动单位
	Currency          string          `json:"currency" yaml:"currency"`
	Exchange          string          `json:"exchange" yaml:"exchange"`
}

// LotSize 返回每手数量，未配置时按 1 处理
func (i Instrument) LotSize() int64 {
	if i.Lot <= 0 {
		return 1
	}
	return i.Lot
}

// RoundToTick 把价格四舍五入到最小变动单位
func (i Instrument) RoundToTick(price decimal.Decimal) decimal.Decimal {
	if !i.MinPriceIncrement.IsPositive() {
		return price
	}
	return price.Div(i.MinPriceIncrement).Round(0).Mul(i.MinPriceIncrement)
}

// ScalePrice 转换为 8 位定点整数
func ScalePrice(price decimal.Decimal) int64 {
	return price.Mul(priceScaleDec).Round(0).IntPart()
}

// UnscalePrice 从 8 位定点整数还原
func UnscalePrice(raw int64) decimal.Decimal {
	return decimal.NewFromInt(raw).Div(priceScaleDec)
}
