package trading

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/tradestream/internal/datum"
	"github.com/betbot/tradestream/internal/domain"
)

// MarginSource 最近一次推送的保证金
type MarginSource interface {
	MarginBuyingPower() float64
}

// Estimate 可买/可卖手数及手续费
type Estimate struct {
	BuyLots    int64           `json:"buyLots"`
	SellLots   int64           `json:"sellLots"`
	Commission decimal.Decimal `json:"commission"`
}

// Estimator 保证金估算
type Estimator struct {
	margin    MarginSource
	positions *datum.PositionStore
	rate      float64
}

func NewEstimator(margin MarginSource, positions *datum.PositionStore, commissionRate float64) *Estimator {
	return &Estimator{margin: margin, positions: positions, rate: commissionRate}
}

// Estimate 两个方向都从 floor(可用保证金 / (价格 * 每手数量)) 开始；
// 多头持仓增加可卖手数，空头持仓（负数量）减少可买手数。
func (e *Estimator) Estimate(inst domain.Instrument, price decimal.Decimal, lots int64) Estimate {
	lot := inst.LotSize()
	var base int64
	perLot := price.Mul(decimal.NewFromInt(lot))
	if perLot.IsPositive() {
		base = decimal.NewFromFloat(e.margin.MarginBuyingPower()).Div(perLot).Floor().IntPart()
	}

	out := Estimate{
		BuyLots:    base,
		SellLots:   base,
		Commission: datum.Commission(price, lots, lot, e.rate),
	}
	if pos, ok := e.positions.Position(inst.SymbolID); ok {
		held := pos.Qty / lot
		switch {
		case pos.IsLong():
			out.SellLots += held
		case pos.IsShort():
			out.BuyLots += held
		}
	}
	return out
}
