package datum

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradestream/internal/catalog"
	"github.com/betbot/tradestream/internal/domain"
)

// DefaultCommissionRate 默认手续费率（百分比）
const DefaultCommissionRate = 0.04

var hundred = decimal.NewFromInt(100)

// Commission 手续费 = 价格 * 数量 * 每手数量 * 费率 / 100
func Commission(price decimal.Decimal, qty, lot int64, rate float64) decimal.Decimal {
	return price.
		Mul(decimal.NewFromInt(qty)).
		Mul(decimal.NewFromInt(lot)).
		Mul(decimal.NewFromFloat(rate)).
		Div(hundred)
}

// TradeView 成交投影
type TradeView struct {
	domain.TradeRecord
	Symbol     string          `json:"symbol,omitempty"`
	PriceValue decimal.Decimal `json:"priceValue"`
	Lots       int64           `json:"lots"`
	Commission decimal.Decimal `json:"commission"`
	Time       time.Time       `json:"time"`
}

// TimelineStore 成交时间线（只追加，组合键去重）
type TimelineStore = Store[domain.TradeRecord, TradeView]

func NewTimelineStore(lookup catalog.Lookup, rate float64) *TimelineStore {
	return NewStore(KindTimeline, Strategy[domain.TradeRecord, TradeView]{
		Key: domain.TradeRecord.Key,
		Match: func(f Filter, t domain.TradeRecord) bool {
			return f.SymbolID == "" || f.SymbolID == t.SymbolID
		},
		Less: func(a, b domain.TradeRecord) bool { return a.Moment < b.Moment },
		Project: func(t domain.TradeRecord) TradeView {
			inst, _ := lookup.Instrument(t.SymbolID)
			lot := inst.LotSize()
			price := domain.UnscalePrice(t.Price)
			return TradeView{
				TradeRecord: t,
				Symbol:      inst.Symbol,
				PriceValue:  price,
				Lots:        t.Qty / lot,
				Commission:  Commission(price, t.Qty, lot, rate),
				Time:        t.Time(),
			}
		},
	})
}
