package datum

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/tradestream/internal/catalog"
	"github.com/betbot/tradestream/internal/domain"
)

// OrderView 订单投影
type OrderView struct {
	domain.OrderRecord
	Resolved   domain.OrderStatus `json:"resolvedStatus"`
	Symbol     string             `json:"symbol,omitempty"`
	PriceValue decimal.Decimal    `json:"priceValue"`
	Lots       int64              `json:"lots"`
	FilledLots int64              `json:"filledLots"`
}

// OrderStore 订单存储（按 OrderID 幂等覆盖）
type OrderStore = Store[domain.OrderRecord, OrderView]

func NewOrderStore(lookup catalog.Lookup) *OrderStore {
	return NewStore(KindOrders, Strategy[domain.OrderRecord, OrderView]{
		Key: func(o domain.OrderRecord) string { return o.OrderID },
		Match: func(f Filter, o domain.OrderRecord) bool {
			return f.SymbolID == "" || f.SymbolID == o.SymbolID
		},
		Project: func(o domain.OrderRecord) OrderView {
			inst, _ := lookup.Instrument(o.SymbolID)
			lot := inst.LotSize()
			return OrderView{
				OrderRecord: o,
				Resolved:    o.ResolvedStatus(),
				Symbol:      inst.Symbol,
				PriceValue:  domain.UnscalePrice(o.Price),
				Lots:        o.Qty / lot,
				FilledLots:  o.Filled / lot,
			}
		},
	})
}
