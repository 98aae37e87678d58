package domain

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus 归一化后的订单状态
type OrderStatus string

const (
	OrderStatusWorking     OrderStatus = "working"
	OrderStatusFilled      OrderStatus = "filled"
	OrderStatusCanceled    OrderStatus = "canceled"
	OrderStatusRejected    OrderStatus = "rejected"
	OrderStatusTriggered   OrderStatus = "triggered"
	OrderStatusUnspecified OrderStatus = "unspecified"
)

// venueStatuses 交易所状态 -> 归一化状态（穷举表）
var venueStatuses = map[string]OrderStatus{
	"NEW":           OrderStatusWorking,
	"PART_FILLED":   OrderStatusWorking,
	"FILLED":        OrderStatusFilled,
	"PART_CANCELED": OrderStatusCanceled,
	"CANCELED":      OrderStatusCanceled,
	"REJECTED":      OrderStatusRejected,
	"TRIGGERED":     OrderStatusTriggered,
}

// ResolveOrderStatus 把交易所状态映射为归一化状态，未知状态返回 unspecified
func ResolveOrderStatus(venue string) OrderStatus {
	if s, ok := venueStatuses[venue]; ok {
		return s
	}
	return OrderStatusUnspecified
}

// OrderRecord 订单推送记录（按 OrderID 幂等覆盖，不删除）
// Qty/Filled 为交易所原始数量，Price 为 8 位定点整数。
type OrderRecord struct {
	OrderID  string    `json:"orderId"`
	SymbolID string    `json:"symbolId"`
	Side     Side      `json:"side"`
	Type     OrderType `json:"type"`
	Status   string    `json:"status"`
	Qty      int64     `json:"qty"`
	Filled   int64     `json:"filled"`
	Price    int64     `json:"price"`
}

// ResolvedStatus 返回归一化状态
func (o OrderRecord) ResolvedStatus() OrderStatus {
	return ResolveOrderStatus(o.Status)
}

// IsWorking 订单仍在交易所挂着
func (o OrderRecord) IsWorking() bool {
	return o.ResolvedStatus() == OrderStatusWorking
}

// IsLimit 是否限价单
func (o OrderRecord) IsLimit() bool {
	return o.Type == OrderTypeLimit
}

// Remaining 未成交数量（原始单位）
func (o OrderRecord) Remaining() int64 {
	if o.Filled >= o.Qty {
		return 0
	}
	return o.Qty - o.Filled
}
