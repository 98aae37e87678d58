package session

import "encoding/json"

// 帧类型
const (
	TagHandshake = 0  // 出站：握手
	TagSubscribe = 1  // 出站：订阅
	TagData      = 7  // 入站：订阅数据
	TagHeartbeat = 8  // 出站：心跳
	TagReady     = 12 // 入站：服务端就绪，请求订阅
)

// 订阅 ID
const (
	SubPendingOrders   = 1
	SubCompletedOrders = 2
	SubPositions       = 3
	SubBalance         = 4
	SubExecutions      = 5
)

// Subscription 固定的订阅请求，重连后原样重发
type Subscription struct {
	ID     int            `json:"id"`
	Topic  string         `json:"topic"`
	Params map[string]any `json:"params,omitempty"`
}

// Subscriptions 会话的全部订阅
var Subscriptions = []Subscription{
	{ID: SubPendingOrders, Topic: "orders.pending", Params: map[string]any{"status": "active"}},
	{ID: SubCompletedOrders, Topic: "orders.completed", Params: map[string]any{"status": "completed"}},
	{ID: SubPositions, Topic: "positions"},
	{ID: SubBalance, Topic: "balance", Params: map[string]any{"snapshot": true}},
	{ID: SubExecutions, Topic: "executions", Params: map[string]any{"status": "filled"}},
}

type outFrame struct {
	T int `json:"t"`
	D any `json:"d"`
}

type inFrame struct {
	T int             `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// subscribeRequest 订阅帧内容
type subscribeRequest struct {
	Subscription
	Token   string `json:"token"`
	TraceID string `json:"traceId"`
	SpanID  string `json:"spanId"`
}

// dataPayload 数据帧内容
type dataPayload struct {
	I int             `json:"i"`
	P json.RawMessage `json:"p"`
}

// balancePayload 余额订阅推送
type balancePayload struct {
	Balance *struct {
		Currency string  `json:"currency"`
		Amount   float64 `json:"amount"`
	} `json:"balance,omitempty"`
	MarginBuyingPower  float64 `json:"marginBuyingPower"`
	MarginSellingPower float64 `json:"marginSellingPower"`
}
