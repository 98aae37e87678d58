package session

import (
	"encoding/json"
	"sort"

	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/internal/metrics"
)

func (c *Connection) handleFrame(t *transport, data []byte) {
	var frame inFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.WithError(err).Warn("无法解析的推送帧")
		return
	}

	switch frame.T {
	case TagReady:
		c.subscribe(t)
	case TagData:
		var payload dataPayload
		if err := json.Unmarshal(frame.D, &payload); err != nil {
			c.log.WithError(err).Warn("无法解析的数据帧")
			return
		}
		if err := c.route(payload); err != nil {
			c.log.WithError(err).Warnf("处理订阅 %d 的数据失败", payload.I)
		}
	default:
		c.log.Debugf("忽略帧类型 %d", frame.T)
	}
}

// route 按订阅 ID 把数据交给对应的存储
func (c *Connection) route(payload dataPayload) error {
	switch payload.I {
	case SubPendingOrders, SubCompletedOrders:
		var orders []domain.OrderRecord
		if err := json.Unmarshal(payload.P, &orders); err != nil {
			return err
		}
		for _, o := range orders {
			c.sinks.Orders.DataArrived(o)
		}

	case SubPositions:
		var positions []domain.PositionRecord
		if err := json.Unmarshal(payload.P, &positions); err != nil {
			return err
		}
		// 每条持仓写入都会安排一次（合并的）余额重算
		for _, p := range positions {
			p.IsBalance = false
			c.sinks.Positions.DataArrived(p)
		}

	case SubBalance:
		var bal balancePayload
		if err := json.Unmarshal(payload.P, &bal); err != nil {
			return err
		}
		c.mu.Lock()
		c.buyingPower = bal.MarginBuyingPower
		c.sellingPower = bal.MarginSellingPower
		c.mu.Unlock()
		metrics.MarginBuyingPower.Set(bal.MarginBuyingPower)
		metrics.MarginSellingPower.Set(bal.MarginSellingPower)
		c.estimate.Emit()

		if bal.Balance != nil {
			c.sinks.Positions.DataArrived(domain.PositionRecord{
				IsBalance: true,
				Currency:  bal.Balance.Currency,
				Amount:    bal.Balance.Amount,
			})
		}

	case SubExecutions:
		var trades []domain.TradeRecord
		if err := json.Unmarshal(payload.P, &trades); err != nil {
			return err
		}
		// 线上顺序不保证，按成交时间升序写入
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].Moment < trades[j].Moment })
		for _, tr := range trades {
			c.sinks.Timeline.DataArrived(tr)
		}

	default:
		c.log.Debugf("未知订阅 ID: %d", payload.I)
	}
	return nil
}
