package datum

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradestream/internal/catalog"
	"github.com/betbot/tradestream/internal/common"
	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/internal/metrics"
)

// DefaultBalanceDebounce 余额重算合并窗口
const DefaultBalanceDebounce = 1000 * time.Millisecond

// PositionView 持仓/余额投影
type PositionView struct {
	Key          string          `json:"key"`
	IsBalance    bool            `json:"isBalance"`
	SymbolID     string          `json:"symbolId,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
	Qty          int64           `json:"qty,omitempty"`
	Lots         int64           `json:"lots,omitempty"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
	RealizedPnl  decimal.Decimal `json:"realizedPnl"`
	Currency     string          `json:"currency,omitempty"`
	// Size 余额：原始金额 + 所有持仓已实现盈亏；持仓：手数
	Size decimal.Decimal `json:"size"`
}

// PositionStore 持仓存储。任意持仓写入后合并触发余额重新投影。
type PositionStore struct {
	*Store[domain.PositionRecord, PositionView]

	catalog  catalog.Lookup
	debounce *common.Debouncer
}

func NewPositionStore(lookup catalog.Lookup, debounce time.Duration) *PositionStore {
	ps := &PositionStore{catalog: lookup}
	ps.Store = NewStore(KindPositions, Strategy[domain.PositionRecord, PositionView]{
		Key:     domain.PositionRecord.Key,
		Match:   matchPosition,
		Project: ps.project,
	})
	ps.debounce = common.NewDebouncer(debounce, ps.reprojectBalances)
	ps.OnArrived(func(rec domain.PositionRecord) {
		if !rec.IsBalance {
			ps.debounce.Trigger()
		}
	})
	return ps
}

func matchPosition(f Filter, p domain.PositionRecord) bool {
	switch {
	case f.IsZero():
		return true
	case f.SymbolID != "":
		return !p.IsBalance && p.SymbolID == f.SymbolID
	default:
		return p.IsBalance && p.Currency == f.Currency
	}
}

// RealizedPnl 所有证券持仓已实现盈亏之和
func (ps *PositionStore) RealizedPnl() decimal.Decimal {
	total := decimal.Zero
	ps.Each(func(rec domain.PositionRecord) {
		if !rec.IsBalance {
			total = total.Add(domain.UnscalePrice(rec.NetRealizedPnl))
		}
	})
	return total
}

// Position 按品种查询证券持仓原始记录
func (ps *PositionStore) Position(symbolID string) (domain.PositionRecord, bool) {
	rec, ok := ps.Record(domain.PositionRecord{SymbolID: symbolID}.Key())
	if !ok || rec.IsBalance {
		return domain.PositionRecord{}, false
	}
	return rec, true
}

// BalanceStatus 余额重算状态：是否有待执行的重算，以及上次重算时间
func (ps *PositionStore) BalanceStatus() (pending bool, last time.Time) {
	return ps.debounce.Pending(), ps.debounce.Last()
}

// Close 停止尚未执行的余额重算
func (ps *PositionStore) Close() {
	ps.debounce.Stop()
}

func (ps *PositionStore) project(p domain.PositionRecord) PositionView {
	if p.IsBalance {
		return PositionView{
			Key:         p.Key(),
			IsBalance:   true,
			Currency:    p.Currency,
			RealizedPnl: decimal.Zero,
			Size:        decimal.NewFromFloat(p.Amount).Add(ps.RealizedPnl()),
		}
	}
	inst, _ := ps.catalog.Instrument(p.SymbolID)
	lots := p.Qty / inst.LotSize()
	return PositionView{
		Key:          p.Key(),
		SymbolID:     p.SymbolID,
		Symbol:       inst.Symbol,
		Qty:          p.Qty,
		Lots:         lots,
		AveragePrice: domain.UnscalePrice(p.AverageInitialPrice),
		RealizedPnl:  domain.UnscalePrice(p.NetRealizedPnl),
		Currency:     p.Currency,
		Size:         decimal.NewFromInt(lots),
	}
}

func (ps *PositionStore) reprojectBalances() {
	ps.Reproject(func(p domain.PositionRecord) bool { return p.IsBalance })
	metrics.BalanceProjections.Add(1)
	var balances []domain.PositionRecord
	ps.Each(func(rec domain.PositionRecord) {
		if rec.IsBalance {
			balances = append(balances, rec)
		}
	})
	for _, rec := range balances {
		metrics.AccountBalance.Set(ps.project(rec).Size.InexactFloat64())
	}
}
